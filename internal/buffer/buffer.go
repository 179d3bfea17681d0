// Package buffer provides a small pooled byte buffer used by the codec to
// encode frames, and a Reader cursor used to decode a frame's payload.
package buffer

import (
	"encoding/binary"
	"errors"

	"github.com/valyala/bytebufferpool"
)

// ErrInsufficientBytes is returned by the Read* helpers when the buffer
// does not contain enough bytes to satisfy the request.
var ErrInsufficientBytes = errors.New("buffer: insufficient bytes")

// Buffer is a growable write buffer backed by a pooled byte slice. Get
// acquires one from the package pool; Release returns it.
type Buffer struct {
	bb *bytebufferpool.ByteBuffer
}

// Get acquires a Buffer from the pool. Callers must call Release when done.
func Get() *Buffer {
	return &Buffer{bb: bytebufferpool.Get()}
}

// Release returns the underlying storage to the pool. The Buffer must not
// be used afterward.
func (b *Buffer) Release() {
	if b.bb != nil {
		bytebufferpool.Put(b.bb)
		b.bb = nil
	}
}

// Reset empties the buffer without releasing its storage.
func (b *Buffer) Reset() {
	b.bb.Reset()
}

// Len returns the number of bytes currently written.
func (b *Buffer) Len() int {
	return b.bb.Len()
}

// Bytes returns the written bytes. The slice is only valid until the next
// write or Release.
func (b *Buffer) Bytes() []byte {
	return b.bb.Bytes()
}

func (b *Buffer) AppendByte(v byte) {
	_ = b.bb.WriteByte(v)
}

func (b *Buffer) AppendBytes(p []byte) {
	_, _ = b.bb.Write(p)
}

func (b *Buffer) AppendUint16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.AppendBytes(tmp[:])
}

func (b *Buffer) AppendUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.AppendBytes(tmp[:])
}

func (b *Buffer) AppendUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.AppendBytes(tmp[:])
}

// Reader is a read-only cursor over a byte slice used while decoding a
// single frame payload. It never reads past len(buf); Read* helpers report
// ErrInsufficientBytes rather than panicking on short input.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) ReadByte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, ErrInsufficientBytes
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrInsufficientBytes
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}
