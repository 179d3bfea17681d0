// Package frames implements the AMQP 0-9-1 frame codec: turning a byte
// stream into typed frames and back. The split between a low-level raw
// frame (type/channel/length/payload/terminator) and a higher-level typed
// Frame mirrors the teacher library's split between its wire-level buffer
// handling and its frames.FrameBody catalogue.
package frames

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/relaymq/relaymq/internal/buffer"
)

// Frame type codes.
const (
	TypeMethod    uint8 = 1
	TypeHeader    uint8 = 2
	TypeBody      uint8 = 3
	TypeHeartbeat uint8 = 8
)

// FrameEnd is the mandatory frame terminator octet.
const FrameEnd = 0xCE

// ProtocolHeader is the fixed 8-byte preamble exchanged before any framed
// traffic: "AMQP" followed by the protocol id and version.
var ProtocolHeader = [8]byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

// ErrNeedMoreData indicates the supplied bytes do not yet contain a
// complete frame; the caller must read more from the transport and retry
// without discarding what it already has.
var ErrNeedMoreData = errors.New("frames: need more data")

// ErrBadTerminator indicates a frame's final byte was not 0xCE. This is
// always a connection-level protocol error.
var ErrBadTerminator = errors.New("frames: frame did not end with 0xCE")

// ErrFrameTooLarge indicates a frame's declared length exceeds the
// negotiated frame-max and is always a connection-level protocol error.
var ErrFrameTooLarge = errors.New("frames: frame exceeds negotiated frame-max")

const rawHeaderLen = 1 + 2 + 4 // type + channel + length

// RawFrame is the untyped wire representation: header fields plus an
// opaque payload, before method/content-header interpretation.
type RawFrame struct {
	Type    uint8
	Channel uint16
	Payload []byte
}

// DecodeRaw attempts to parse one raw frame from the front of buf. On
// success it returns the frame and the number of bytes consumed. If buf
// does not yet hold a complete frame it returns ErrNeedMoreData and 0
// consumed bytes without touching buf. maxFrameSize of 0 disables the
// frame-max check (used before tuning completes).
func DecodeRaw(buf []byte, maxFrameSize uint32) (*RawFrame, int, error) {
	if len(buf) < rawHeaderLen {
		return nil, 0, ErrNeedMoreData
	}

	typ := buf[0]
	channel := uint16(buf[1])<<8 | uint16(buf[2])
	length := uint32(buf[3])<<24 | uint32(buf[4])<<16 | uint32(buf[5])<<8 | uint32(buf[6])

	if maxFrameSize != 0 && length > maxFrameSize {
		return nil, 0, ErrFrameTooLarge
	}

	total := rawHeaderLen + int(length) + 1
	if len(buf) < total {
		return nil, 0, ErrNeedMoreData
	}

	payload := buf[rawHeaderLen : rawHeaderLen+int(length)]
	terminator := buf[rawHeaderLen+int(length)]
	if terminator != FrameEnd {
		// Resynchronize on the claimed frame boundary: consume exactly
		// what the length prefix promised, no more, so the caller's next
		// decode attempt starts at a well-defined offset.
		return nil, total, ErrBadTerminator
	}

	return &RawFrame{Type: typ, Channel: channel, Payload: payload}, total, nil
}

// EncodeRaw appends the wire encoding of a raw frame to wr.
func EncodeRaw(wr *buffer.Buffer, f *RawFrame) {
	wr.AppendByte(f.Type)
	wr.AppendUint16(f.Channel)
	wr.AppendUint32(uint32(len(f.Payload)))
	wr.AppendBytes(f.Payload)
	wr.AppendByte(FrameEnd)
}

// Frame is the decoded, typed variant spec.md describes: a protocol
// header, a method call, a content header, a content body, or a
// heartbeat.
type Frame struct {
	Channel uint16
	Method  Method
	Header  *ContentHeader
	Body    []byte
	IsHeartbeat bool
}

// Decode interprets a RawFrame's payload according to its type.
func Decode(raw *RawFrame) (*Frame, error) {
	switch raw.Type {
	case TypeMethod:
		r := buffer.NewReader(raw.Payload)
		classID, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		methodID, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		m, err := NewMethod(classID, methodID)
		if err != nil {
			return nil, err
		}
		if err := m.Unmarshal(r); err != nil {
			return nil, err
		}
		return &Frame{Channel: raw.Channel, Method: m}, nil

	case TypeHeader:
		r := buffer.NewReader(raw.Payload)
		h, err := decodeContentHeader(r)
		if err != nil {
			return nil, err
		}
		return &Frame{Channel: raw.Channel, Header: h}, nil

	case TypeBody:
		return &Frame{Channel: raw.Channel, Body: raw.Payload}, nil

	case TypeHeartbeat:
		return &Frame{Channel: raw.Channel, IsHeartbeat: true}, nil

	default:
		return nil, fmt.Errorf("frames: unknown frame type %d", raw.Type)
	}
}

// Encode produces the RawFrame for a typed Frame.
func Encode(f *Frame) (*RawFrame, error) {
	switch {
	case f.Method != nil:
		wr := buffer.Get()
		defer wr.Release()
		wr.AppendUint16(f.Method.ClassID())
		wr.AppendUint16(f.Method.MethodID())
		if err := f.Method.Marshal(wr); err != nil {
			return nil, err
		}
		payload := append([]byte(nil), wr.Bytes()...)
		return &RawFrame{Type: TypeMethod, Channel: f.Channel, Payload: payload}, nil

	case f.Header != nil:
		wr := buffer.Get()
		defer wr.Release()
		encodeContentHeader(wr, f.Header)
		payload := append([]byte(nil), wr.Bytes()...)
		return &RawFrame{Type: TypeHeader, Channel: f.Channel, Payload: payload}, nil

	case f.IsHeartbeat:
		return &RawFrame{Type: TypeHeartbeat, Channel: f.Channel, Payload: nil}, nil

	default:
		return &RawFrame{Type: TypeBody, Channel: f.Channel, Payload: f.Body}, nil
	}
}

// Stream wraps a net.Conn with the accumulation buffer needed to turn a
// byte stream into a sequence of frames, hiding "need more data" retries
// from callers. It owns no locks: one Stream is used by exactly one
// connection's single reader goroutine, matching spec.md's single-producer
// ordering guarantee.
type Stream struct {
	conn         net.Conn
	buf          []byte
	maxFrameSize uint32
	readBuf      [4096]byte
}

func NewStream(conn net.Conn) *Stream {
	return &Stream{conn: conn}
}

// SetMaxFrameSize updates the negotiated frame-max used to reject
// oversized frames; call once connection.tune-ok is received.
func (s *Stream) SetMaxFrameSize(n uint32) {
	s.maxFrameSize = n
}

// ReadProtocolHeader reads and validates the fixed 8-byte preamble.
func (s *Stream) ReadProtocolHeader() error {
	for len(s.buf) < len(ProtocolHeader) {
		if err := s.fill(); err != nil {
			return err
		}
	}
	if !bytes.Equal(s.buf[:len(ProtocolHeader)], ProtocolHeader[:]) {
		return fmt.Errorf("frames: invalid protocol header %x", s.buf[:len(ProtocolHeader)])
	}
	s.buf = s.buf[len(ProtocolHeader):]
	return nil
}

// WriteProtocolHeader writes the fixed preamble.
func (s *Stream) WriteProtocolHeader() error {
	_, err := s.conn.Write(ProtocolHeader[:])
	return err
}

// Next blocks until a complete frame is available, reading from the
// underlying connection as needed, and returns it decoded.
func (s *Stream) Next() (*Frame, error) {
	for {
		raw, consumed, err := DecodeRaw(s.buf, s.maxFrameSize)
		if err == nil {
			s.buf = s.buf[consumed:]
			return Decode(raw)
		}
		if errors.Is(err, ErrBadTerminator) {
			s.buf = s.buf[consumed:]
			return nil, err
		}
		if !errors.Is(err, ErrNeedMoreData) {
			return nil, err
		}
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
}

func (s *Stream) fill() error {
	n, err := s.conn.Read(s.readBuf[:])
	if n > 0 {
		s.buf = append(s.buf, s.readBuf[:n]...)
	}
	if err != nil {
		if n > 0 && errors.Is(err, io.EOF) {
			// Deliver what we read before surfacing EOF on the next call.
			return nil
		}
		return err
	}
	return nil
}

// WriteFrame encodes and writes f to the connection.
func (s *Stream) WriteFrame(f *Frame) error {
	raw, err := Encode(f)
	if err != nil {
		return err
	}
	wr := buffer.Get()
	defer wr.Release()
	EncodeRaw(wr, raw)
	_, err = s.conn.Write(wr.Bytes())
	return err
}
