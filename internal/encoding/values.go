// Package encoding implements the typed field-value codec shared by method
// arguments and field tables, following the teacher library's pattern of a
// small code-tagged variant with symmetric marshal/unmarshal methods
// operating on a shared buffer (see Azure/go-amqp's types.go, whose
// typeCode table and per-type marshal(wr)/unmarshal(r) methods this
// package's shape is modeled on).
package encoding

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/relaymq/relaymq/internal/buffer"
)

// code tags a field-table value. Unlike the AMQP 1.0 type system the
// teacher encodes, 0-9-1 field values used by this profile are a small,
// fixed set, so plain byte tags (rather than a whole composite-type
// catalogue) are all that's required.
type code byte

const (
	codeBool      code = 0x01
	codeInt8      code = 0x02
	codeUint8     code = 0x03
	codeInt16     code = 0x04
	codeUint16    code = 0x05
	codeInt32     code = 0x06
	codeUint32    code = 0x07
	codeInt64     code = 0x08
	codeUint64    code = 0x09
	codeFloat32   code = 0x0A
	codeFloat64   code = 0x0B
	codeShortStr  code = 0x0C
	codeLongStr   code = 0x0D
	codeTimestamp code = 0x0E
	codeTable     code = 0x0F
)

// LongString is a field value whose length prefix is 4 bytes and whose
// content is not restricted to 255 bytes, as opposed to a plain Go string
// which this package always treats as an AMQP short string.
type LongString string

// Timestamp is a 64-bit value representing seconds since the Unix epoch.
type Timestamp int64

func TimestampFromTime(t time.Time) Timestamp { return Timestamp(t.Unix()) }
func (t Timestamp) Time() time.Time           { return time.Unix(int64(t), 0).UTC() }

// Table is an AMQP field table: a mapping of short-string keys to typed
// values. Supported value kinds: bool, int8/16/32/64, uint8/16/32/64,
// float32/64, string (short), LongString, Timestamp, Table (nested).
type Table map[string]interface{}

const maxShortStringLen = 255

// MarshalValue appends the type-tagged encoding of v to wr.
func MarshalValue(wr *buffer.Buffer, v interface{}) error {
	switch val := v.(type) {
	case bool:
		wr.AppendByte(byte(codeBool))
		if val {
			wr.AppendByte(1)
		} else {
			wr.AppendByte(0)
		}
	case int8:
		wr.AppendByte(byte(codeInt8))
		wr.AppendByte(byte(val))
	case uint8:
		wr.AppendByte(byte(codeUint8))
		wr.AppendByte(val)
	case int16:
		wr.AppendByte(byte(codeInt16))
		wr.AppendUint16(uint16(val))
	case uint16:
		wr.AppendByte(byte(codeUint16))
		wr.AppendUint16(val)
	case int32:
		wr.AppendByte(byte(codeInt32))
		wr.AppendUint32(uint32(val))
	case uint32:
		wr.AppendByte(byte(codeUint32))
		wr.AppendUint32(val)
	case int64:
		wr.AppendByte(byte(codeInt64))
		wr.AppendUint64(uint64(val))
	case uint64:
		wr.AppendByte(byte(codeUint64))
		wr.AppendUint64(val)
	case float32:
		wr.AppendByte(byte(codeFloat32))
		wr.AppendUint32(math.Float32bits(val))
	case float64:
		wr.AppendByte(byte(codeFloat64))
		wr.AppendUint64(math.Float64bits(val))
	case string:
		wr.AppendByte(byte(codeShortStr))
		return marshalShortStringBody(wr, val)
	case LongString:
		wr.AppendByte(byte(codeLongStr))
		marshalLongStringBody(wr, string(val))
	case Timestamp:
		wr.AppendByte(byte(codeTimestamp))
		wr.AppendUint64(uint64(val))
	case Table:
		wr.AppendByte(byte(codeTable))
		return marshalTableBody(wr, val)
	default:
		return fmt.Errorf("encoding: unsupported field value type %T", v)
	}
	return nil
}

// UnmarshalValue reads one type-tagged value from r.
func UnmarshalValue(r *buffer.Reader) (interface{}, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch code(tag) {
	case codeBool:
		b, err := r.ReadByte()
		return b != 0, err
	case codeInt8:
		b, err := r.ReadByte()
		return int8(b), err
	case codeUint8:
		b, err := r.ReadByte()
		return b, err
	case codeInt16:
		v, err := r.ReadUint16()
		return int16(v), err
	case codeUint16:
		return r.ReadUint16()
	case codeInt32:
		v, err := r.ReadUint32()
		return int32(v), err
	case codeUint32:
		return r.ReadUint32()
	case codeInt64:
		v, err := r.ReadUint64()
		return int64(v), err
	case codeUint64:
		return r.ReadUint64()
	case codeFloat32:
		v, err := r.ReadUint32()
		return math.Float32frombits(v), err
	case codeFloat64:
		v, err := r.ReadUint64()
		return math.Float64frombits(v), err
	case codeShortStr:
		return unmarshalShortStringBody(r)
	case codeLongStr:
		s, err := unmarshalLongStringBody(r)
		return LongString(s), err
	case codeTimestamp:
		v, err := r.ReadUint64()
		return Timestamp(v), err
	case codeTable:
		return unmarshalTableBody(r)
	default:
		return nil, fmt.Errorf("encoding: unknown field value tag 0x%02x", tag)
	}
}

// MarshalShortString writes an untagged short string: a 1-byte length
// prefix followed by up to 255 bytes of UTF-8.
func MarshalShortString(wr *buffer.Buffer, s string) error {
	return marshalShortStringBody(wr, s)
}

func marshalShortStringBody(wr *buffer.Buffer, s string) error {
	if len(s) > maxShortStringLen {
		return fmt.Errorf("encoding: short string exceeds %d bytes (got %d)", maxShortStringLen, len(s))
	}
	wr.AppendByte(byte(len(s)))
	wr.AppendBytes([]byte(s))
	return nil
}

// UnmarshalShortString reads an untagged short string.
func UnmarshalShortString(r *buffer.Reader) (string, error) {
	return unmarshalShortStringBody(r)
}

func unmarshalShortStringBody(r *buffer.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MarshalLongString writes an untagged long string: a 4-byte length prefix
// followed by arbitrary bytes.
func MarshalLongString(wr *buffer.Buffer, s string) {
	marshalLongStringBody(wr, s)
}

func marshalLongStringBody(wr *buffer.Buffer, s string) {
	wr.AppendUint32(uint32(len(s)))
	wr.AppendBytes([]byte(s))
}

// UnmarshalLongString reads an untagged long string.
func UnmarshalLongString(r *buffer.Reader) (string, error) {
	return unmarshalLongStringBody(r)
}

func unmarshalLongStringBody(r *buffer.Reader) (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MarshalTable writes an untagged field table: a 4-byte length prefix
// (byte length of the encoded entries) followed by short-string-keyed,
// type-tagged entries. Keys are sorted for deterministic output, which
// keeps round-trip tests and golden frames stable.
func MarshalTable(wr *buffer.Buffer, t Table) error {
	return marshalTableBody(wr, t)
}

func marshalTableBody(wr *buffer.Buffer, t Table) error {
	body := buffer.Get()
	defer body.Release()

	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := marshalShortStringBody(body, k); err != nil {
			return err
		}
		if err := MarshalValue(body, t[k]); err != nil {
			return err
		}
	}

	wr.AppendUint32(uint32(body.Len()))
	wr.AppendBytes(body.Bytes())
	return nil
}

// UnmarshalTable reads an untagged field table.
func UnmarshalTable(r *buffer.Reader) (Table, error) {
	return unmarshalTableBody(r)
}

func unmarshalTableBody(r *buffer.Reader) (Table, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	body, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}

	sub := buffer.NewReader(body)
	t := make(Table)
	for sub.Remaining() > 0 {
		k, err := unmarshalShortStringBody(sub)
		if err != nil {
			return nil, err
		}
		v, err := UnmarshalValue(sub)
		if err != nil {
			return nil, err
		}
		t[k] = v
	}
	return t, nil
}

// PackBits encodes up to 8 consecutive booleans into a single byte,
// low-order bit first, per the AMQP "bit" packing rule for consecutive
// boolean method arguments.
func PackBits(bits []bool) byte {
	var b byte
	for i, v := range bits {
		if i >= 8 {
			break
		}
		if v {
			b |= 1 << uint(i)
		}
	}
	return b
}

// UnpackBits decodes up to 8 booleans from a single packed byte.
func UnpackBits(b byte, n int) []bool {
	if n > 8 {
		n = 8
	}
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = b&(1<<uint(i)) != 0
	}
	return out
}

// MarshalBools appends ceil(len(bits)/8) packed bytes encoding bits,
// low-order bit first within each byte.
func MarshalBools(wr *buffer.Buffer, bits []bool) {
	for i := 0; i < len(bits); i += 8 {
		end := i + 8
		if end > len(bits) {
			end = len(bits)
		}
		wr.AppendByte(PackBits(bits[i:end]))
	}
}

// UnmarshalBools reads ceil(n/8) packed bytes and returns n booleans.
func UnmarshalBools(r *buffer.Reader, n int) ([]bool, error) {
	out := make([]bool, 0, n)
	for len(out) < n {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		remaining := n - len(out)
		out = append(out, UnpackBits(b, remaining)...)
	}
	return out, nil
}
