package frames

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymq/relaymq/internal/buffer"
	"github.com/relaymq/relaymq/internal/encoding"
)

func TestMethodFrameRoundTrip(t *testing.T) {
	f := &Frame{
		Channel: 1,
		Method: &QueueDeclare{
			QueueName: "orders",
			Durable:   true,
			Arguments: encoding.Table{"x-max-length": int32(10)},
		},
	}

	raw, err := Encode(f)
	require.NoError(t, err)
	require.Equal(t, TypeMethod, raw.Type)
	require.Equal(t, uint16(1), raw.Channel)

	wr := buffer.Get()
	defer wr.Release()
	EncodeRaw(wr, raw)

	decodedRaw, consumed, err := DecodeRaw(wr.Bytes(), 0)
	require.NoError(t, err)
	require.Equal(t, wr.Len(), consumed)

	got, err := Decode(decodedRaw)
	require.NoError(t, err)
	require.IsType(t, &QueueDeclare{}, got.Method)

	qd := got.Method.(*QueueDeclare)
	require.Equal(t, "orders", qd.QueueName)
	require.True(t, qd.Durable)
	require.Equal(t, int32(10), qd.Arguments["x-max-length"])
}

func TestContentHeaderFrameRoundTrip(t *testing.T) {
	ct := "text/plain"
	ts := encoding.Timestamp(1700000000)
	f := &Frame{
		Channel: 2,
		Header: &ContentHeader{
			ClassID:     ClassBasic,
			BodySize:    42,
			ContentType: &ct,
			Timestamp:   &ts,
			Headers:     encoding.Table{"x-match": "all"},
		},
	}

	raw, err := Encode(f)
	require.NoError(t, err)
	require.Equal(t, TypeHeader, raw.Type)

	r := buffer.NewReader(raw.Payload)
	h, err := decodeContentHeader(r)
	require.NoError(t, err)
	require.Equal(t, uint64(42), h.BodySize)
	require.NotNil(t, h.ContentType)
	require.Equal(t, "text/plain", *h.ContentType)
	require.NotNil(t, h.Timestamp)
	require.Equal(t, ts, *h.Timestamp)
	require.Nil(t, h.ReplyTo)
	require.Equal(t, "all", h.Headers["x-match"])
}

func TestBadTerminatorConsumesClaimedLength(t *testing.T) {
	wr := buffer.Get()
	defer wr.Release()
	EncodeRaw(wr, &RawFrame{Type: TypeBody, Channel: 0, Payload: []byte("abc")})
	b := wr.Bytes()
	b[len(b)-1] = 0x00 // corrupt terminator

	_, consumed, err := DecodeRaw(b, 0)
	require.ErrorIs(t, err, ErrBadTerminator)
	require.Equal(t, len(b), consumed)
}

func TestFrameTooLarge(t *testing.T) {
	wr := buffer.Get()
	defer wr.Release()
	EncodeRaw(wr, &RawFrame{Type: TypeBody, Channel: 0, Payload: make([]byte, 1000)})

	_, _, err := DecodeRaw(wr.Bytes(), 100)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestNeedMoreDataLeavesBufferUntouched(t *testing.T) {
	wr := buffer.Get()
	defer wr.Release()
	EncodeRaw(wr, &RawFrame{Type: TypeBody, Channel: 0, Payload: []byte("hello")})
	truncated := append([]byte(nil), wr.Bytes()[:5]...)

	_, consumed, err := DecodeRaw(truncated, 0)
	require.ErrorIs(t, err, ErrNeedMoreData)
	require.Equal(t, 0, consumed)
}

func TestStreamDecodesConcatenatedFramesWithNoResidue(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	frame1 := &Frame{Channel: 0, Method: &ConnectionOpen{VirtualHost: "/"}}
	frame2 := &Frame{Channel: 1, Body: []byte("payload-two")}

	wr := buffer.Get()
	defer wr.Release()
	raw1, err := Encode(frame1)
	require.NoError(t, err)
	raw2, err := Encode(frame2)
	require.NoError(t, err)
	EncodeRaw(wr, raw1)
	EncodeRaw(wr, raw2)
	payload := append([]byte(nil), wr.Bytes()...)

	done := make(chan error, 1)
	go func() {
		_, err := clientConn.Write(payload)
		done <- err
	}()

	stream := NewStream(serverConn)
	got1, err := stream.Next()
	require.NoError(t, err)
	require.IsType(t, &ConnectionOpen{}, got1.Method)

	got2, err := stream.Next()
	require.NoError(t, err)
	require.Equal(t, "payload-two", string(got2.Body))
	require.Empty(t, stream.buf)

	require.NoError(t, <-done)
}

func TestUnknownMethodError(t *testing.T) {
	_, err := NewMethod(999, 1)
	require.Error(t, err)
	var unknownErr *UnknownMethodError
	require.ErrorAs(t, err, &unknownErr)
}
