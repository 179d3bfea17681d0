// Package mocks provides a net.Conn double for exercising the client
// package's wire handling without a real TCP socket.
package mocks

import (
	"errors"
	"math"
	"net"
	"time"

	"github.com/relaymq/relaymq/internal/buffer"
	"github.com/relaymq/relaymq/internal/frames"
)

// NewConnection creates a new instance of MockConnection. Responder is
// invoked by Write when a complete raw frame has been received; the
// protocol header is consumed without calling it. Return a nil slice/nil
// error to swallow the frame, or a non-nil error to simulate a write
// failure.
func NewConnection(resp func(*frames.RawFrame) ([]byte, error)) *MockConnection {
	return &MockConnection{
		resp: resp,
		// During shutdown the reader and writer sides can close in
		// either order since both return on readClose closing; buffer
		// reads so a straggling Write doesn't block on a reader that
		// already quit.
		readData:  make(chan []byte, 10),
		readClose: make(chan struct{}),
		readDL:    time.NewTimer(24 * time.Hour),
	}
}

// MockConnection is a mock connection that satisfies the net.Conn
// interface, decoding whatever the client writes as a raw AMQP frame
// and handing it to the responder callback (the protocol header is
// consumed silently).
type MockConnection struct {
	resp      func(*frames.RawFrame) ([]byte, error)
	readDL    *time.Timer
	readData  chan []byte
	readClose chan struct{}
	pending   []byte
	closed    bool
}

// NOTE: Read, Write, and Close are all called by separate goroutines,
// same as a real net.Conn would be used by the client's mux.

// Read is invoked by the client's stream to receive frame data. It
// blocks until Write or Close are called, or the read deadline
// expires.
func (m *MockConnection) Read(b []byte) (n int, err error) {
	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	default:
	}

	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	case <-m.readDL.C:
		return 0, errors.New("mock connection read deadline exceeded")
	case rd := <-m.readData:
		return copy(b, rd), nil
	}
}

// Write is invoked when the client sends frame data. Bytes accumulate
// in pending until a complete protocol header or raw frame is
// available. A protocol header is dropped; for a raw frame the responder
// callback runs once. Each Write call handles at most one header or
// frame; any further bytes stay in pending.
func (m *MockConnection) Write(b []byte) (n int, err error) {
	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	default:
	}

	m.pending = append(m.pending, b...)

	if len(m.pending) >= len(frames.ProtocolHeader) && string(m.pending[:4]) == "AMQP" {
		m.pending = m.pending[len(frames.ProtocolHeader):]
		return len(b), nil
	}

	raw, consumed, err := frames.DecodeRaw(m.pending, 0)
	if err != nil {
		if err == frames.ErrNeedMoreData {
			return len(b), nil
		}
		return 0, err
	}
	m.pending = m.pending[consumed:]

	resp, err := m.resp(raw)
	if err != nil {
		return 0, err
	}
	if resp != nil {
		m.readData <- resp
	}
	return len(b), nil
}

// Close is called when the client's connection is torn down.
func (m *MockConnection) Close() error {
	if m.closed {
		return errors.New("double close")
	}
	m.closed = true
	close(m.readClose)
	return nil
}

// SendFrame pushes an encoded frame onto the client's next Read,
// for unsolicited frames (a basic.deliver, a connection.close) that
// aren't a direct reply to a Write.
func (m *MockConnection) SendFrame(f *frames.Frame) error {
	raw, err := frames.Encode(f)
	if err != nil {
		return err
	}
	wr := buffer.Get()
	defer wr.Release()
	frames.EncodeRaw(wr, raw)
	m.readData <- append([]byte(nil), wr.Bytes()...)
	return nil
}

func (*MockConnection) LocalAddr() net.Addr  { return mockAddr("mock") }
func (*MockConnection) RemoteAddr() net.Addr { return mockAddr("mock") }

func (m *MockConnection) SetDeadline(t time.Time) error {
	return m.SetReadDeadline(t)
}

func (m *MockConnection) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		m.readDL.Reset(math.MaxInt64)
		return nil
	}
	m.readDL.Reset(time.Until(t))
	return nil
}

func (m *MockConnection) SetWriteDeadline(time.Time) error { return nil }

type mockAddr string

func (a mockAddr) Network() string { return "mock" }
func (a mockAddr) String() string  { return string(a) }
