package client

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/relaymq/relaymq/internal/encoding"
	"github.com/relaymq/relaymq/internal/frames"
	"github.com/relaymq/relaymq/internal/mocks"
)

// fakeServer drives the broker side of the handshake (and whatever
// extra steps a test supplies) over one end of a net.Pipe, so the
// client under test talks real wire bytes without a TCP listener.
func fakeServer(t *testing.T, conn net.Conn, extra func(stream *frames.Stream)) {
	t.Helper()
	stream := frames.NewStream(conn)

	require.NoError(t, stream.ReadProtocolHeader())
	require.NoError(t, stream.WriteFrame(&frames.Frame{Method: &frames.ConnectionStart{
		VersionMajor: 0, VersionMinor: 9, Mechanisms: "PLAIN", Locales: "en_US",
	}}))

	f, err := stream.Next()
	require.NoError(t, err)
	_, ok := f.Method.(*frames.ConnectionStartOk)
	require.True(t, ok)

	require.NoError(t, stream.WriteFrame(&frames.Frame{Method: &frames.ConnectionTune{
		ChannelMax: 0, FrameMax: 4096, Heartbeat: 60,
	}}))

	f, err = stream.Next()
	require.NoError(t, err)
	_, ok = f.Method.(*frames.ConnectionTuneOk)
	require.True(t, ok)
	stream.SetMaxFrameSize(4096)

	if extra != nil {
		extra(stream)
	}
}

func dialOverPipe(t *testing.T, extra func(stream *frames.Stream)) (*Client, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	go fakeServer(t, serverSide, extra)

	c, err := newClient(clientSide)
	require.NoError(t, err)
	return c, serverSide
}

func TestDialNegotiatesFrameMax(t *testing.T) {
	defer leaktest.Check(t)()

	c, _ := dialOverPipe(t, nil)
	require.Equal(t, uint32(4096), c.frameMax)
	c.conn.Close()
}

func TestOpenChannelDeclareAndPublish(t *testing.T) {
	defer leaktest.Check(t)()

	done := make(chan struct{})
	c, _ := dialOverPipe(t, func(stream *frames.Stream) {
		f, err := stream.Next()
		require.NoError(t, err)
		open, ok := f.Method.(*frames.ConnectionOpen)
		require.True(t, ok)
		require.Equal(t, "/", open.VirtualHost)
		require.NoError(t, stream.WriteFrame(&frames.Frame{Method: &frames.ConnectionOpenOk{}}))

		f, err = stream.Next()
		require.NoError(t, err)
		_, ok = f.Method.(*frames.ChannelOpen)
		require.True(t, ok)
		require.NoError(t, stream.WriteFrame(&frames.Frame{Channel: 1, Method: &frames.ChannelOpenOk{}}))

		f, err = stream.Next()
		require.NoError(t, err)
		decl, ok := f.Method.(*frames.ExchangeDeclare)
		require.True(t, ok)
		require.Equal(t, "orders", decl.ExchangeName)
		require.NoError(t, stream.WriteFrame(&frames.Frame{Channel: 1, Method: &frames.ExchangeDeclareOk{}}))

		f, err = stream.Next()
		require.NoError(t, err)
		_, ok = f.Method.(*frames.BasicPublish)
		require.True(t, ok)
		f, err = stream.Next()
		require.NoError(t, err)
		require.NotNil(t, f.Header)
		require.Equal(t, uint64(5), f.Header.BodySize)
		f, err = stream.Next()
		require.NoError(t, err)
		require.Equal(t, []byte("hello"), f.Body)

		close(done)
	})

	require.NoError(t, c.Open("/"))
	require.NoError(t, c.ChannelOpen(1))
	require.NoError(t, c.ExchangeDeclare(1, "orders", "direct", false, true, false, false, nil))
	require.NoError(t, c.BasicPublish(1, "orders", "created", nil, []byte("hello")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never observed the expected frames")
	}
	c.conn.Close()
}

func TestBasicConsumeDeliversMessage(t *testing.T) {
	defer leaktest.Check(t)()

	c, _ := dialOverPipe(t, func(stream *frames.Stream) {
		f, err := stream.Next()
		require.NoError(t, err)
		consume, ok := f.Method.(*frames.BasicConsume)
		require.True(t, ok)
		require.NoError(t, stream.WriteFrame(&frames.Frame{Channel: 1, Method: &frames.BasicConsumeOk{ConsumerTag: consume.ConsumerTag}}))

		require.NoError(t, stream.WriteFrame(&frames.Frame{Channel: 1, Method: &frames.BasicDeliver{
			ConsumerTag: consume.ConsumerTag, DeliveryTag: 1, ExchangeName: "orders", RoutingKey: "created",
		}}))
		require.NoError(t, stream.WriteFrame(&frames.Frame{Channel: 1, Header: &frames.ContentHeader{
			ClassID: frames.ClassBasic, BodySize: 3,
		}}))
		require.NoError(t, stream.WriteFrame(&frames.Frame{Channel: 1, Body: []byte("abc")}))
	})

	sink := make(chan *Message, 1)
	tag, err := c.BasicConsume(1, "orders-queue", "", sink)
	require.NoError(t, err)
	require.NotEmpty(t, tag)

	select {
	case msg := <-sink:
		require.Equal(t, "orders", msg.Exchange)
		require.Equal(t, "created", msg.RoutingKey)
		require.Equal(t, []byte("abc"), msg.Body)
		require.Equal(t, tag, msg.ConsumerTag)
	case <-time.After(2 * time.Second):
		t.Fatal("message was never delivered to the sink")
	}

	c.conn.Close()
}

func TestChannelCloseSurfacesAsClientError(t *testing.T) {
	defer leaktest.Check(t)()

	c, _ := dialOverPipe(t, func(stream *frames.Stream) {
		f, err := stream.Next()
		require.NoError(t, err)
		_, ok := f.Method.(*frames.QueueDeclare)
		require.True(t, ok)
		require.NoError(t, stream.WriteFrame(&frames.Frame{Channel: 1, Method: &frames.ChannelClose{
			ReplyCode: 404, ReplyText: "no queue", FailingClassID: frames.ClassQueue, FailingMethodID: frames.MethodQueueDeclare,
		}}))

		f, err = stream.Next()
		require.NoError(t, err)
		_, ok = f.Method.(*frames.ChannelCloseOk)
		require.True(t, ok)
	})

	_, _, _, err := c.QueueDeclare(1, "missing", true, false, false, false, encoding.Table{})
	require.Error(t, err)
	cerr, ok := err.(*ClientError)
	require.True(t, ok)
	require.Equal(t, uint16(404), cerr.Code)

	c.conn.Close()
}

// TestDialFailsOnHandshakeWriteError uses the scripted-responder mock
// connection rather than net.Pipe, since what's under test is a
// transport write failure mid-handshake (a broken pipe, a reset
// connection) rather than a scripted peer reply.
func TestDialFailsOnHandshakeWriteError(t *testing.T) {
	defer leaktest.Check(t)()

	writeErr := errors.New("simulated transport failure")
	conn := mocks.NewConnection(func(raw *frames.RawFrame) ([]byte, error) {
		if raw.Type == frames.TypeMethod {
			return nil, writeErr
		}
		return nil, nil
	})
	require.NoError(t, conn.SendFrame(&frames.Frame{Method: &frames.ConnectionStart{
		VersionMajor: 0, VersionMinor: 9, Mechanisms: "PLAIN", Locales: "en_US",
	}}))

	_, err := DialConn(conn)
	require.Error(t, err)
	require.Contains(t, err.Error(), "simulated transport failure")
}
