package broker_test

import (
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaymq/relaymq/broker"
	clientpkg "github.com/relaymq/relaymq/client"
	"github.com/relaymq/relaymq/internal/encoding"
	"github.com/relaymq/relaymq/internal/frames"
)

func headerWith(t encoding.Table) *frames.ContentHeader {
	return &frames.ContentHeader{Headers: t}
}

// dialBroker starts one Connection actor over a net.Pipe and returns a
// client dialed against the other end, so every test below drives the
// real wire protocol without a TCP listener.
func dialBroker(t *testing.T) *clientpkg.Client {
	t.Helper()
	b := broker.New(zap.NewNop())

	clientSide, serverSide := net.Pipe()
	conn := broker.NewConnection(serverSide, b.Exchanges, b.Queues, zap.NewNop())
	go conn.Serve()

	c, err := clientpkg.DialConn(clientSide)
	require.NoError(t, err)
	require.NoError(t, c.Open("/"))
	return c
}

func TestFanoutExchangeDeliversToAllBoundQueues(t *testing.T) {
	defer leaktest.Check(t)()
	c := dialBroker(t)
	defer c.Close()

	require.NoError(t, c.ChannelOpen(1))
	require.NoError(t, c.ExchangeDeclare(1, "logs", "fanout", false, false, false, false, nil))

	qA, _, _, err := c.QueueDeclare(1, "", false, false, true, false, nil)
	require.NoError(t, err)
	qB, _, _, err := c.QueueDeclare(1, "", false, false, true, false, nil)
	require.NoError(t, err)
	require.NotEqual(t, qA, qB)

	require.NoError(t, c.QueueBind(1, qA, "logs", "", nil))
	require.NoError(t, c.QueueBind(1, qB, "logs", "", nil))

	sinkA := make(chan *clientpkg.Message, 1)
	sinkB := make(chan *clientpkg.Message, 1)
	_, err = c.BasicConsume(1, qA, "", sinkA)
	require.NoError(t, err)
	_, err = c.BasicConsume(1, qB, "", sinkB)
	require.NoError(t, err)

	require.NoError(t, c.BasicPublish(1, "logs", "ignored-for-fanout", nil, []byte("broadcast")))

	for _, sink := range []chan *clientpkg.Message{sinkA, sinkB} {
		select {
		case msg := <-sink:
			require.Equal(t, []byte("broadcast"), msg.Body)
		case <-time.After(2 * time.Second):
			t.Fatal("fanout message never arrived")
		}
	}
}

func TestDirectExchangeRoutesByExactKey(t *testing.T) {
	defer leaktest.Check(t)()
	c := dialBroker(t)
	defer c.Close()

	require.NoError(t, c.ChannelOpen(1))
	require.NoError(t, c.ExchangeDeclare(1, "orders", "direct", false, false, false, false, nil))

	created, _, _, err := c.QueueDeclare(1, "", false, false, true, false, nil)
	require.NoError(t, err)
	shipped, _, _, err := c.QueueDeclare(1, "", false, false, true, false, nil)
	require.NoError(t, err)

	require.NoError(t, c.QueueBind(1, created, "orders", "order.created", nil))
	require.NoError(t, c.QueueBind(1, shipped, "orders", "order.shipped", nil))

	sinkCreated := make(chan *clientpkg.Message, 1)
	sinkShipped := make(chan *clientpkg.Message, 1)
	_, err = c.BasicConsume(1, created, "", sinkCreated)
	require.NoError(t, err)
	_, err = c.BasicConsume(1, shipped, "", sinkShipped)
	require.NoError(t, err)

	require.NoError(t, c.BasicPublish(1, "orders", "order.created", nil, []byte("order-1")))

	select {
	case msg := <-sinkCreated:
		require.Equal(t, []byte("order-1"), msg.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("direct-routed message never arrived at the matching queue")
	}
	select {
	case msg := <-sinkShipped:
		t.Fatalf("unexpected delivery to non-matching queue: %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelErrorIsolatesOnlyThatChannel(t *testing.T) {
	defer leaktest.Check(t)()
	c := dialBroker(t)
	defer c.Close()

	require.NoError(t, c.ChannelOpen(1))
	require.NoError(t, c.ChannelOpen(2))

	_, _, _, err := c.QueueDeclare(1, "does-not-exist", true, false, false, false, nil)
	require.Error(t, err)
	cerr, ok := err.(*clientpkg.ClientError)
	require.True(t, ok)
	require.Equal(t, uint16(404), cerr.Code)

	require.NoError(t, c.ExchangeDeclare(2, "still-open", "fanout", false, false, false, false, nil))
}

func TestConnectionRejectsUnknownVirtualHost(t *testing.T) {
	defer leaktest.Check(t)()
	b := broker.New(zap.NewNop())
	clientSide, serverSide := net.Pipe()
	conn := broker.NewConnection(serverSide, b.Exchanges, b.Queues, zap.NewNop())
	go conn.Serve()

	c, err := clientpkg.DialConn(clientSide)
	require.NoError(t, err)

	err = c.Open("/tenant-b")
	require.Error(t, err)
	cerr, ok := err.(*clientpkg.ClientError)
	require.True(t, ok)
	require.Equal(t, uint16(530), cerr.Code)

	c.Close()
}

func TestLargeBodyStreamsAcrossManyFrames(t *testing.T) {
	defer leaktest.Check(t)()
	c := dialBroker(t)
	defer c.Close()

	require.NoError(t, c.ChannelOpen(1))
	require.NoError(t, c.ExchangeDeclare(1, "bulk", "fanout", false, false, false, false, nil))
	q, _, _, err := c.QueueDeclare(1, "", false, false, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, c.QueueBind(1, q, "bulk", "", nil))

	sink := make(chan *clientpkg.Message, 1)
	_, err = c.BasicConsume(1, q, "", sink)
	require.NoError(t, err)

	body := make([]byte, 70000)
	for i := range body {
		body[i] = byte(i)
	}
	require.NoError(t, c.BasicPublish(1, "bulk", "", nil, body))

	select {
	case msg := <-sink:
		require.Equal(t, body, msg.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("large body message never arrived")
	}
}

func TestExchangeRedeclareWithDifferentKindConflicts(t *testing.T) {
	defer leaktest.Check(t)()
	c := dialBroker(t)
	defer c.Close()

	require.NoError(t, c.ChannelOpen(1))
	require.NoError(t, c.ExchangeDeclare(1, "topic-x", "topic", false, false, false, false, nil))

	err := c.ExchangeDeclare(1, "topic-x", "direct", false, false, false, false, nil)
	require.Error(t, err)
	cerr, ok := err.(*clientpkg.ClientError)
	require.True(t, ok)
	require.Equal(t, uint16(406), cerr.Code)

	require.NoError(t, c.ChannelOpen(2))
	require.NoError(t, c.ExchangeDeclare(2, "topic-x", "topic", false, false, false, false, nil))
}

func TestQueueUnbindAndDeleteRemoveRouting(t *testing.T) {
	defer leaktest.Check(t)()
	c := dialBroker(t)
	defer c.Close()

	require.NoError(t, c.ChannelOpen(1))
	require.NoError(t, c.ExchangeDeclare(1, "events", "topic", false, false, false, false, nil))
	q, _, _, err := c.QueueDeclare(1, "", false, false, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, c.QueueBind(1, q, "events", "region.*", nil))

	sink := make(chan *clientpkg.Message, 1)
	_, err = c.BasicConsume(1, q, "", sink)
	require.NoError(t, err)

	require.NoError(t, c.BasicPublish(1, "events", "region.eu", nil, []byte("first")))
	select {
	case <-sink:
	case <-time.After(2 * time.Second):
		t.Fatal("bound message never arrived")
	}

	require.NoError(t, c.QueueUnbind(1, q, "events", "region.*", nil))
	require.NoError(t, c.BasicPublish(1, "events", "region.eu", nil, []byte("second")))
	select {
	case msg := <-sink:
		t.Fatalf("unexpected delivery after unbind: %v", msg)
	case <-time.After(100 * time.Millisecond):
	}

	count, err := c.QueueDelete(1, q)
	require.NoError(t, err)
	require.Equal(t, uint32(0), count)

	_, _, _, err = c.QueueDeclare(1, q, true, false, false, false, nil)
	require.Error(t, err)
}

func TestHeadersExchangeMatchesAll(t *testing.T) {
	defer leaktest.Check(t)()
	c := dialBroker(t)
	defer c.Close()

	require.NoError(t, c.ChannelOpen(1))
	require.NoError(t, c.ExchangeDeclare(1, "h", "headers", false, false, false, false, nil))
	q, _, _, err := c.QueueDeclare(1, "", false, false, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, c.QueueBind(1, q, "h", "", encoding.Table{"x-match": "all", "region": "eu", "tier": "gold"}))

	sink := make(chan *clientpkg.Message, 1)
	_, err = c.BasicConsume(1, q, "", sink)
	require.NoError(t, err)

	require.NoError(t, c.BasicPublish(1, "h", "", headerWith(encoding.Table{"region": "eu", "tier": "silver"}), []byte("no-match")))
	select {
	case msg := <-sink:
		t.Fatalf("unexpected delivery for partial header match: %v", msg)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, c.BasicPublish(1, "h", "", headerWith(encoding.Table{"region": "eu", "tier": "gold"}), []byte("match")))
	select {
	case msg := <-sink:
		require.Equal(t, []byte("match"), msg.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("fully-matching header message never arrived")
	}
}
