package broker

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/relaymq/relaymq/internal/encoding"
	"github.com/relaymq/relaymq/internal/frames"
	"github.com/relaymq/relaymq/internal/metrics"
)

// defaultFrameMax is the frame-max the server proposes in
// connection.tune on every connection.
const defaultFrameMax = 131072

// defaultHeartbeat is the value proposed in connection.tune. It is
// negotiated but never enforced by a timer, per the design notes' open
// question on heartbeat.
const defaultHeartbeat = 60

// Connection runs the per-TCP-connection protocol state machine: one
// goroutine per accepted socket, matching the teacher's one
// goroutine-per-link concurrency model in sender.go.
type Connection struct {
	id     string
	conn   net.Conn
	stream *frames.Stream

	exchanges *ExchangeManager
	queues    *QueueManager

	vhost    string
	frameMax uint32

	writeMu  sync.Mutex
	channels map[uint16]*channelState

	logger *zap.Logger
}

// NewConnection wraps an accepted socket, ready for Serve.
func NewConnection(conn net.Conn, exchanges *ExchangeManager, queues *QueueManager, logger *zap.Logger) *Connection {
	id := uuid.NewString()
	return &Connection{
		id:        id,
		conn:      conn,
		stream:    frames.NewStream(conn),
		exchanges: exchanges,
		queues:    queues,
		vhost:     "/",
		frameMax:  defaultFrameMax,
		channels:  make(map[uint16]*channelState),
		logger:    logger.With(zap.String("conn", id), zap.String("remote", conn.RemoteAddr().String())),
	}
}

// Serve drives the handshake and then the connection's main frame loop
// until the peer disconnects or a fatal error occurs. It always closes
// the underlying socket before returning.
func (c *Connection) Serve() {
	defer c.conn.Close()

	metrics.Connections.Inc()
	defer metrics.Connections.Dec()

	if err := c.handshake(); err != nil {
		c.logger.Warn("handshake failed", zap.Error(err))
		return
	}
	c.logger.Info("connection open", zap.String("vhost", c.vhost), zap.Uint32("frame_max", c.frameMax))

	for {
		f, err := c.stream.Next()
		if err != nil {
			c.teardownAll()
			if !errors.Is(err, io.EOF) {
				c.logger.Info("connection closed", zap.Error(err))
			} else {
				c.logger.Info("connection closed by peer")
			}
			return
		}

		closeRequested, derr := c.dispatch(f)
		if derr != nil {
			rerr := asRuntimeError(derr)
			c.logger.Warn("protocol error",
				zap.Uint16("channel", f.Channel),
				zap.Uint16("code", rerr.Code),
				zap.String("text", rerr.Text))

			if rerr.Scope == ScopeConnection {
				c.closeWithError(rerr)
				c.teardownAll()
				return
			}

			_ = c.writeMethod(f.Channel, rerr.toCloseMethod())
			if cs, ok := c.channels[f.Channel]; ok {
				if terr := c.teardownChannel(cs); terr != nil {
					c.logger.Warn("errors tearing down channel after protocol error", zap.Error(terr))
				}
				delete(c.channels, f.Channel)
			}
			continue
		}

		if closeRequested {
			c.teardownAll()
			return
		}
	}
}

func (c *Connection) handshake() error {
	if err := c.stream.ReadProtocolHeader(); err != nil {
		return err
	}

	start := &frames.ConnectionStart{
		VersionMajor:     0,
		VersionMinor:     9,
		ServerProperties: encoding.Table{"product": "relaymq"},
		Mechanisms:       "PLAIN",
		Locales:          "en_US",
	}
	if err := c.writeMethod(0, start); err != nil {
		return err
	}

	f, err := c.stream.Next()
	if err != nil {
		return err
	}
	if _, ok := f.Method.(*frames.ConnectionStartOk); !ok {
		rerr := newConnectionError(CodeNotAllowed, frames.ClassConnection, frames.MethodConnectionStartOk,
			fmt.Sprintf("expected connection.start-ok, got %T", f.Method))
		c.closeWithError(rerr)
		return rerr
	}

	tune := &frames.ConnectionTune{ChannelMax: 0, FrameMax: defaultFrameMax, Heartbeat: defaultHeartbeat}
	if err := c.writeMethod(0, tune); err != nil {
		return err
	}

	f, err = c.stream.Next()
	if err != nil {
		return err
	}
	tuneOk, ok := f.Method.(*frames.ConnectionTuneOk)
	if !ok {
		rerr := newConnectionError(CodeNotAllowed, frames.ClassConnection, frames.MethodConnectionTuneOk,
			fmt.Sprintf("expected connection.tune-ok, got %T", f.Method))
		c.closeWithError(rerr)
		return rerr
	}
	if tuneOk.FrameMax != 0 {
		c.frameMax = tuneOk.FrameMax
	}
	c.stream.SetMaxFrameSize(c.frameMax)

	f, err = c.stream.Next()
	if err != nil {
		return err
	}
	open, ok := f.Method.(*frames.ConnectionOpen)
	if !ok {
		rerr := newConnectionError(CodeNotAllowed, frames.ClassConnection, frames.MethodConnectionOpen,
			fmt.Sprintf("expected connection.open, got %T", f.Method))
		c.closeWithError(rerr)
		return rerr
	}

	if open.VirtualHost != "/" {
		rerr := newConnectionError(CodeNotAllowed, frames.ClassConnection, frames.MethodConnectionOpen,
			"vhost '"+open.VirtualHost+"' not allowed")
		c.closeWithError(rerr)
		return rerr
	}
	c.vhost = open.VirtualHost

	return c.writeMethod(0, &frames.ConnectionOpenOk{})
}

// closeWithError sends a connection.close carrying rerr and waits for
// the peer's connection.close-ok (or a transport error) before
// returning, matching the CLOSING -> CLOSED transition in spec.md §4.2.
func (c *Connection) closeWithError(rerr *RuntimeError) {
	if err := c.writeMethod(0, rerr.toCloseMethod()); err != nil {
		return
	}
	for {
		f, err := c.stream.Next()
		if err != nil {
			return
		}
		if _, ok := f.Method.(*frames.ConnectionCloseOk); ok {
			return
		}
	}
}

func (c *Connection) dispatch(f *frames.Frame) (closeRequested bool, err error) {
	if f.IsHeartbeat {
		return false, nil
	}
	if f.Channel == 0 {
		return c.dispatchConnectionLevel(f)
	}
	return false, c.dispatchChannelLevel(f)
}

func (c *Connection) dispatchConnectionLevel(f *frames.Frame) (bool, error) {
	if f.Method == nil {
		return false, newConnectionError(CodeUnexpectedFrame, 0, 0, "unexpected content frame on channel 0")
	}
	switch m := f.Method.(type) {
	case *frames.ConnectionClose:
		_ = c.writeMethod(0, &frames.ConnectionCloseOk{})
		c.logger.Info("connection closed by peer request", zap.Uint16("code", m.ReplyCode))
		return true, nil
	case *frames.ConnectionCloseOk:
		return true, nil
	default:
		if f.Method.ClassID() != frames.ClassConnection {
			return false, newConnectionError(CodeChannelError, f.Method.ClassID(), f.Method.MethodID(),
				"non-connection method on channel 0")
		}
		return false, newConnectionError(CodeNotImplemented, f.Method.ClassID(), f.Method.MethodID(),
			"unexpected connection-class method")
	}
}

func (c *Connection) dispatchChannelLevel(f *frames.Frame) error {
	channel := f.Channel

	if f.Method != nil {
		if open, ok := f.Method.(*frames.ChannelOpen); ok {
			return c.handleChannelOpen(channel, open)
		}
	}

	cs, ok := c.channels[channel]
	if !ok {
		if _, isCloseOk := f.Method.(*frames.ChannelCloseOk); isCloseOk {
			// The peer's reply to a server-initiated channel.close can
			// arrive after this channel's state is already torn down;
			// that's expected, not a protocol violation.
			return nil
		}
		return newConnectionError(CodeChannelError, 0, 0, fmt.Sprintf("channel %d is not open", channel))
	}

	if cs.inFlight != nil {
		if f.Method != nil {
			return newChannelError(CodeUnexpectedFrame, f.Method.ClassID(), f.Method.MethodID(),
				"expected content header or body while publish is in flight")
		}
		return c.handleContentFrame(channel, cs, f)
	}

	if f.Method == nil {
		return newChannelError(CodeUnexpectedFrame, 0, 0, "content frame with no publish in flight")
	}

	switch m := f.Method.(type) {
	case *frames.ChannelClose:
		return c.handleChannelClose(channel, cs, m)
	case *frames.ChannelCloseOk:
		delete(c.channels, channel)
		return nil
	case *frames.ExchangeDeclare:
		return c.handleExchangeDeclare(channel, m)
	case *frames.QueueDeclare:
		return c.handleQueueDeclare(channel, m)
	case *frames.QueueBind:
		return c.handleQueueBind(channel, m)
	case *frames.QueueUnbind:
		return c.handleQueueUnbind(channel, m)
	case *frames.QueueDelete:
		return c.handleQueueDelete(channel, m)
	case *frames.BasicPublish:
		return c.handleBasicPublish(cs, m)
	case *frames.BasicConsume:
		return c.handleBasicConsume(channel, cs, m)
	case *frames.BasicCancel:
		return c.handleBasicCancel(channel, cs, m)
	default:
		return newChannelError(CodeNotImplemented, f.Method.ClassID(), f.Method.MethodID(), "method not implemented")
	}
}

func (c *Connection) handleContentFrame(channel uint16, cs *channelState, f *frames.Frame) error {
	pc := cs.inFlight
	if f.Header != nil {
		if pc.haveHeader {
			return newChannelError(CodeUnexpectedFrame, frames.ClassBasic, frames.MethodBasicPublish, "duplicate content header")
		}
		pc.header = f.Header
		pc.Expected = f.Header.BodySize
		pc.haveHeader = true
		pc.accumulated = make([]byte, 0, pc.Expected)
		if pc.done() {
			c.completePublish(cs)
		}
		return nil
	}

	if !pc.haveHeader {
		return newChannelError(CodeUnexpectedFrame, frames.ClassBasic, frames.MethodBasicPublish, "content body before header")
	}
	pc.accumulated = append(pc.accumulated, f.Body...)
	if pc.done() {
		c.completePublish(cs)
	}
	return nil
}

func (c *Connection) completePublish(cs *channelState) {
	msg := cs.inFlight.toMessage()
	cs.inFlight = nil
	if e := c.exchanges.Lookup(msg.Exchange); e != nil {
		e.Publish(msg)
	} else {
		c.logger.Warn("exchange vanished before publish completed", zap.String("exchange", msg.Exchange))
	}
}

func (c *Connection) handleChannelOpen(channel uint16, _ *frames.ChannelOpen) error {
	if _, exists := c.channels[channel]; exists {
		return newConnectionError(CodeChannelError, frames.ClassChannel, frames.MethodChannelOpen, "second channel.open seen")
	}
	c.channels[channel] = newChannelState()
	return c.writeMethod(channel, &frames.ChannelOpenOk{})
}

func (c *Connection) handleChannelClose(channel uint16, cs *channelState, _ *frames.ChannelClose) error {
	if err := c.teardownChannel(cs); err != nil {
		c.logger.Warn("errors tearing down channel", zap.Uint16("channel", channel), zap.Error(err))
	}
	delete(c.channels, channel)
	return c.writeMethod(channel, &frames.ChannelCloseOk{})
}

func (c *Connection) handleExchangeDeclare(channel uint16, m *frames.ExchangeDeclare) error {
	kind := Kind(m.ExchangeType)
	if !m.Passive {
		switch kind {
		case KindDirect, KindFanout, KindTopic, KindHeaders:
		default:
			return newChannelError(CodeNotImplemented, frames.ClassExchange, frames.MethodExchangeDeclare,
				"unknown exchange type '"+m.ExchangeType+"'")
		}
	}

	_, rerr := c.exchanges.Declare(m.ExchangeName, DeclareParams{
		Passive: m.Passive, Durable: m.Durable, AutoDelete: m.AutoDelete, Internal: m.Internal,
		Kind: kind, Arguments: m.Arguments,
	})
	if rerr != nil {
		rerr.FailingClassID, rerr.FailingMethodID = frames.ClassExchange, frames.MethodExchangeDeclare
		return rerr
	}
	if m.NoWait {
		return nil
	}
	return c.writeMethod(channel, &frames.ExchangeDeclareOk{})
}

func (c *Connection) handleQueueDeclare(channel uint16, m *frames.QueueDeclare) error {
	name, q, rerr := c.queues.Declare(m.QueueName, DeclareParams{
		Passive: m.Passive, Durable: m.Durable, Exclusive: m.Exclusive, AutoDelete: m.AutoDelete, Arguments: m.Arguments,
	})
	if rerr != nil {
		rerr.FailingClassID, rerr.FailingMethodID = frames.ClassQueue, frames.MethodQueueDeclare
		return rerr
	}
	if m.NoWait {
		return nil
	}
	stat := q.QueryStat()
	return c.writeMethod(channel, &frames.QueueDeclareOk{
		QueueName: name, MessageCount: uint32(stat.MessageCount), ConsumerCount: uint32(stat.ConsumerCount),
	})
}

func (c *Connection) handleQueueBind(channel uint16, m *frames.QueueBind) error {
	q := c.queues.Lookup(m.QueueName)
	if q == nil {
		return newChannelError(CodeNotFound, frames.ClassQueue, frames.MethodQueueBind, "no queue '"+m.QueueName+"'")
	}
	if rerr := c.exchanges.Bind(m.ExchangeName, m.QueueName, q, m.RoutingKey, m.Arguments); rerr != nil {
		rerr.FailingClassID, rerr.FailingMethodID = frames.ClassQueue, frames.MethodQueueBind
		return rerr
	}
	if m.NoWait {
		return nil
	}
	return c.writeMethod(channel, &frames.QueueBindOk{})
}

func (c *Connection) handleQueueUnbind(channel uint16, m *frames.QueueUnbind) error {
	if rerr := c.exchanges.Unbind(m.ExchangeName, m.QueueName, m.RoutingKey); rerr != nil {
		rerr.FailingClassID, rerr.FailingMethodID = frames.ClassQueue, frames.MethodQueueUnbind
		return rerr
	}
	return c.writeMethod(channel, &frames.QueueUnbindOk{})
}

func (c *Connection) handleQueueDelete(channel uint16, m *frames.QueueDelete) error {
	count, rerr := c.queues.Delete(m.QueueName)
	if rerr != nil {
		rerr.FailingClassID, rerr.FailingMethodID = frames.ClassQueue, frames.MethodQueueDelete
		return rerr
	}
	c.exchanges.UnbindAllForQueue(m.QueueName)
	if m.NoWait {
		return nil
	}
	return c.writeMethod(channel, &frames.QueueDeleteOk{MessageCount: uint32(count)})
}

func (c *Connection) handleBasicPublish(cs *channelState, m *frames.BasicPublish) error {
	e := c.exchanges.Lookup(m.ExchangeName)
	if e == nil {
		return newChannelError(CodeNotFound, frames.ClassBasic, frames.MethodBasicPublish, "no exchange '"+m.ExchangeName+"' in vhost '/'")
	}
	cs.inFlight = &PublishedContent{Exchange: m.ExchangeName, RoutingKey: m.RoutingKey}
	return nil
}

func (c *Connection) handleBasicConsume(channel uint16, cs *channelState, m *frames.BasicConsume) error {
	q := c.queues.Lookup(m.QueueName)
	if q == nil {
		return newChannelError(CodeNotFound, frames.ClassBasic, frames.MethodBasicConsume, "no queue '"+m.QueueName+"'")
	}

	tag := m.ConsumerTag
	if tag == "" {
		tag = "amq.ctag-" + uuid.NewString()
	}
	if _, exists := cs.consumers[tag]; exists {
		return newChannelError(CodePreconditionFailed, frames.ClassBasic, frames.MethodBasicConsume,
			"consumer tag '"+tag+"' already in use on this channel")
	}

	consumer := &Consumer{Tag: tag, Endpoint: make(chan *Message, 16)}
	if err := q.Consume(consumer); err != nil {
		return wrapf(err, CodeChannelError, frames.ClassBasic, frames.MethodBasicConsume, "consume failed")
	}

	rt := &consumerRuntime{consumer: consumer, queueName: m.QueueName, stop: make(chan struct{})}
	cs.consumers[tag] = rt
	go c.forwardConsumer(channel, cs, rt)

	if m.NoWait {
		return nil
	}
	return c.writeMethod(channel, &frames.BasicConsumeOk{ConsumerTag: tag})
}

func (c *Connection) handleBasicCancel(channel uint16, cs *channelState, m *frames.BasicCancel) error {
	rt, ok := cs.consumers[m.ConsumerTag]
	if !ok {
		return newChannelError(CodeNotFound, frames.ClassBasic, frames.MethodBasicCancel, "unknown consumer tag '"+m.ConsumerTag+"'")
	}
	if q := c.queues.Lookup(rt.queueName); q != nil {
		_ = q.Cancel(m.ConsumerTag)
	}
	close(rt.stop)
	delete(cs.consumers, m.ConsumerTag)

	if m.NoWait {
		return nil
	}
	return c.writeMethod(channel, &frames.BasicCancelOk{ConsumerTag: m.ConsumerTag})
}

// forwardConsumer is the one goroutine per active consumer that turns
// routed messages into basic.deliver + content header + content body
// frames on the wire, assigning this channel's next delivery tag at
// send time (delivery tags are per-channel, not per-queue, per
// spec.md §4.4).
func (c *Connection) forwardConsumer(channel uint16, cs *channelState, rt *consumerRuntime) {
	for {
		select {
		case msg, ok := <-rt.consumer.Endpoint:
			if !ok {
				return
			}
			c.deliverMessage(channel, cs, rt.consumer.Tag, msg)
		case <-rt.stop:
			c.drainConsumer(channel, cs, rt)
			return
		}
	}
}

// drainConsumer flushes whatever was already buffered in the consumer's
// endpoint before Cancel fired, without blocking for new arrivals.
func (c *Connection) drainConsumer(channel uint16, cs *channelState, rt *consumerRuntime) {
	for {
		select {
		case msg, ok := <-rt.consumer.Endpoint:
			if !ok {
				return
			}
			c.deliverMessage(channel, cs, rt.consumer.Tag, msg)
		default:
			return
		}
	}
}

func (c *Connection) deliverMessage(channel uint16, cs *channelState, tag string, msg *Message) {
	deliveryTag := atomic.AddUint64(&cs.deliveryTag, 1)

	deliver := &frames.BasicDeliver{
		ConsumerTag:  tag,
		DeliveryTag:  deliveryTag,
		ExchangeName: msg.Exchange,
		RoutingKey:   msg.RoutingKey,
	}
	if err := c.writeMethod(channel, deliver); err != nil {
		c.logger.Warn("failed to write basic.deliver", zap.Error(err))
		return
	}

	header := msg.Header
	if header == nil {
		header = &frames.ContentHeader{ClassID: frames.ClassBasic}
	}
	header.ClassID = frames.ClassBasic
	header.BodySize = uint64(len(msg.Body))
	if err := c.writeFrame(&frames.Frame{Channel: channel, Header: header}); err != nil {
		c.logger.Warn("failed to write content header", zap.Error(err))
		return
	}

	chunkSize := int(c.frameMax)
	if chunkSize <= 0 {
		chunkSize = len(msg.Body)
	}
	body := msg.Body
	for len(body) > 0 {
		n := chunkSize
		if n <= 0 || n > len(body) {
			n = len(body)
		}
		if err := c.writeFrame(&frames.Frame{Channel: channel, Body: body[:n]}); err != nil {
			c.logger.Warn("failed to write content body", zap.Error(err))
			return
		}
		body = body[n:]
	}
}

func (c *Connection) teardownChannel(cs *channelState) error {
	var result *multierror.Error
	for tag, rt := range cs.consumers {
		if q := c.queues.Lookup(rt.queueName); q != nil {
			if err := q.Cancel(tag); err != nil {
				result = multierror.Append(result, err)
			}
		}
		close(rt.stop)
	}
	cs.consumers = make(map[string]*consumerRuntime)
	return result.ErrorOrNil()
}

func (c *Connection) teardownAll() {
	var result *multierror.Error
	for _, cs := range c.channels {
		if err := c.teardownChannel(cs); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.channels = make(map[uint16]*channelState)
	if err := result.ErrorOrNil(); err != nil {
		c.logger.Warn("errors during connection teardown", zap.Error(err))
	}
}

func (c *Connection) writeMethod(channel uint16, m frames.Method) error {
	return c.writeFrame(&frames.Frame{Channel: channel, Method: m})
}

func (c *Connection) writeFrame(f *frames.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.stream.WriteFrame(f)
}

func asRuntimeError(err error) *RuntimeError {
	if rerr, ok := err.(*RuntimeError); ok {
		return rerr
	}
	return &RuntimeError{Scope: ScopeConnection, Code: CodeNotImplemented, Text: err.Error()}
}
