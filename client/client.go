// Package client is the asynchronous driver side of relaymq: a single
// background goroutine owns the TCP connection and the wire codec,
// matching the teacher library's Conn.mux()/Session.mux() pattern of
// funnelling all reads and writes through one multiplexer and handing
// callers back their result over a private reply channel.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"github.com/relaymq/relaymq/internal/debug"
	"github.com/relaymq/relaymq/internal/encoding"
	"github.com/relaymq/relaymq/internal/frames"
)

const defaultClientFrameMax uint32 = 131072

// Message is a delivery handed to a consumer's sink channel, assembled
// from a basic.deliver method plus its content header and body frames.
type Message struct {
	ConsumerTag string
	Exchange    string
	RoutingKey  string
	Header      *frames.ContentHeader
	Body        []byte
}

// Client drives one AMQP connection. Exported methods may be called from
// several goroutines; they hand work to the mux goroutine and block on a
// private reply channel for anything synchronous. The mux keeps one
// pending synchronous request per channel, so a second synchronous call
// on a channel whose reply has not yet arrived replaces the first one,
// whose caller is then not answered.
type Client struct {
	conn     net.Conn
	stream   *frames.Stream
	frameMax uint32

	reqCh  chan *request
	closed chan struct{}
}

type request struct {
	frame *frames.Frame

	awaitReply                      bool
	expectedClassID, expectedMethodID uint16
	reply                            chan replyResult

	consumeSink chan *Message
	consumerTag string
}

type replyResult struct {
	method frames.Method
	err    *ClientError
}

// Dial opens a TCP connection to addr and runs the AMQP 0-9-1 connection
// handshake (protocol header, connection.start/start-ok,
// connection.tune/tune-ok). The caller still must call Open to select a
// vhost before using any channel.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newClient(conn)
}

// DialConn drives the handshake over an already-established net.Conn
// and starts the mux goroutine. Unlike Dial, it does not open a TCP
// socket itself, so it also accepts the pipe-backed or mock
// connections used in tests.
func DialConn(conn net.Conn) (*Client, error) {
	return newClient(conn)
}

func newClient(conn net.Conn) (*Client, error) {
	c := &Client{
		conn:   conn,
		stream: frames.NewStream(conn),
		reqCh:  make(chan *request, 16),
		closed: make(chan struct{}),
	}

	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	go c.mux()
	return c, nil
}

func (c *Client) handshake() error {
	if err := c.stream.WriteProtocolHeader(); err != nil {
		return err
	}

	f, err := c.stream.Next()
	if err != nil {
		return err
	}
	if _, ok := f.Method.(*frames.ConnectionStart); !ok {
		return fmt.Errorf("client: expected connection.start, got %T", f.Method)
	}

	startOk := &frames.ConnectionStartOk{Mechanism: "PLAIN", Locale: "en_US"}
	if err := c.stream.WriteFrame(&frames.Frame{Channel: 0, Method: startOk}); err != nil {
		return err
	}

	f, err = c.stream.Next()
	if err != nil {
		return err
	}
	tune, ok := f.Method.(*frames.ConnectionTune)
	if !ok {
		return fmt.Errorf("client: expected connection.tune, got %T", f.Method)
	}

	frameMax := tune.FrameMax
	if frameMax == 0 {
		frameMax = defaultClientFrameMax
	}
	c.stream.SetMaxFrameSize(frameMax)
	c.frameMax = frameMax

	tuneOk := &frames.ConnectionTuneOk{ChannelMax: tune.ChannelMax, FrameMax: frameMax, Heartbeat: tune.Heartbeat}
	return c.stream.WriteFrame(&frames.Frame{Channel: 0, Method: tuneOk})
}

// incomingDelivery accumulates one basic.deliver's content header and
// body frames on the receive side, mirroring the broker's
// PublishedContent assembly for the opposite direction.
type incomingDelivery struct {
	consumerTag  string
	exchangeName string
	routingKey   string

	header      *frames.ContentHeader
	haveHeader  bool
	expected    uint64
	accumulated []byte
}

func (d *incomingDelivery) done() bool {
	return d.haveHeader && uint64(len(d.accumulated)) >= d.expected
}

// mux is the single goroutine that owns the wire: it serializes writes
// requested over reqCh with frames read from the stream, so no lock is
// ever held across a blocking send or receive.
func (c *Client) mux() {
	pending := make(map[uint16]*request)
	sinks := make(map[uint16]map[string]chan *Message)
	inFlight := make(map[uint16]*incomingDelivery)

	frameCh := make(chan *frames.Frame)
	errCh := make(chan error, 1)
	go func() {
		for {
			f, err := c.stream.Next()
			if err != nil {
				errCh <- err
				return
			}
			frameCh <- f
		}
	}()

	for {
		select {
		case req := <-c.reqCh:
			debug.Log(context.Background(), slog.LevelDebug, "client: writing frame", "channel", req.frame.Channel)
			if err := c.stream.WriteFrame(req.frame); err != nil {
				if req.reply != nil {
					req.reply <- replyResult{err: asClientError(err)}
				}
				continue
			}
			if req.consumeSink != nil {
				ch := req.frame.Channel
				if sinks[ch] == nil {
					sinks[ch] = make(map[string]chan *Message)
				}
				sinks[ch][req.consumerTag] = req.consumeSink
			}
			if req.awaitReply {
				pending[req.frame.Channel] = req
			}

		case f := <-frameCh:
			c.handleIncoming(f, pending, sinks, inFlight)

		case err := <-errCh:
			c.failAllPending(pending, err)
			close(c.closed)
			return
		}
	}
}

func (c *Client) handleIncoming(f *frames.Frame, pending map[uint16]*request, sinks map[uint16]map[string]chan *Message, inFlight map[uint16]*incomingDelivery) {
	if f.IsHeartbeat {
		return
	}

	ch := f.Channel

	if f.Method != nil {
		switch m := f.Method.(type) {
		case *frames.ChannelClose:
			if req, ok := pending[ch]; ok {
				req.reply <- replyResult{err: &ClientError{
					Channel: &ch, Code: m.ReplyCode, Message: m.ReplyText,
					FailingClassID: m.FailingClassID, FailingMethodID: m.FailingMethodID,
				}}
				delete(pending, ch)
			}
			_ = c.stream.WriteFrame(&frames.Frame{Channel: ch, Method: &frames.ChannelCloseOk{}})
			return

		case *frames.ConnectionClose:
			cerr := &ClientError{Code: m.ReplyCode, Message: m.ReplyText,
				FailingClassID: m.FailingClassID, FailingMethodID: m.FailingMethodID}
			c.failAllPending(pending, cerr)
			_ = c.stream.WriteFrame(&frames.Frame{Channel: 0, Method: &frames.ConnectionCloseOk{}})
			return

		case *frames.BasicDeliver:
			inFlight[ch] = &incomingDelivery{
				consumerTag:  m.ConsumerTag,
				exchangeName: m.ExchangeName,
				routingKey:   m.RoutingKey,
			}
			return
		}

		if req, ok := pending[ch]; ok && f.Method.ClassID() == req.expectedClassID && f.Method.MethodID() == req.expectedMethodID {
			req.reply <- replyResult{method: f.Method}
			delete(pending, ch)
		}
		return
	}

	if f.Header != nil {
		d, ok := inFlight[ch]
		if !ok {
			return
		}
		d.header = f.Header
		d.expected = f.Header.BodySize
		d.haveHeader = true
		if d.done() {
			c.deliverToSink(ch, d, sinks)
			delete(inFlight, ch)
		}
		return
	}

	d, ok := inFlight[ch]
	if !ok {
		return
	}
	d.accumulated = append(d.accumulated, f.Body...)
	if d.done() {
		c.deliverToSink(ch, d, sinks)
		delete(inFlight, ch)
	}
}

func (c *Client) deliverToSink(channel uint16, d *incomingDelivery, sinks map[uint16]map[string]chan *Message) {
	msg := &Message{
		ConsumerTag: d.consumerTag,
		Exchange:    d.exchangeName,
		RoutingKey:  d.routingKey,
		Header:      d.header,
		Body:        d.accumulated,
	}
	if chSinks, ok := sinks[channel]; ok {
		if sink, ok := chSinks[d.consumerTag]; ok {
			sink <- msg
		}
	}
}

func (c *Client) failAllPending(pending map[uint16]*request, err error) {
	cerr := asClientError(err)
	for ch, req := range pending {
		req.reply <- replyResult{err: cerr}
		delete(pending, ch)
	}
}

func (c *Client) sendRaw(f *frames.Frame) error {
	select {
	case c.reqCh <- &request{frame: f}:
		return nil
	case <-c.closed:
		return &ClientError{Message: "client: connection closed"}
	}
}

func (c *Client) doSync(channel uint16, m frames.Method, expectedClassID, expectedMethodID uint16) (frames.Method, error) {
	reply := make(chan replyResult, 1)
	req := &request{
		frame:            &frames.Frame{Channel: channel, Method: m},
		awaitReply:       true,
		expectedClassID:  expectedClassID,
		expectedMethodID: expectedMethodID,
		reply:            reply,
	}
	select {
	case c.reqCh <- req:
	case <-c.closed:
		return nil, &ClientError{Message: "client: connection closed"}
	}

	select {
	case res := <-reply:
		if res.err != nil {
			return nil, res.err
		}
		return res.method, nil
	case <-c.closed:
		return nil, &ClientError{Message: "client: connection closed"}
	}
}

// Open selects a virtual host via connection.open.
func (c *Client) Open(vhost string) error {
	_, err := c.doSync(0, &frames.ConnectionOpen{VirtualHost: vhost}, frames.ClassConnection, frames.MethodConnectionOpenOk)
	return err
}

// Close performs a graceful connection.close and tears down the socket.
func (c *Client) Close() error {
	_, err := c.doSync(0, &frames.ConnectionClose{ReplyCode: 200, ReplyText: "goodbye"}, frames.ClassConnection, frames.MethodConnectionCloseOk)
	c.conn.Close()
	return err
}

// ChannelOpen opens channel.
func (c *Client) ChannelOpen(channel uint16) error {
	_, err := c.doSync(channel, &frames.ChannelOpen{}, frames.ClassChannel, frames.MethodChannelOpenOk)
	return err
}

// ChannelClose closes channel gracefully.
func (c *Client) ChannelClose(channel uint16) error {
	_, err := c.doSync(channel, &frames.ChannelClose{ReplyCode: 200, ReplyText: "goodbye"}, frames.ClassChannel, frames.MethodChannelCloseOk)
	return err
}

// ExchangeDeclare declares (or asserts, if passive) an exchange.
func (c *Client) ExchangeDeclare(channel uint16, name, kind string, passive, durable, autoDelete, internal bool, args encoding.Table) error {
	m := &frames.ExchangeDeclare{
		ExchangeName: name, ExchangeType: kind,
		Passive: passive, Durable: durable, AutoDelete: autoDelete, Internal: internal,
		Arguments: args,
	}
	_, err := c.doSync(channel, m, frames.ClassExchange, frames.MethodExchangeDeclareOk)
	return err
}

// QueueDeclare declares (or asserts, if passive) a queue. An empty name
// with passive false asks the broker to generate a unique name, returned
// as the first result.
func (c *Client) QueueDeclare(channel uint16, name string, passive, durable, exclusive, autoDelete bool, args encoding.Table) (string, uint32, uint32, error) {
	m := &frames.QueueDeclare{
		QueueName: name,
		Passive:   passive, Durable: durable, Exclusive: exclusive, AutoDelete: autoDelete,
		Arguments: args,
	}
	res, err := c.doSync(channel, m, frames.ClassQueue, frames.MethodQueueDeclareOk)
	if err != nil {
		return "", 0, 0, err
	}
	ok := res.(*frames.QueueDeclareOk)
	return ok.QueueName, ok.MessageCount, ok.ConsumerCount, nil
}

// QueueBind binds queue to exchange under routingKey.
func (c *Client) QueueBind(channel uint16, queue, exchange, routingKey string, args encoding.Table) error {
	m := &frames.QueueBind{QueueName: queue, ExchangeName: exchange, RoutingKey: routingKey, Arguments: args}
	_, err := c.doSync(channel, m, frames.ClassQueue, frames.MethodQueueBindOk)
	return err
}

// QueueUnbind removes a binding previously created with QueueBind.
func (c *Client) QueueUnbind(channel uint16, queue, exchange, routingKey string, args encoding.Table) error {
	m := &frames.QueueUnbind{QueueName: queue, ExchangeName: exchange, RoutingKey: routingKey, Arguments: args}
	_, err := c.doSync(channel, m, frames.ClassQueue, frames.MethodQueueUnbindOk)
	return err
}

// QueueDelete deletes queue, returning the number of messages it held.
func (c *Client) QueueDelete(channel uint16, queue string) (uint32, error) {
	res, err := c.doSync(channel, &frames.QueueDelete{QueueName: queue}, frames.ClassQueue, frames.MethodQueueDeleteOk)
	if err != nil {
		return 0, err
	}
	return res.(*frames.QueueDeleteOk).MessageCount, nil
}

// BasicConsume subscribes to queue; deliveries are sent to sink until
// BasicCancel is called or the connection closes. An empty consumerTag
// is replaced with a generated one so the caller always knows which tag
// to pass to BasicCancel.
func (c *Client) BasicConsume(channel uint16, queue, consumerTag string, sink chan *Message) (string, error) {
	if consumerTag == "" {
		consumerTag = "amq.ctag-" + uuid.NewString()
	}

	reply := make(chan replyResult, 1)
	req := &request{
		frame:            &frames.Frame{Channel: channel, Method: &frames.BasicConsume{QueueName: queue, ConsumerTag: consumerTag}},
		awaitReply:       true,
		expectedClassID:  frames.ClassBasic,
		expectedMethodID: frames.MethodBasicConsumeOk,
		reply:            reply,
		consumeSink:      sink,
		consumerTag:      consumerTag,
	}
	select {
	case c.reqCh <- req:
	case <-c.closed:
		return "", &ClientError{Message: "client: connection closed"}
	}

	select {
	case res := <-reply:
		if res.err != nil {
			return "", res.err
		}
		return res.method.(*frames.BasicConsumeOk).ConsumerTag, nil
	case <-c.closed:
		return "", &ClientError{Message: "client: connection closed"}
	}
}

// BasicCancel ends a subscription previously started with BasicConsume.
func (c *Client) BasicCancel(channel uint16, consumerTag string) error {
	_, err := c.doSync(channel, &frames.BasicCancel{ConsumerTag: consumerTag}, frames.ClassBasic, frames.MethodBasicCancelOk)
	return err
}

// BasicPublish sends a message to exchange under routingKey, chunking
// the body into frames no larger than the negotiated frame-max. header
// may be nil for a message with no properties.
func (c *Client) BasicPublish(channel uint16, exchange, routingKey string, header *frames.ContentHeader, body []byte) error {
	if header == nil {
		header = &frames.ContentHeader{}
	}
	header.ClassID = frames.ClassBasic
	header.BodySize = uint64(len(body))

	if err := c.sendRaw(&frames.Frame{Channel: channel, Method: &frames.BasicPublish{ExchangeName: exchange, RoutingKey: routingKey}}); err != nil {
		return err
	}
	if err := c.sendRaw(&frames.Frame{Channel: channel, Header: header}); err != nil {
		return err
	}

	if len(body) == 0 {
		return nil
	}
	chunkSize := int(c.frameMax)
	if chunkSize <= 0 || chunkSize > len(body) {
		chunkSize = len(body)
	}
	for offset := 0; offset < len(body); offset += chunkSize {
		end := offset + chunkSize
		if end > len(body) {
			end = len(body)
		}
		if err := c.sendRaw(&frames.Frame{Channel: channel, Body: body[offset:end]}); err != nil {
			return err
		}
	}
	return nil
}
