package broker

import (
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/relaymq/relaymq/internal/encoding"
	"github.com/relaymq/relaymq/internal/metrics"
)

// Kind is an exchange's routing algorithm.
type Kind string

const (
	KindDirect  Kind = "direct"
	KindFanout  Kind = "fanout"
	KindTopic   Kind = "topic"
	KindHeaders Kind = "headers"
)

type binding struct {
	queueName  string
	queue      *Queue
	routingKey string
	args       encoding.Table
}

type bindCmd struct {
	queueName  string
	queue      *Queue
	routingKey string
	args       encoding.Table
	reply      chan error
}

type unbindCmd struct {
	queueName  string
	routingKey string
	reply      chan error
}

type publishCmd struct {
	msg *Message
}

type stopExchangeCmd struct {
	reply chan struct{}
}

// Exchange is a single-goroutine actor owning one exchange's binding
// table and implementing AMQP routing. Its declared properties (Kind,
// Durable, AutoDelete, Internal) are set once at construction and never
// mutated, so the manager may read them directly when checking
// declare-idempotence without asking the actor.
type Exchange struct {
	Name       string
	Kind       Kind
	Durable    bool
	AutoDelete bool
	Internal   bool

	inbox chan interface{}
	done  chan struct{}

	bindings []binding
	logger   *zap.Logger
}

// NewExchange starts an exchange actor goroutine and returns a handle.
func NewExchange(name string, kind Kind, durable, autoDelete, internal bool, logger *zap.Logger) *Exchange {
	e := &Exchange{
		Name:       name,
		Kind:       kind,
		Durable:    durable,
		AutoDelete: autoDelete,
		Internal:   internal,
		inbox:      make(chan interface{}, 16),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("exchange", name), zap.String("kind", string(kind))),
	}
	go e.run()
	return e
}

func (e *Exchange) run() {
	defer close(e.done)
	for cmd := range e.inbox {
		switch c := cmd.(type) {
		case *bindCmd:
			e.handleBind(c)
		case *unbindCmd:
			e.handleUnbind(c)
		case *publishCmd:
			e.handlePublish(c.msg)
		case *stopExchangeCmd:
			close(c.reply)
			return
		}
	}
}

// Bind installs a routing rule from this exchange to queue, qualified by
// routingKey and, for headers exchanges, args.
func (e *Exchange) Bind(queueName string, q *Queue, routingKey string, args encoding.Table) error {
	reply := make(chan error, 1)
	e.inbox <- &bindCmd{queueName: queueName, queue: q, routingKey: routingKey, args: args, reply: reply}
	return <-reply
}

// Unbind removes a previously installed routing rule.
func (e *Exchange) Unbind(queueName, routingKey string) error {
	reply := make(chan error, 1)
	e.inbox <- &unbindCmd{queueName: queueName, routingKey: routingKey, reply: reply}
	return <-reply
}

// Publish routes msg to every matching bound queue. It never blocks the
// caller on routing decisions; the actual per-queue send is performed by
// this actor's own goroutine (which may suspend on a full queue inbox,
// providing the backpressure spec.md describes).
func (e *Exchange) Publish(msg *Message) {
	e.inbox <- &publishCmd{msg: msg}
}

// Stop terminates the exchange actor.
func (e *Exchange) Stop() {
	reply := make(chan struct{})
	e.inbox <- &stopExchangeCmd{reply: reply}
	<-reply
	close(e.inbox)
	<-e.done
}

func (e *Exchange) handleBind(cmd *bindCmd) {
	e.bindings = append(e.bindings, binding{
		queueName:  cmd.queueName,
		queue:      cmd.queue,
		routingKey: cmd.routingKey,
		args:       cmd.args,
	})
	cmd.reply <- nil
}

func (e *Exchange) handleUnbind(cmd *unbindCmd) {
	for i, b := range e.bindings {
		if b.queueName == cmd.queueName && b.routingKey == cmd.routingKey {
			e.bindings = append(e.bindings[:i], e.bindings[i+1:]...)
			break
		}
	}
	cmd.reply <- nil
}

func (e *Exchange) handlePublish(msg *Message) {
	routed := false
	for _, b := range e.bindings {
		if e.matches(b, msg) {
			b.queue.Enqueue(msg)
			routed = true
		}
	}
	if routed {
		metrics.MessagesRouted.WithLabelValues(e.Name).Inc()
	}
}

func (e *Exchange) matches(b binding, msg *Message) bool {
	switch e.Kind {
	case KindFanout:
		return true
	case KindDirect:
		return b.routingKey == msg.RoutingKey
	case KindTopic:
		return topicMatch(b.routingKey, msg.RoutingKey)
	case KindHeaders:
		return matchHeaders(b.args, headersOf(msg))
	default:
		return false
	}
}

func headersOf(msg *Message) encoding.Table {
	if msg.Header == nil || msg.Header.Headers == nil {
		return encoding.Table{}
	}
	return msg.Header.Headers
}

// matchHeaders implements AMQP headers-exchange matching: bindArgs'
// "x-match" entry selects "any" (at least one other key matches) or
// "all" (default; every other key matches). Values are compared via a
// loose type coercion (spf13/cast) since a publisher's declared field
// value type may differ from a binding's declared type for what is
// semantically the same value (e.g. int32(3) vs the short string "3").
func matchHeaders(bindArgs, msgHeaders encoding.Table) bool {
	if len(bindArgs) == 0 {
		return false
	}

	matchAny := false
	if mode, ok := bindArgs["x-match"]; ok {
		if s, ok := mode.(string); ok && s == "any" {
			matchAny = true
		}
	}

	matched := 0
	total := 0
	for k, want := range bindArgs {
		if k == "x-match" {
			continue
		}
		total++
		got, ok := msgHeaders[k]
		if ok && headerValuesEqual(want, got) {
			matched++
			if matchAny {
				return true
			}
		}
	}
	if total == 0 {
		return false
	}
	if matchAny {
		return false
	}
	return matched == total
}

func headerValuesEqual(a, b interface{}) bool {
	as, aerr := cast.ToStringE(a)
	bs, berr := cast.ToStringE(b)
	if aerr == nil && berr == nil {
		return as == bs
	}
	return a == b
}
