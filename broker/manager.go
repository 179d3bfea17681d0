package broker

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaymq/relaymq/internal/encoding"
)

// DeclareParams names the properties a declare call proposes for a new
// or existing exchange/queue.
type DeclareParams struct {
	Passive    bool
	Durable    bool
	AutoDelete bool
	Internal   bool // exchange-only
	Exclusive  bool // queue-only
	Kind       Kind // exchange-only
	Arguments  encoding.Table
}

type globalBinding struct {
	exchangeName string
	queueName    string
	routingKey   string
}

type exchangeDeclareCmd struct {
	name   string
	params DeclareParams
	reply  chan exchangeDeclareResult
}

type exchangeDeclareResult struct {
	exchange *Exchange
	err      *RuntimeError
}

type exchangeLookupCmd struct {
	name  string
	reply chan *Exchange
}

type managerBindCmd struct {
	exchangeName string
	queueName    string
	queue        *Queue
	routingKey   string
	args         encoding.Table
	reply        chan *RuntimeError
}

type managerUnbindCmd struct {
	exchangeName string
	queueName    string
	routingKey   string
	reply        chan *RuntimeError
}

type unbindAllForQueueCmd struct {
	queueName string
	reply     chan struct{}
}

// ExchangeManager is the process-wide registry actor for exchanges: the
// only write path to the exchange name→handle mapping, serializing
// declare/bind/unbind behind its own inbox so no external mutex is
// needed.
type ExchangeManager struct {
	inbox chan interface{}

	exchanges map[string]*Exchange
	bindings  []globalBinding

	logger *zap.Logger
}

// NewExchangeManager starts the manager actor goroutine.
func NewExchangeManager(logger *zap.Logger) *ExchangeManager {
	m := &ExchangeManager{
		inbox:     make(chan interface{}, 16),
		exchanges: make(map[string]*Exchange),
		logger:    logger,
	}
	go m.run()
	return m
}

func (m *ExchangeManager) run() {
	for cmd := range m.inbox {
		switch c := cmd.(type) {
		case *exchangeDeclareCmd:
			c.reply <- m.handleDeclare(c.name, c.params)
		case *exchangeLookupCmd:
			c.reply <- m.exchanges[c.name]
		case *managerBindCmd:
			c.reply <- m.handleBind(c)
		case *managerUnbindCmd:
			c.reply <- m.handleUnbind(c)
		case *unbindAllForQueueCmd:
			m.handleUnbindAllForQueue(c.queueName)
			close(c.reply)
		}
	}
}

// Declare creates, validates, or rejects an exchange by name per
// spec.md §4.3: missing+non-passive creates; missing+passive is 404;
// present+equivalent is ok; present+divergent is 406.
func (m *ExchangeManager) Declare(name string, params DeclareParams) (*Exchange, *RuntimeError) {
	reply := make(chan exchangeDeclareResult, 1)
	m.inbox <- &exchangeDeclareCmd{name: name, params: params, reply: reply}
	res := <-reply
	return res.exchange, res.err
}

// Lookup returns the exchange handle for name, or nil if undeclared.
func (m *ExchangeManager) Lookup(name string) *Exchange {
	reply := make(chan *Exchange, 1)
	m.inbox <- &exchangeLookupCmd{name: name, reply: reply}
	return <-reply
}

// Bind looks up exchangeName and installs a binding to q, remembering
// the tuple so a later queue deletion can unbind it without the caller
// needing to track per-exchange binding tables itself.
func (m *ExchangeManager) Bind(exchangeName, queueName string, q *Queue, routingKey string, args encoding.Table) *RuntimeError {
	reply := make(chan *RuntimeError, 1)
	m.inbox <- &managerBindCmd{exchangeName: exchangeName, queueName: queueName, queue: q, routingKey: routingKey, args: args, reply: reply}
	return <-reply
}

// Unbind removes one previously installed binding.
func (m *ExchangeManager) Unbind(exchangeName, queueName, routingKey string) *RuntimeError {
	reply := make(chan *RuntimeError, 1)
	m.inbox <- &managerUnbindCmd{exchangeName: exchangeName, queueName: queueName, routingKey: routingKey, reply: reply}
	return <-reply
}

// UnbindAllForQueue removes every binding referencing queueName, across
// every exchange, used by queue.delete so no dangling binding is left in
// the routing table.
func (m *ExchangeManager) UnbindAllForQueue(queueName string) {
	reply := make(chan struct{})
	m.inbox <- &unbindAllForQueueCmd{queueName: queueName, reply: reply}
	<-reply
}

func (m *ExchangeManager) handleDeclare(name string, params DeclareParams) exchangeDeclareResult {
	existing, ok := m.exchanges[name]
	if params.Passive {
		if !ok {
			return exchangeDeclareResult{err: newChannelError(CodeNotFound, 40, 10, "no exchange '"+name+"' in vhost '/'")}
		}
		return exchangeDeclareResult{exchange: existing}
	}

	if !ok {
		e := NewExchange(name, params.Kind, params.Durable, params.AutoDelete, params.Internal, m.logger)
		m.exchanges[name] = e
		return exchangeDeclareResult{exchange: e}
	}

	if existing.Kind != params.Kind || existing.Durable != params.Durable ||
		existing.AutoDelete != params.AutoDelete || existing.Internal != params.Internal {
		return exchangeDeclareResult{err: newChannelError(CodePreconditionFailed, 40, 10,
			"inequivalent arg '"+name+"' for exchange")}
	}
	return exchangeDeclareResult{exchange: existing}
}

func (m *ExchangeManager) handleBind(cmd *managerBindCmd) *RuntimeError {
	e, ok := m.exchanges[cmd.exchangeName]
	if !ok {
		return newChannelError(CodeNotFound, 50, 20, "no exchange '"+cmd.exchangeName+"' in vhost '/'")
	}
	if err := e.Bind(cmd.queueName, cmd.queue, cmd.routingKey, cmd.args); err != nil {
		return wrapf(err, CodeChannelError, 50, 20, "bind failed")
	}
	m.bindings = append(m.bindings, globalBinding{exchangeName: cmd.exchangeName, queueName: cmd.queueName, routingKey: cmd.routingKey})
	return nil
}

func (m *ExchangeManager) handleUnbind(cmd *managerUnbindCmd) *RuntimeError {
	e, ok := m.exchanges[cmd.exchangeName]
	if !ok {
		return newChannelError(CodeNotFound, 50, 50, "no exchange '"+cmd.exchangeName+"' in vhost '/'")
	}
	if err := e.Unbind(cmd.queueName, cmd.routingKey); err != nil {
		return wrapf(err, CodeChannelError, 50, 50, "unbind failed")
	}
	m.removeGlobalBinding(cmd.exchangeName, cmd.queueName, cmd.routingKey)
	return nil
}

func (m *ExchangeManager) handleUnbindAllForQueue(queueName string) {
	remaining := m.bindings[:0]
	for _, b := range m.bindings {
		if b.queueName == queueName {
			if e, ok := m.exchanges[b.exchangeName]; ok {
				_ = e.Unbind(b.queueName, b.routingKey)
			}
			continue
		}
		remaining = append(remaining, b)
	}
	m.bindings = remaining
}

func (m *ExchangeManager) removeGlobalBinding(exchangeName, queueName, routingKey string) {
	for i, b := range m.bindings {
		if b.exchangeName == exchangeName && b.queueName == queueName && b.routingKey == routingKey {
			m.bindings = append(m.bindings[:i], m.bindings[i+1:]...)
			return
		}
	}
}

type queueDeclareCmd struct {
	name   string
	params DeclareParams
	reply  chan queueDeclareResult
}

type queueDeclareResult struct {
	queue *Queue
	err   *RuntimeError
}

type queueLookupCmd struct {
	name  string
	reply chan *Queue
}

type queueDeleteCmd struct {
	name  string
	reply chan queueDeleteResult
}

type queueDeleteResult struct {
	messageCount int
	err          *RuntimeError
}

// QueueManager is the process-wide registry actor for queues, the queue
// analogue of ExchangeManager.
type QueueManager struct {
	inbox chan interface{}

	queues map[string]*Queue
	logger *zap.Logger
}

func NewQueueManager(logger *zap.Logger) *QueueManager {
	m := &QueueManager{
		inbox:  make(chan interface{}, 16),
		queues: make(map[string]*Queue),
		logger: logger,
	}
	go m.run()
	return m
}

func (m *QueueManager) run() {
	for cmd := range m.inbox {
		switch c := cmd.(type) {
		case *queueDeclareCmd:
			c.reply <- m.handleDeclare(c.name, c.params)
		case *queueLookupCmd:
			c.reply <- m.queues[c.name]
		case *queueDeleteCmd:
			c.reply <- m.handleDelete(c.name)
		}
	}
}

// Declare creates, validates, or rejects a queue by name. An empty name
// requests a server-generated anonymous queue (amq.gen-<uuid>), the
// amq.-reserved-prefix convention used across the AMQP ecosystem to keep
// generated names out of the way of user-declared ones.
func (m *QueueManager) Declare(name string, params DeclareParams) (string, *Queue, *RuntimeError) {
	if name == "" && !params.Passive {
		name = "amq.gen-" + uuid.NewString()
	}
	reply := make(chan queueDeclareResult, 1)
	m.inbox <- &queueDeclareCmd{name: name, params: params, reply: reply}
	res := <-reply
	return name, res.queue, res.err
}

// Lookup returns the queue handle for name, or nil if undeclared.
func (m *QueueManager) Lookup(name string) *Queue {
	reply := make(chan *Queue, 1)
	m.inbox <- &queueLookupCmd{name: name, reply: reply}
	return <-reply
}

// Delete stops and removes the named queue's actor, returning the
// number of messages it held pending.
func (m *QueueManager) Delete(name string) (int, *RuntimeError) {
	reply := make(chan queueDeleteResult, 1)
	m.inbox <- &queueDeleteCmd{name: name, reply: reply}
	res := <-reply
	return res.messageCount, res.err
}

func (m *QueueManager) handleDeclare(name string, params DeclareParams) queueDeclareResult {
	existing, ok := m.queues[name]
	if params.Passive {
		if !ok {
			return queueDeclareResult{err: newChannelError(CodeNotFound, 50, 10, "no queue '"+name+"' in vhost '/'")}
		}
		return queueDeclareResult{queue: existing}
	}

	if !ok {
		q := NewQueue(name, m.logger)
		m.queues[name] = q
		return queueDeclareResult{queue: q}
	}
	return queueDeclareResult{queue: existing}
}

func (m *QueueManager) handleDelete(name string) queueDeleteResult {
	q, ok := m.queues[name]
	if !ok {
		return queueDeleteResult{err: newChannelError(CodeNotFound, 50, 40, "no queue '"+name+"' in vhost '/'")}
	}
	stat := q.Stop()
	delete(m.queues, name)
	return queueDeleteResult{messageCount: stat.MessageCount}
}
