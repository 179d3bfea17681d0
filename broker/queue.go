package broker

import (
	"go.uber.org/zap"

	"github.com/relaymq/relaymq/internal/metrics"
	"github.com/relaymq/relaymq/internal/queue"
)

// Consumer is a queue actor's one-way handle into a subscribed
// connection: messages routed to this consumer are sent here, and a
// forwarder goroutine owned by the connection turns each into a
// basic.deliver + content header + content body frame triple, assigning
// the per-channel delivery tag at send time.
type Consumer struct {
	Tag      string
	Endpoint chan *Message
}

// Stat reports a queue's current size, used both for queue.declare-ok's
// message_count field and the depth gauge.
type Stat struct {
	MessageCount  int
	ConsumerCount int
}

type enqueueCmd struct {
	msg *Message
}

type consumeCmd struct {
	consumer *Consumer
	reply    chan error
}

type cancelCmd struct {
	tag   string
	reply chan error
}

type statCmd struct {
	reply chan Stat
}

type stopQueueCmd struct {
	reply chan Stat
}

// Queue is a single-goroutine actor owning one queue's pending message
// buffer and consumer set; it is never accessed from outside its own
// run loop.
type Queue struct {
	Name string

	inbox chan interface{}
	done  chan struct{}

	pending   *queue.Queue[Message]
	consumers map[string]*Consumer
	order     []string
	nextIdx   int

	logger *zap.Logger
}

// NewQueue starts a queue actor goroutine and returns a handle to it.
func NewQueue(name string, logger *zap.Logger) *Queue {
	q := &Queue{
		Name:      name,
		inbox:     make(chan interface{}, 16),
		done:      make(chan struct{}),
		pending:   queue.New[Message](64),
		consumers: make(map[string]*Consumer),
		logger:    logger.With(zap.String("queue", name)),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for cmd := range q.inbox {
		switch c := cmd.(type) {
		case *enqueueCmd:
			q.handleEnqueue(c.msg)
		case *consumeCmd:
			q.handleConsume(c)
		case *cancelCmd:
			q.handleCancel(c)
		case *statCmd:
			c.reply <- q.stat()
		case *stopQueueCmd:
			c.reply <- q.stat()
			return
		}
	}
}

// Enqueue routes a message to this queue: fanned out to the next
// round-robin consumer if any are subscribed, else appended to the
// pending buffer.
func (q *Queue) Enqueue(msg *Message) {
	q.inbox <- &enqueueCmd{msg: msg}
}

// Consume registers a new consumer, draining any pending backlog to it
// before the caller's reply channel is signalled.
func (q *Queue) Consume(c *Consumer) error {
	reply := make(chan error, 1)
	q.inbox <- &consumeCmd{consumer: c, reply: reply}
	return <-reply
}

// Cancel removes a consumer by tag.
func (q *Queue) Cancel(tag string) error {
	reply := make(chan error, 1)
	q.inbox <- &cancelCmd{tag: tag, reply: reply}
	return <-reply
}

// QueryStat returns the current pending count and consumer count.
func (q *Queue) QueryStat() Stat {
	reply := make(chan Stat, 1)
	q.inbox <- &statCmd{reply: reply}
	return <-reply
}

// Stop terminates the queue actor, returning its final stat snapshot.
func (q *Queue) Stop() Stat {
	reply := make(chan Stat, 1)
	q.inbox <- &stopQueueCmd{reply: reply}
	s := <-reply
	close(q.inbox)
	<-q.done
	return s
}

func (q *Queue) handleEnqueue(msg *Message) {
	defer q.reportDepth()

	if len(q.order) == 0 {
		q.pending.Enqueue(*msg)
		return
	}
	tag := q.order[q.nextIdx%len(q.order)]
	q.nextIdx++
	c, ok := q.consumers[tag]
	if !ok {
		// Stale entry raced with a cancel; fall back to buffering.
		q.pending.Enqueue(*msg)
		return
	}
	c.Endpoint <- msg
}

func (q *Queue) reportDepth() {
	metrics.QueueDepth.WithLabelValues(q.Name).Set(float64(q.pending.Len()))
}

func (q *Queue) handleConsume(cmd *consumeCmd) {
	if _, exists := q.consumers[cmd.consumer.Tag]; exists {
		cmd.reply <- errDuplicateConsumerTag
		return
	}
	q.consumers[cmd.consumer.Tag] = cmd.consumer
	q.order = append(q.order, cmd.consumer.Tag)

	for {
		item := q.pending.Dequeue()
		if item == nil {
			break
		}
		msg := *item
		cmd.consumer.Endpoint <- &msg
	}
	q.reportDepth()
	cmd.reply <- nil
}

func (q *Queue) handleCancel(cmd *cancelCmd) {
	if _, ok := q.consumers[cmd.tag]; !ok {
		cmd.reply <- errUnknownConsumerTag
		return
	}
	delete(q.consumers, cmd.tag)
	for i, t := range q.order {
		if t == cmd.tag {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	if q.nextIdx > 0 && len(q.order) > 0 {
		q.nextIdx = q.nextIdx % len(q.order)
	} else {
		q.nextIdx = 0
	}
	cmd.reply <- nil
}

func (q *Queue) stat() Stat {
	return Stat{MessageCount: q.pending.Len(), ConsumerCount: len(q.consumers)}
}
