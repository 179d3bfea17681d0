package broker

// consumerRuntime pairs a queue-side Consumer handle with the stop
// signal its connection-owned forwarder goroutine watches.
type consumerRuntime struct {
	consumer  *Consumer
	queueName string
	stop      chan struct{}
}

// channelState is per-channel mutable state owned by its connection.
// Every field except deliveryTag is touched only by the connection's own
// read-loop goroutine; deliveryTag is shared with that channel's
// consumer forwarder goroutines and is updated atomically.
type channelState struct {
	inFlight *PublishedContent

	consumers map[string]*consumerRuntime

	deliveryTag uint64
}

func newChannelState() *channelState {
	return &channelState{
		consumers: make(map[string]*consumerRuntime),
	}
}
