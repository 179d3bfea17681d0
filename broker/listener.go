package broker

import (
	"net"

	"go.uber.org/zap"
)

// Broker owns the process-wide resource plane (the exchange and queue
// registries) and accepts inbound AMQP connections. One goroutine is
// spawned per accepted socket, per spec.md §5's scheduling model.
type Broker struct {
	Exchanges *ExchangeManager
	Queues    *QueueManager
	logger    *zap.Logger
}

// New constructs a Broker with fresh, empty registries.
func New(logger *zap.Logger) *Broker {
	return &Broker{
		Exchanges: NewExchangeManager(logger),
		Queues:    NewQueueManager(logger),
		logger:    logger,
	}
}

// Serve accepts connections on ln until it is closed or returns an
// error. Each accepted connection is handed to its own goroutine and
// Serve never blocks on a single connection's lifetime.
func (b *Broker) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		c := NewConnection(conn, b.Exchanges, b.Queues, b.logger)
		go c.Serve()
	}
}
