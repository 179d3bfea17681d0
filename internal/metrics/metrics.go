// Package metrics exposes the broker's operational counters and gauges
// as Prometheus collectors, following the HTTP-exposed metrics surface
// pattern the packetd pack member wires up alongside gorilla/mux.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections is the number of currently open AMQP connections.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relaymq",
		Name:      "connections_open",
		Help:      "Number of currently open AMQP connections.",
	})

	// MessagesRouted counts messages an exchange actor has dispatched to
	// at least one bound queue, labeled by exchange name.
	MessagesRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaymq",
		Name:      "messages_routed_total",
		Help:      "Messages routed by an exchange, labeled by exchange name.",
	}, []string{"exchange"})

	// QueueDepth is the current pending-message count of a queue,
	// labeled by queue name.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relaymq",
		Name:      "queue_depth",
		Help:      "Current pending message count of a queue.",
	}, []string{"queue"})
)

func init() {
	prometheus.MustRegister(Connections, MessagesRouted, QueueDepth)
}

// Handler returns the HTTP handler serving the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
