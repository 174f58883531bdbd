// Package metrics provides Prometheus instrumentation for the lingua
// server: gauges for connection and presence counts, counters for message
// throughput and translation degradation, and a latency histogram for the
// relay pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lingua_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current size of the presence registry.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lingua_online_users",
		Help: "Current number of users registered as online",
	})

	// MessagesTotal counts relayed messages, labeled by message type.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingua_messages_total",
		Help: "Total number of messages relayed",
	}, []string{"type"}) // type = "text", "image", "system", "call_invite"

	// TranslationFailures counts sends that fell back to the tagged
	// untranslated text.
	TranslationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lingua_translation_failures_total",
		Help: "Total number of messages delivered with fallback translation",
	})

	// RelayLatency records end-to-end message pipeline latency in seconds.
	RelayLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lingua_relay_latency_seconds",
		Help:    "Message pipeline latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ConnectionRequests counts lifecycle operations by outcome.
	ConnectionRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingua_connection_requests_total",
		Help: "Total connection lifecycle transitions",
	}, []string{"action"}) // action = "created", "accepted", "rejected", "cancelled"
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		TranslationFailures,
		RelayLatency,
		ConnectionRequests,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
