package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages durably appended to the store.",
	})
	PushesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_pushes_delivered_total",
		Help: "Payloads pushed to live connections.",
	})
	PushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_push_failures_total",
		Help: "Pushes dropped because the connection errored.",
	})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_active",
		Help: "Live websocket connections on this instance.",
	})
	FanoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_fanout_duration_seconds",
		Help:    "Time to fan a message out to all live recipients.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler returns the scrape endpoint for Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}
