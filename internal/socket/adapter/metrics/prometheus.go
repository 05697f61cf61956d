package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SocketGaugeName is the metric carrying the number of open sockets.
const SocketGaugeName = "apparyllis_api_sockets"

// PrometheusMetrics records socket activity.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	messagesSent  *prometheus.CounterVec
	sendFailures  *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	connections   *prometheus.CounterVec
}

// NewPrometheusMetrics registers the socket metrics on a fresh registry.
// openSockets is sampled on every scrape.
func NewPrometheusMetrics(openSockets func() int) *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		messagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socket_messages_sent_total",
				Help: "Frames written to sockets by message kind",
			},
			[]string{"kind"},
		),
		sendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socket_send_failures_total",
				Help: "Failed socket writes by message kind",
			},
			[]string{"kind"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socket_events_dropped_total",
				Help: "Change events not delivered by collection and reason",
			},
			[]string{"collection", "reason"},
		),
		connections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socket_lifecycle_events_total",
				Help: "Socket lifecycle transitions",
			},
			[]string{"event"},
		),
	}

	m.registry.MustRegister(
		m.messagesSent,
		m.sendFailures,
		m.eventsDropped,
		m.connections,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: SocketGaugeName,
				Help: "Amount of open sockets",
			},
			func() float64 { return float64(openSockets()) },
		),
		collectors.NewGoCollector(),
	)
	return m
}

func (m *PrometheusMetrics) MessageSent(kind string) {
	m.messagesSent.WithLabelValues(kind).Inc()
}

func (m *PrometheusMetrics) SendFailed(kind string) {
	m.sendFailures.WithLabelValues(kind).Inc()
}

func (m *PrometheusMetrics) EventDropped(collection, reason string) {
	m.eventsDropped.WithLabelValues(collection, reason).Inc()
}

// Lifecycle counts a socket lifecycle transition such as socket.connected.
func (m *PrometheusMetrics) Lifecycle(event string) {
	m.connections.WithLabelValues(event).Inc()
}

// Registry exposes the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
