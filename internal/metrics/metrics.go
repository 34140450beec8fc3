package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors on a private
// registry so tests can create instances independently.
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived prometheus.Counter
	Rejects          *prometheus.CounterVec
	Routed           *prometheus.CounterVec
	Acks             *prometheus.CounterVec
	BackoffDropped   prometheus.Counter
	ThrottleBlocked  prometheus.Counter
	BrokerErrors     *prometheus.CounterVec
	BrokerRetries    prometheus.Counter
	SessionState     prometheus.Gauge
	PendingOrders    prometheus.Gauge
	Processing       prometheus.Histogram
}

// New creates and registers all gateway collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_messages_received_total",
			Help: "Total trade instruction frames received from the bus",
		}),
		Rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rejects_total",
			Help: "Total instructions rejected before reaching the broker",
		}, []string{"reason"}),
		Routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_routed_total",
			Help: "Total instructions routed to the broker",
		}, []string{"msg_type"}),
		Acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_acks_total",
			Help: "Total acknowledgements published",
		}, []string{"status"}),
		BackoffDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_backoff_dropped_total",
			Help: "Total instructions dropped while their retry key was backing off",
		}),
		ThrottleBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_throttle_blocked_total",
			Help: "Total instructions blocked by the rate throttle",
		}),
		BrokerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_errors_total",
			Help: "Total broker error events by code",
		}, []string{"code"}),
		BrokerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_retries_total",
			Help: "Total retryable broker errors that scheduled a backoff",
		}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_state",
			Help: "Broker session state (0 disconnected, 1 connecting, 2 connected)",
		}),
		PendingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_pending_orders",
			Help: "Commands buffered while the broker session is down",
		}),
		Processing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_processing_seconds",
			Help:    "Time spent handling one instruction end to end",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.MessagesReceived,
		m.Rejects,
		m.Routed,
		m.Acks,
		m.BackoffDropped,
		m.ThrottleBlocked,
		m.BrokerErrors,
		m.BrokerRetries,
		m.SessionState,
		m.PendingOrders,
		m.Processing,
	)
	return m
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry for test assertions.
func (m *Metrics) Gather() prometheus.Gatherer {
	return m.registry
}
