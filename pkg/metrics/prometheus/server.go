package prometheus

import (
	"time"

	"github.com/marmos91/dsserver/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics is the Prometheus implementation of metrics.ServerMetrics.
type serverMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	activeClients          prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	acceptTimeouts         prometheus.Counter
	acceptFailures         prometheus.Counter
	rateLimited            prometheus.Counter
}

// NewServerMetrics returns a Prometheus-backed metrics.ServerMetrics, or the
// no-op implementation when the registry is not initialized.
func NewServerMetrics() metrics.ServerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopServerMetrics()
	}

	reg := metrics.GetRegistry()

	return &serverMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsserver_requests_total",
				Help: "Total number of requests by kind and status",
			},
			[]string{"kind", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dsserver_request_duration_milliseconds",
				Help: "Duration of request handling in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"kind"},
		),
		activeClients: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dsserver_active_clients",
			Help: "Current number of connected clients",
		}),
		connectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dsserver_connections_accepted_total",
			Help: "Total number of accepted client connections",
		}),
		connectionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dsserver_connections_closed_total",
			Help: "Total number of closed client connections",
		}),
		connectionsForceClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dsserver_connections_force_closed_total",
			Help: "Connections closed because shutdown timed out",
		}),
		acceptTimeouts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dsserver_accept_timeouts_total",
			Help: "Accept waits that expired without a client",
		}),
		acceptFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dsserver_accept_failures_total",
			Help: "Accept calls that failed with an error other than a timeout",
		}),
		rateLimited: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dsserver_rate_limited_total",
			Help: "Payload requests delayed by the rate limiter",
		}),
	}
}

func (m *serverMetrics) RecordRequest(kind string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.requestsTotal.WithLabelValues(kind, status).Inc()
	m.requestDuration.WithLabelValues(kind).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *serverMetrics) SetActiveClients(count int) {
	m.activeClients.Set(float64(count))
}

func (m *serverMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *serverMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *serverMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *serverMetrics) RecordAcceptTimeout() {
	m.acceptTimeouts.Inc()
}

func (m *serverMetrics) RecordAcceptFailure() {
	m.acceptFailures.Inc()
}

func (m *serverMetrics) RecordRateLimited() {
	m.rateLimited.Inc()
}
