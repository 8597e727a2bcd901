package prometheus

import (
	"time"

	"github.com/marmos91/dsserver/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type poolMetrics struct {
	workers        *prometheus.GaugeVec
	workersCreated prometheus.Counter
	workersRetired *prometheus.CounterVec
	taskDuration   prometheus.Histogram
}

// NewPoolMetrics returns a Prometheus-backed metrics.PoolMetrics, or the
// no-op implementation when the registry is not initialized.
func NewPoolMetrics() metrics.PoolMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopPoolMetrics()
	}

	reg := metrics.GetRegistry()

	return &poolMetrics{
		workers: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dsserver_pool_workers",
				Help: "Pooled workers by state",
			},
			[]string{"state"},
		),
		workersCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dsserver_pool_workers_created_total",
			Help: "Total number of workers created",
		}),
		workersRetired: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsserver_pool_workers_retired_total",
				Help: "Total number of workers retired by reason",
			},
			[]string{"reason"},
		),
		taskDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "dsserver_pool_task_duration_seconds",
			Help:    "Time a worker spent serving one client",
			Buckets: prometheus.ExponentialBuckets(0.001, 10, 7),
		}),
	}
}

func (m *poolMetrics) SetWorkers(total, idle, busy int) {
	m.workers.WithLabelValues("total").Set(float64(total))
	m.workers.WithLabelValues("idle").Set(float64(idle))
	m.workers.WithLabelValues("busy").Set(float64(busy))
}

func (m *poolMetrics) RecordWorkerCreated() {
	m.workersCreated.Inc()
}

func (m *poolMetrics) RecordWorkerRetired(reason string) {
	m.workersRetired.WithLabelValues(reason).Inc()
}

func (m *poolMetrics) RecordTaskDuration(duration time.Duration) {
	m.taskDuration.Observe(duration.Seconds())
}
