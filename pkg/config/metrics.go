package config

import (
	"github.com/marmos91/dsserver/pkg/metrics"
	promMetrics "github.com/marmos91/dsserver/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// ServerMetrics is the collector for the listener and dispatcher (never nil)
	ServerMetrics metrics.ServerMetrics

	// PoolMetrics is the collector for the worker pool (never nil)
	PoolMetrics metrics.PoolMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			ServerMetrics: metrics.NewNoopServerMetrics(),
			PoolMetrics:   metrics.NewNoopPoolMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:        server,
		ServerMetrics: promMetrics.NewServerMetrics(),
		PoolMetrics:   promMetrics.NewPoolMetrics(),
	}
}
