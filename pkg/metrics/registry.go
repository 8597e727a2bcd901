// Package metrics defines the observability seams of the server core.
//
// The server and worker pool only see the ServerMetrics and PoolMetrics
// interfaces. Nil values fall back to no-op implementations, and the
// Prometheus implementations in the prometheus subpackage are only
// created when the global registry has been initialized.
//
// Usage:
//
//	metrics.InitRegistry()
//	srv, err := server.New(cfg, handler,
//	    server.WithMetrics(prometheus.NewServerMetrics(), prometheus.NewPoolMetrics()))
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// write-once via registryOnce
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// Subsequent calls are ignored. Without it, GetRegistry returns nil and the
// prometheus constructors return no-op implementations.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil if InitRegistry has not been called.
func GetRegistry() *prometheus.Registry {
	return registry
}

func IsEnabled() bool {
	return GetRegistry() != nil
}
