// Package metrics provides Prometheus metrics collection for dittoclient.
//
// All metrics are optional - if not initialized, constructors return nil and
// callers fall back to no-op implementations. This allows the client to run
// with or without metrics collection enabled.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	conn, err := fsclient.Connect(ctx, endpoint, principal,
//	    fsclient.WithMetrics(metrics.NewClientMetrics()),
//	    fsclient.WithBackendMetrics(metrics.NewBackendMetrics("nfs")),
//	)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is the global Prometheus registry for all dittoclient metrics
	// Protected by registryOnce for write-once, read-many pattern
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// This must be called before creating any metrics instances. It's safe to call
// multiple times - subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry, or nil if
// InitRegistry() has not been called.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if metrics collection is enabled.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// durationBuckets cover a local metadata call up to a slow multi-part
// upload.
var durationBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.5,   // 500ms
	1.0,   // 1s
	5.0,   // 5s
	30.0,  // 30s
	120.0, // 2min
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
