package metrics

import (
	"sync"
	"time"

	"github.com/marmos91/dittoclient/pkg/backend"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// backendCollectors are shared by every driver; the driver name is a label.
// They are registered once because promauto panics on duplicate
// registration and a process may open many connections.
type backendCollectors struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

var (
	backendOnce sync.Once
	backendVecs *backendCollectors
)

func getBackendCollectors() *backendCollectors {
	backendOnce.Do(func() {
		reg := GetRegistry()
		backendVecs = &backendCollectors{
			operationsTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittoclient_backend_operations_total",
					Help: "Total number of backend operations by driver, operation and status",
				},
				[]string{"driver", "operation", "status"},
			),
			operationDuration: promauto.With(reg).NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dittoclient_backend_operation_duration_seconds",
					Help:    "Duration of backend operations in seconds",
					Buckets: durationBuckets,
				},
				[]string{"driver", "operation"},
			),
			bytesTransferred: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittoclient_backend_bytes_total",
					Help: "Total bytes moved through backend streams",
				},
				[]string{"driver", "operation"}, // read or write
			),
			errorsTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittoclient_backend_errors_total",
					Help: "Total number of backend operation errors by driver and operation",
				},
				[]string{"driver", "operation"},
			),
		}
	})
	return backendVecs
}

// backendMetrics is the Prometheus implementation of backend.Metrics for
// one driver.
type backendMetrics struct {
	driver string
	vecs   *backendCollectors
}

// NewBackendMetrics creates a Prometheus-backed backend.Metrics labelled
// with driver.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// leaves the backend uninstrumented.
func NewBackendMetrics(driver string) backend.Metrics {
	if !IsEnabled() {
		return nil
	}
	return &backendMetrics{driver: driver, vecs: getBackendCollectors()}
}

// ObserveOperation implements backend.Metrics.ObserveOperation
func (m *backendMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if err != nil {
		m.vecs.errorsTotal.WithLabelValues(m.driver, operation).Inc()
	}
	m.vecs.operationsTotal.WithLabelValues(m.driver, operation, statusLabel(err)).Inc()
	m.vecs.operationDuration.WithLabelValues(m.driver, operation).Observe(duration.Seconds())
}

// RecordBytes implements backend.Metrics.RecordBytes
func (m *backendMetrics) RecordBytes(operation string, bytes int64) {
	m.vecs.bytesTransferred.WithLabelValues(m.driver, operation).Add(float64(bytes))
}
