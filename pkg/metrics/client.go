package metrics

import (
	"sync"
	"time"

	"github.com/marmos91/dittoclient/pkg/fsclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// clientMetrics is the Prometheus implementation of fsclient.Metrics.
//
// It collects:
//   - Operation counts by operation and outcome (success or error kind)
//   - Operation latency
//   - Bytes moved by uploads, downloads and streams
type clientMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

var (
	clientOnce sync.Once
	clientVecs *clientMetrics
)

// NewClientMetrics creates a Prometheus-backed fsclient.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the client to use its built-in no-op implementation. Every call
// returns the same collectors.
func NewClientMetrics() fsclient.Metrics {
	if !IsEnabled() {
		return nil
	}

	clientOnce.Do(func() {
		reg := GetRegistry()
		clientVecs = &clientMetrics{
			operationsTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittoclient_operations_total",
					Help: "Total number of client operations by operation and outcome",
				},
				[]string{"operation", "status"},
			),
			operationDuration: promauto.With(reg).NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dittoclient_operation_duration_seconds",
					Help:    "Duration of client operations in seconds",
					Buckets: durationBuckets,
				},
				[]string{"operation"},
			),
			bytesTransferred: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittoclient_bytes_transferred_total",
					Help: "Total bytes transferred by direction",
				},
				[]string{"direction"}, // upload or download
			),
		}
	})
	return clientVecs
}

// ObserveOperation implements fsclient.Metrics.ObserveOperation. Failures
// are labelled with their error kind.
func (m *clientMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = fsclient.KindOf(err).String()
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTransfer implements fsclient.Metrics.RecordTransfer
func (m *clientMetrics) RecordTransfer(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}
