package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dray-io/bulkgc/internal/metadata"
)

// MetadataMetrics holds metrics related to metadata store operations, which
// back the command status log and the document catalog.
type MetadataMetrics struct {
	// LatencyHistogram tracks operation latencies broken down by operation type and status.
	// Labels: backend, operation (get, put, delete, list), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total operations by operation type and status.
	RequestsTotal *prometheus.CounterVec
}

// DefaultMetadataLatencyBuckets are latency buckets for metadata operations.
// Metadata operations are typically fast (sub-ms to tens of ms).
var DefaultMetadataLatencyBuckets = []float64{
	0.0001, // 0.1ms
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.002,  // 2ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
}

// NewMetadataMetrics creates metadata metrics registered with reg.
func NewMetadataMetrics(reg prometheus.Registerer) *MetadataMetrics {
	f := promauto.With(reg)
	return &MetadataMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "metadata",
				Name:      "operation_latency_seconds",
				Help:      "Metadata store operation latency in seconds, broken down by operation type and status.",
				Buckets:   DefaultMetadataLatencyBuckets,
			},
			[]string{"backend", "operation", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "metadata",
				Name:      "operations_total",
				Help:      "Total number of metadata store operations, broken down by operation type and status.",
			},
			[]string{"backend", "operation", "status"},
		),
	}
}

// Backend returns the recorder of one store, labelled with its backend
// (memory, badger, oxia).
func (m *MetadataMetrics) Backend(name string) metadata.MetricsRecorder {
	return backendRecorder{m: m, backend: name}
}

type backendRecorder struct {
	m       *MetadataMetrics
	backend string
}

// RecordMetadataOperation records an operation latency and increments the request counter.
func (r backendRecorder) RecordMetadataOperation(operation string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	r.m.LatencyHistogram.WithLabelValues(r.backend, operation, status).Observe(durationSeconds)
	r.m.RequestsTotal.WithLabelValues(r.backend, operation, status).Inc()
}
