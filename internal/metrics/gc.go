package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GCMetrics holds metrics related to orphan blob collection.
type GCMetrics struct {
	// SweptBytes tracks the bytes of every key examined by a sweep.
	// Labels: provider
	SweptBytes *prometheus.CounterVec

	// SweptKeys tracks the number of keys examined by a sweep.
	// Labels: provider
	SweptKeys *prometheus.CounterVec

	// DeletedBytes tracks the bytes of orphan blobs deleted.
	// Labels: provider
	DeletedBytes *prometheus.CounterVec

	// DeletedKeys tracks the number of orphan blobs deleted.
	// Labels: provider
	DeletedKeys *prometheus.CounterVec
}

// NewGCMetrics creates GC metrics registered with reg.
func NewGCMetrics(reg prometheus.Registerer) *GCMetrics {
	f := promauto.With(reg)
	counter := func(name, help string) *prometheus.CounterVec {
		return f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      name,
				Help:      help,
			},
			[]string{"provider"},
		)
	}
	return &GCMetrics{
		SweptBytes:   counter("swept_bytes_total", "Bytes of blob keys examined by orphan sweeps."),
		SweptKeys:    counter("swept_keys_total", "Number of blob keys examined by orphan sweeps."),
		DeletedBytes: counter("deleted_bytes_total", "Bytes of orphan blobs deleted."),
		DeletedKeys:  counter("deleted_keys_total", "Number of orphan blobs deleted."),
	}
}

// RecordSwept records one examined key of size bytes.
func (m *GCMetrics) RecordSwept(provider string, bytes int64) {
	m.SweptKeys.WithLabelValues(provider).Inc()
	m.SweptBytes.WithLabelValues(provider).Add(float64(bytes))
}

// RecordDeleted records one deleted key of size bytes.
func (m *GCMetrics) RecordDeleted(provider string, bytes int64) {
	m.DeletedKeys.WithLabelValues(provider).Inc()
	m.DeletedBytes.WithLabelValues(provider).Add(float64(bytes))
}
