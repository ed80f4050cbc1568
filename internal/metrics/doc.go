// Package metrics provides Prometheus metrics for observability.
//
// This package exposes:
//   - bulk commands by action and state, items by outcome, bucket commit
//     latency
//   - GC bytes swept and deleted per provider
//   - object store operation latency and bytes by direction
//   - metadata store operation latency and status commit retries
//
// Every constructor takes the prometheus.Registerer to register with, so
// tests can use a private registry. Metrics are exposed via a dedicated HTTP
// server on /metrics in Prometheus format.
//
// Usage:
//
//	reg := prometheus.DefaultRegisterer
//	bulkMetrics := metrics.NewBulkMetrics(reg)
//	store := objectstore.NewInstrumentedStore(backend, metrics.NewObjectStoreMetrics(reg))
//
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

const namespace = "bulkgc"

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}
