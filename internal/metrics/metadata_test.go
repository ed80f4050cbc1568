package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dray-io/bulkgc/internal/metadata"
)

func TestMetadataMetrics_Backends(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetadataMetrics(reg)

	status := metadata.NewInstrumentedStore(metadata.NewMemoryStore(), m.Backend("memory"))
	catalog := metadata.NewInstrumentedStore(metadata.NewMemoryStore(), m.Backend("badger"))
	ctx := context.Background()

	if _, err := status.Put(ctx, "/a", []byte("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// A version conflict is a successful round trip
	if _, err := status.Put(ctx, "/a", []byte("2"), metadata.WithExpectedVersion(0)); err != metadata.ErrVersionMismatch {
		t.Fatalf("Put with stale version = %v, want ErrVersionMismatch", err)
	}
	if _, err := catalog.Get(ctx, "/missing"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	mfs := gather(t, reg)
	requests := mustFamily(t, mfs, "bulkgc_metadata_operations_total")
	if got := getCounterValue(requests, map[string]string{"backend": "memory", "operation": metadata.OpPut, "status": StatusSuccess}); got != 2 {
		t.Errorf("Expected 2 successful memory puts, got %v", got)
	}
	if got := getCounterValue(requests, map[string]string{"backend": "badger", "operation": metadata.OpGet, "status": StatusSuccess}); got != 1 {
		t.Errorf("Expected 1 successful badger get, got %v", got)
	}

	latency := mustFamily(t, mfs, "bulkgc_metadata_operation_latency_seconds")
	if got := getHistogramCount(latency, map[string]string{"backend": "memory", "operation": metadata.OpPut, "status": StatusSuccess}); got != 2 {
		t.Errorf("Expected 2 put observations, got %d", got)
	}
}
