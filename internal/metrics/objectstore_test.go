package metrics

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dray-io/bulkgc/internal/objectstore"
)

func TestObjectStoreMetrics_NewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetrics(reg)

	if m.LatencyHistogram == nil {
		t.Error("LatencyHistogram should not be nil")
	}
	if m.RequestsTotal == nil {
		t.Error("RequestsTotal should not be nil")
	}
	if m.BytesTotal == nil {
		t.Error("BytesTotal should not be nil")
	}

	// Vec types are not exposed until they have observations
	m.RecordOperation(objectstore.OpPut, 0.01, true, 100)

	if mfs := gather(t, reg); len(mfs) != 3 {
		t.Errorf("Expected 3 metric families, got %d", len(mfs))
	}
}

func TestObjectStoreMetrics_RecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetrics(reg)

	m.RecordOperation(objectstore.OpPut, 0.1, true, 1024)
	m.RecordOperation(objectstore.OpPut, 0.2, false, 512)
	m.RecordOperation(objectstore.OpGet, 0.05, true, 2048)
	m.RecordOperation(objectstore.OpDelete, 0.01, true, 0)
	m.RecordOperation(objectstore.OpCopy, 0.3, true, 4096)

	mfs := gather(t, reg)

	latencyMF := mustFamily(t, mfs, "bulkgc_objectstore_operation_latency_seconds")
	if got := getHistogramCount(latencyMF, map[string]string{"operation": objectstore.OpPut, "status": StatusFailure}); got != 1 {
		t.Errorf("Expected 1 failed put observation, got %d", got)
	}

	requestsMF := mustFamily(t, mfs, "bulkgc_objectstore_operations_total")
	tests := []struct {
		op     string
		status string
		want   float64
	}{
		{objectstore.OpPut, StatusSuccess, 1},
		{objectstore.OpPut, StatusFailure, 1},
		{objectstore.OpGet, StatusSuccess, 1},
		{objectstore.OpDelete, StatusSuccess, 1},
		{objectstore.OpCopy, StatusSuccess, 1},
	}
	for _, tt := range tests {
		if got := getCounterValue(requestsMF, map[string]string{"operation": tt.op, "status": tt.status}); got != tt.want {
			t.Errorf("%s/%s = %v, want %v", tt.op, tt.status, got, tt.want)
		}
	}

	// Failed puts and copies do not count bytes
	bytesMF := mustFamily(t, mfs, "bulkgc_objectstore_bytes_total")
	if got := getCounterValue(bytesMF, map[string]string{"direction": DirectionWrite}); got != 1024 {
		t.Errorf("Expected 1024 bytes written, got %v", got)
	}
	if got := getCounterValue(bytesMF, map[string]string{"direction": DirectionRead}); got != 2048 {
		t.Errorf("Expected 2048 bytes read, got %v", got)
	}
}

func TestObjectStoreMetrics_InstrumentedStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetrics(reg)
	store := objectstore.NewInstrumentedStore(objectstore.NewMemoryStore(), m)
	ctx := context.Background()

	if err := store.Put(ctx, "k", strings.NewReader("hello"), 5, "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := io.ReadAll(rc); err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	rc.Close()

	// Not found is a successful lookup
	if _, err := store.Head(ctx, "missing"); !objectstore.IsNotFound(err) {
		t.Fatalf("Head(missing) = %v, want not found", err)
	}

	mfs := gather(t, reg)
	requestsMF := mustFamily(t, mfs, "bulkgc_objectstore_operations_total")
	if got := getCounterValue(requestsMF, map[string]string{"operation": objectstore.OpHead, "status": StatusSuccess}); got != 1 {
		t.Errorf("Expected 1 successful head, got %v", got)
	}
	bytesMF := mustFamily(t, mfs, "bulkgc_objectstore_bytes_total")
	if got := getCounterValue(bytesMF, map[string]string{"direction": DirectionRead}); got != 5 {
		t.Errorf("Expected 5 bytes read, got %v", got)
	}
	if got := getCounterValue(bytesMF, map[string]string{"direction": DirectionWrite}); got != 5 {
		t.Errorf("Expected 5 bytes written, got %v", got)
	}
}
