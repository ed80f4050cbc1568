package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewGCMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGCMetrics(reg)

	m.RecordSwept("main", 100)
	m.RecordSwept("main", 50)
	m.RecordSwept("archive", 10)
	m.RecordDeleted("main", 50)

	mfs := gather(t, reg)

	expected := []struct {
		name     string
		provider string
		want     float64
	}{
		{"bulkgc_gc_swept_bytes_total", "main", 150},
		{"bulkgc_gc_swept_keys_total", "main", 2},
		{"bulkgc_gc_swept_bytes_total", "archive", 10},
		{"bulkgc_gc_deleted_bytes_total", "main", 50},
		{"bulkgc_gc_deleted_keys_total", "main", 1},
	}
	for _, e := range expected {
		mf := mustFamily(t, mfs, e.name)
		if got := getCounterValue(mf, map[string]string{"provider": e.provider}); got != e.want {
			t.Errorf("%s{provider=%q} = %v, want %v", e.name, e.provider, got, e.want)
		}
	}

	if mf := findMetricFamily(mfs, "bulkgc_gc_deleted_bytes_total"); len(mf.Metric) != 1 {
		t.Errorf("Expected deletions for one provider only, got %d series", len(mf.Metric))
	}
}
