package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dray-io/bulkgc/internal/bulk"
)

func TestBulkMetrics_CommandStates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBulkMetrics(reg)

	for _, state := range []bulk.State{bulk.StateScheduled, bulk.StateScrollingRunning, bulk.StateRunning, bulk.StateCompleted} {
		m.RecordCommandState("delete", state)
	}
	m.RecordCommandState("delete", bulk.StateScheduled)
	m.RecordCommandState("setProperties", bulk.StateScheduled)
	m.RecordCommandState("setProperties", bulk.StateAborted)

	mfs := gather(t, reg)
	states := mustFamily(t, mfs, "bulkgc_bulk_command_states_total")
	if got := getCounterValue(states, map[string]string{"action": "delete", "state": string(bulk.StateScheduled)}); got != 2 {
		t.Errorf("Expected 2 scheduled deletes, got %v", got)
	}
	if got := getCounterValue(states, map[string]string{"action": "setProperties", "state": string(bulk.StateAborted)}); got != 1 {
		t.Errorf("Expected 1 aborted setProperties, got %v", got)
	}

	active := mustFamily(t, mfs, "bulkgc_bulk_active_commands")
	if got := getGaugeValue(active, map[string]string{"action": "delete"}); got != 1 {
		t.Errorf("Expected 1 active delete, got %v", got)
	}
	if got := getGaugeValue(active, map[string]string{"action": "setProperties"}); got != 0 {
		t.Errorf("Expected 0 active setProperties, got %v", got)
	}
}

func TestBulkMetrics_Items(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBulkMetrics(reg)

	m.RecordItems("delete", bulk.Succeeded, 7)
	m.RecordItems("delete", bulk.Skipped, 2)
	m.RecordItems("delete", bulk.Failed, 0)
	m.RecordBucketCommit("delete", 0.004, true)
	m.RecordBucketCommit("delete", 1.5, false)

	mfs := gather(t, reg)
	items := mustFamily(t, mfs, "bulkgc_bulk_items_total")
	if got := getCounterValue(items, map[string]string{"action": "delete", "outcome": "succeeded"}); got != 7 {
		t.Errorf("Expected 7 succeeded, got %v", got)
	}
	if got := getCounterValue(items, map[string]string{"action": "delete", "outcome": "skipped"}); got != 2 {
		t.Errorf("Expected 2 skipped, got %v", got)
	}
	// Zero counts create no series
	if len(items.Metric) != 2 {
		t.Errorf("Expected 2 item series, got %d", len(items.Metric))
	}

	commits := mustFamily(t, mfs, "bulkgc_bulk_bucket_commit_latency_seconds")
	if got := getHistogramCount(commits, map[string]string{"action": "delete", "status": StatusSuccess}); got != 1 {
		t.Errorf("Expected 1 successful commit, got %d", got)
	}
	if got := getHistogramCount(commits, map[string]string{"action": "delete", "status": StatusFailure}); got != 1 {
		t.Errorf("Expected 1 failed commit, got %d", got)
	}
}
