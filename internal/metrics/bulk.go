package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dray-io/bulkgc/internal/bulk"
)

// BulkMetrics holds metrics of the bulk command service.
type BulkMetrics struct {
	// CommandsTotal counts state transitions.
	// Labels: action, state
	CommandsTotal *prometheus.CounterVec

	// ActiveCommands tracks commands that are not terminal yet.
	// Labels: action
	ActiveCommands *prometheus.GaugeVec

	// ItemsTotal counts applied ids.
	// Labels: action, outcome (succeeded, skipped, failed)
	ItemsTotal *prometheus.CounterVec

	// BucketCommitLatency tracks the latency of bucket status commits.
	// Labels: action, status (success, failure)
	BucketCommitLatency *prometheus.HistogramVec
}

// DefaultCommitLatencyBuckets are latency buckets for status commits, which
// are metadata writes including compare-and-set retries.
var DefaultCommitLatencyBuckets = []float64{
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	5.0,    // 5s
}

// NewBulkMetrics creates bulk metrics registered with reg.
func NewBulkMetrics(reg prometheus.Registerer) *BulkMetrics {
	f := promauto.With(reg)
	return &BulkMetrics{
		CommandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bulk",
				Name:      "command_states_total",
				Help:      "Number of bulk commands entering each state, by action.",
			},
			[]string{"action", "state"},
		),
		ActiveCommands: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bulk",
				Name:      "active_commands",
				Help:      "Number of bulk commands submitted and not terminal yet.",
			},
			[]string{"action"},
		),
		ItemsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bulk",
				Name:      "items_total",
				Help:      "Number of ids applied, by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		BucketCommitLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "bulk",
				Name:      "bucket_commit_latency_seconds",
				Help:      "Latency of bucket status commits in seconds.",
				Buckets:   DefaultCommitLatencyBuckets,
			},
			[]string{"action", "status"},
		),
	}
}

// RecordCommandState counts a state transition and maintains the active
// gauge: SCHEDULED enters it, terminal states leave it.
func (m *BulkMetrics) RecordCommandState(action string, state bulk.State) {
	m.CommandsTotal.WithLabelValues(action, string(state)).Inc()
	switch {
	case state == bulk.StateScheduled:
		m.ActiveCommands.WithLabelValues(action).Inc()
	case state.IsTerminal():
		m.ActiveCommands.WithLabelValues(action).Dec()
	}
}

// RecordItems counts n ids with the given outcome.
func (m *BulkMetrics) RecordItems(action string, outcome bulk.OutcomeStatus, n int64) {
	if n <= 0 {
		return
	}
	m.ItemsTotal.WithLabelValues(action, outcome.String()).Add(float64(n))
}

// RecordBucketCommit records one bucket commit.
func (m *BulkMetrics) RecordBucketCommit(action string, seconds float64, success bool) {
	m.BucketCommitLatency.WithLabelValues(action, statusLabel(success)).Observe(seconds)
}

var _ bulk.Metrics = (*BulkMetrics)(nil)
