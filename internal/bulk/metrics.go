package bulk

// Metrics receives the service's measurements.
type Metrics interface {
	// RecordCommandState is called on every state a command enters.
	RecordCommandState(action string, state State)

	// RecordItems counts applied ids by outcome.
	RecordItems(action string, outcome OutcomeStatus, n int64)

	// RecordBucketCommit records the latency of one bucket commit.
	RecordBucketCommit(action string, seconds float64, success bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordCommandState(string, State)         {}
func (nopMetrics) RecordItems(string, OutcomeStatus, int64) {}
func (nopMetrics) RecordBucketCommit(string, float64, bool) {}
