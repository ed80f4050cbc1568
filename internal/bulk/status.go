package bulk

import (
	"encoding/json"
	"maps"
	"time"
)

// State is the lifecycle state of a command.
type State string

const (
	StateScheduled        State = "SCHEDULED"
	StateScrollingRunning State = "SCROLLING_RUNNING"
	StateRunning          State = "RUNNING"
	StateAborted          State = "ABORTED"
	StateCompleted        State = "COMPLETED"
)

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	return s == StateAborted || s == StateCompleted
}

func (s State) rank() int {
	switch s {
	case StateScheduled:
		return 1
	case StateScrollingRunning:
		return 2
	case StateRunning:
		return 3
	case StateAborted, StateCompleted:
		return 4
	}
	return 0
}

// advance moves to next unless that would go backwards or leave a
// terminal state.
func (s *Status) advance(next State) bool {
	if s.State.IsTerminal() || next.rank() < s.State.rank() {
		return false
	}
	s.State = next
	return true
}

// Status is the persisted progress of a command.
type Status struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	Username   string `json:"username"`
	Repository string `json:"repository"`
	Query      string `json:"query,omitempty"`
	State      State  `json:"state"`

	Total      int64 `json:"total"`
	Processed  int64 `json:"processed"`
	SkipCount  int64 `json:"skipCount"`
	ErrorCount int64 `json:"errorCount"`
	ScrollDone bool  `json:"scrollDone"`

	SubmitTime          *time.Time `json:"submitTime,omitempty"`
	ScrollStartTime     *time.Time `json:"scrollStartTime,omitempty"`
	ScrollEndTime       *time.Time `json:"scrollEndTime,omitempty"`
	ProcessingStartTime *time.Time `json:"processingStartTime,omitempty"`
	ProcessingEndTime   *time.Time `json:"processingEndTime,omitempty"`
	CompletedTime       *time.Time `json:"completedTime,omitempty"`
	HeartbeatTime       *time.Time `json:"heartbeatTime,omitempty"`

	AbortRequested bool           `json:"abortRequested,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// HasError reports whether at least one item failed.
func (s *Status) HasError() bool {
	return s.ErrorCount > 0
}

// SuccessCount is the number of processed items that neither failed nor
// were skipped.
func (s *Status) SuccessCount() int64 {
	return s.Processed - s.SkipCount - s.ErrorCount
}

// Stale reports whether a non-terminal command has not refreshed its
// heartbeat for longer than after. A stale command's owner has most likely
// died.
func (s *Status) Stale(now time.Time, after time.Duration) bool {
	if s.State.IsTerminal() {
		return false
	}
	last := s.HeartbeatTime
	if last == nil {
		last = s.SubmitTime
	}
	return last != nil && now.Sub(*last) > after
}

// ResultInt returns a numeric result as int64. Results read back from the
// status store are JSON numbers.
func (s *Status) ResultInt(key string) int64 {
	switch v := s.Result[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// Clone returns a deep copy.
func (s *Status) Clone() *Status {
	c := *s
	c.Result = maps.Clone(s.Result)
	for _, tp := range []**time.Time{
		&c.SubmitTime, &c.ScrollStartTime, &c.ScrollEndTime,
		&c.ProcessingStartTime, &c.ProcessingEndTime, &c.CompletedTime, &c.HeartbeatTime,
	} {
		if *tp != nil {
			t := **tp
			*tp = &t
		}
	}
	return &c
}

func stamp(dst **time.Time, t time.Time) {
	if *dst == nil {
		t = t.UTC()
		*dst = &t
	}
}

// addResult adds n to a numeric result.
func (s *Status) addResult(key string, n int64) {
	if s.Result == nil {
		s.Result = make(map[string]any)
	}
	s.Result[key] = s.ResultInt(key) + n
}

// mergeResult applies the counters of one bucket and overwrites the other
// values.
func (s *Status) mergeResult(counters map[string]int64, values map[string]any) {
	for k, n := range counters {
		s.addResult(k, n)
	}
	if len(values) > 0 && s.Result == nil {
		s.Result = make(map[string]any, len(values))
	}
	maps.Copy(s.Result, values)
}
