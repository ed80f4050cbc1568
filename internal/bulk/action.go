package bulk

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// OutcomeStatus classifies the result of applying an action to one id.
type OutcomeStatus int

const (
	Succeeded OutcomeStatus = iota
	Skipped
	Failed
)

func (o OutcomeStatus) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the result of one id.
type Outcome struct {
	Status OutcomeStatus
	Err    error

	// Counters are added to the command result when the bucket commits.
	Counters map[string]int64
}

// Success is the outcome of a handled id.
func Success() Outcome { return Outcome{Status: Succeeded} }

// Skip is the outcome of an id that needed no work.
func Skip() Outcome { return Outcome{Status: Skipped} }

// Failure is the outcome of an id that could not be handled.
func Failure(err error) Outcome { return Outcome{Status: Failed, Err: err} }

// With attaches a result counter.
func (o Outcome) With(key string, n int64) Outcome {
	if o.Counters == nil {
		o.Counters = make(map[string]int64, 1)
	}
	o.Counters[key] += n
	return o
}

// Policy describes how the service runs an action.
type Policy struct {
	// Sequential commands of the action never overlap within a process.
	Sequential bool

	// FailFast aborts the command after the first bucket with a failure.
	FailFast bool

	// RequiresQuery rejects commands with an empty query.
	RequiresQuery bool

	// DefaultScroller is used when the command names none.
	DefaultScroller string
}

// Action is a registered bulk operation.
type Action interface {
	Name() string
	Policy() Policy

	// Validate runs capability checks at submission. Errors wrapping
	// ErrNotImplemented or ErrInvalidCommand are reported to the caller as
	// such.
	Validate(ctx context.Context, cmd Command) error

	// Start prepares one run. It is called after the scroll started and
	// before the first bucket is applied.
	Start(ctx context.Context, cmd Command) (Computation, error)
}

// Computation is the per-run state of an action.
type Computation interface {
	// Apply handles one scrolled id. It is called concurrently.
	Apply(ctx context.Context, id string) Outcome

	// Finish is called once after the last bucket, also on abort. The
	// returned values are merged into the command result.
	Finish(ctx context.Context) (map[string]any, error)
}

// Starter is implemented by computations that report values as soon as the
// run starts, before any bucket commits.
type Starter interface {
	Started() map[string]any
}

// Registry maps action names to actions. It is built once at startup.
type Registry struct {
	actions map[string]Action
}

// NewRegistry builds a registry. Names must be unique.
func NewRegistry(actions ...Action) (*Registry, error) {
	r := &Registry{actions: make(map[string]Action, len(actions))}
	for _, a := range actions {
		if a.Name() == "" {
			return nil, errors.New("bulk: action without a name")
		}
		if _, dup := r.actions[a.Name()]; dup {
			return nil, fmt.Errorf("bulk: duplicate action %q", a.Name())
		}
		r.actions[a.Name()] = a
	}
	return r, nil
}

// Get returns the named action.
func (r *Registry) Get(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Names returns the sorted action names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
