// Package notify publishes lifecycle events of bulk commands and blob
// deletions.
//
// Events are best effort: a failed publish is logged by the caller and
// never changes the outcome of the operation that emitted it.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/dray-io/bulkgc/internal/logging"
)

// EventType names an event.
type EventType string

const (
	// CommandCompleted is emitted once per command when it reaches a
	// terminal state.
	CommandCompleted EventType = "bulk.command.completed"

	// BlobsDeleted is emitted by the per-key blob delete.
	BlobsDeleted EventType = "blobs.deleted"
)

// Event is one notification.
type Event struct {
	Type       EventType      `json:"type"`
	Time       time.Time      `json:"time"`
	CommandID  string         `json:"commandId,omitempty"`
	Username   string         `json:"username,omitempty"`
	Repository string         `json:"repository,omitempty"`
	Action     string         `json:"action,omitempty"`
	State      string         `json:"state,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// LogPublisher writes events to a logger. It is used when no broker is
// configured.
type LogPublisher struct {
	log *logging.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(log *logging.Logger) *LogPublisher {
	if log == nil {
		log = logging.Global()
	}
	return &LogPublisher{log: log.Named("notify")}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.log.Infof("event", map[string]any{
		"type":       string(ev.Type),
		"commandId":  ev.CommandID,
		"username":   ev.Username,
		"repository": ev.Repository,
		"action":     ev.Action,
		"state":      ev.State,
		"payload":    ev.Payload,
	})
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// SetError makes subsequent publishes fail with err.
func (r *Recorder) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = (*Recorder)(nil)
)
