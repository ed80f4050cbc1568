// Package bulk runs long-lived commands over every id a scroll produces.
//
// A Command names an action, the repository and query to scan, and the
// sizes of the units the scan is cut into. The Service validates commands,
// persists a Status for each, and runs them asynchronously:
//
//   - a scroller goroutine pulls batches from the scroll and hands them over
//     as buckets of at most BucketSize ids;
//   - a processor goroutine splits each bucket into batches of at most
//     BatchSize ids, applies the action on a bounded worker pool and commits
//     the bucket's counters with a single compare-and-set write.
//
// Item failures are counted, never fatal (unless the action asks to fail
// fast). Abort is cooperative: it is observed before each bucket dispatch,
// so buckets already running finish and are reported.
package bulk

import (
	"errors"
	"fmt"
	"maps"
)

// Default sizes of a command.
const (
	DefaultBucketSize = 100
	DefaultBatchSize  = 25
)

var (
	// ErrInvalidCommand is matched by every *ValidationError.
	ErrInvalidCommand = errors.New("bulk: invalid command")

	// ErrNotImplemented is returned when an action cannot run against the
	// configured collaborators.
	ErrNotImplemented = errors.New("bulk: not implemented for this configuration")

	// ErrServiceClosed is returned by Submit after Close.
	ErrServiceClosed = errors.New("bulk: service closed")
)

// ValidationError reports why a command was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bulk: invalid command: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidCommand) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidCommand
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Command is an immutable bulk request. Build one with NewCommand or Builder.
type Command struct {
	ID         string         `json:"id,omitempty"`
	Action     string         `json:"action"`
	Query      string         `json:"query,omitempty"`
	Username   string         `json:"username"`
	Repository string         `json:"repository"`
	Scroller   string         `json:"scroller,omitempty"`
	BucketSize int            `json:"bucketSize"`
	BatchSize  int            `json:"batchSize"`
	Params     map[string]any `json:"params,omitempty"`
}

// Param returns the named parameter.
func (c Command) Param(name string) (any, bool) {
	v, ok := c.Params[name]
	return v, ok
}

// StringParam returns a string parameter, or def when it is absent.
func (c Command) StringParam(name, def string) string {
	if s, ok := c.Params[name].(string); ok {
		return s
	}
	return def
}

// BoolParam returns a boolean parameter, or def when it is absent. The
// strings "true" and "false" are accepted as well.
func (c Command) BoolParam(name string, def bool) bool {
	switch v := c.Params[name].(type) {
	case bool:
		return v
	case string:
		switch v {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return def
}

// withID returns a copy carrying id.
func (c Command) withID(id string) Command {
	c.ID = id
	c.Params = maps.Clone(c.Params)
	return c
}

// validateShape checks the fields that need no collaborator.
func (c Command) validateShape() error {
	switch {
	case c.Action == "":
		return invalid("action", "required")
	case c.Repository == "":
		return invalid("repository", "required")
	case c.BucketSize <= 0:
		return invalid("bucketSize", "must be positive, got %d", c.BucketSize)
	case c.BatchSize <= 0:
		return invalid("batchSize", "must be positive, got %d", c.BatchSize)
	case c.BatchSize > c.BucketSize:
		return invalid("batchSize", "%d exceeds bucket size %d", c.BatchSize, c.BucketSize)
	}
	for k := range c.Params {
		if k == "" {
			return invalid("params", "empty parameter name")
		}
	}
	return nil
}

// Builder assembles a Command.
type Builder struct {
	cmd Command
}

// NewCommand starts a command for action on repository. Sizes default to
// DefaultBucketSize and DefaultBatchSize.
func NewCommand(action, repository string) *Builder {
	return &Builder{cmd: Command{
		Action:     action,
		Repository: repository,
		BucketSize: DefaultBucketSize,
		BatchSize:  DefaultBatchSize,
	}}
}

func (b *Builder) Query(q string) *Builder {
	b.cmd.Query = q
	return b
}

func (b *Builder) User(username string) *Builder {
	b.cmd.Username = username
	return b
}

func (b *Builder) Scroller(name string) *Builder {
	b.cmd.Scroller = name
	return b
}

func (b *Builder) BucketSize(n int) *Builder {
	b.cmd.BucketSize = n
	return b
}

func (b *Builder) BatchSize(n int) *Builder {
	b.cmd.BatchSize = n
	return b
}

// Param sets one action parameter.
func (b *Builder) Param(name string, value any) *Builder {
	if b.cmd.Params == nil {
		b.cmd.Params = make(map[string]any)
	}
	b.cmd.Params[name] = value
	return b
}

// Build validates the fields that do not depend on the service and returns
// the command. Registry-dependent checks happen at submission.
func (b *Builder) Build() (Command, error) {
	cmd := b.cmd
	cmd.Params = maps.Clone(cmd.Params)
	if err := cmd.validateShape(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}
