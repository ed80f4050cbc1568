package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dray-io/bulkgc/internal/logging"
	"github.com/dray-io/bulkgc/internal/notify"
	"github.com/dray-io/bulkgc/internal/repository"
	"github.com/dray-io/bulkgc/internal/scroll"
)

// Config tunes the Service.
type Config struct {
	// Workers bounds the concurrent batches of one bucket.
	// Default: 4
	Workers int

	// MaxConcurrentBatches bounds the batches running across every command
	// of the service.
	// Default: 16
	MaxConcurrentBatches int64

	// RateLimit caps batch dispatches per second across the service.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the limiter burst. Default: Workers
	RateBurst int

	// HeartbeatInterval is the period of liveness updates.
	// Default: 10s
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		Workers:              4,
		MaxConcurrentBatches: 16,
		HeartbeatInterval:    10 * time.Second,
	}
}

// Deps are the collaborators of a Service.
type Deps struct {
	Actions      *Registry
	Scrolls      *scroll.Service
	Store        StatusStore
	Repositories *repository.Registry

	// Notifier receives completion events. Default: notify.Nop
	Notifier notify.Publisher

	// Metrics default to a no-op recorder.
	Metrics Metrics

	// Logger defaults to the global logger.
	Logger *logging.Logger
}

// Service accepts bulk commands and runs them.
type Service struct {
	cfg      Config
	actions  *Registry
	scrolls  *scroll.Service
	store    StatusStore
	repos    *repository.Registry
	notifier notify.Publisher
	metrics  Metrics
	log      *logging.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu       sync.Mutex
	closed   bool
	runs     map[string]*run
	seqLocks map[string]*sync.Mutex
	wg       sync.WaitGroup
}

// run is the in-process handle of a command this service executes.
type run struct {
	cmd    Command
	action Action
	log    *logging.Logger

	// mu linearizes the status commits of the run.
	mu      sync.Mutex
	aborted atomic.Bool
	started bool
	done    chan struct{}
}

func (r *run) abort() { r.aborted.Store(true) }

// NewService creates a Service.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Actions == nil || deps.Scrolls == nil || deps.Store == nil || deps.Repositories == nil {
		return nil, errors.New("bulk: actions, scrolls, store and repositories are required")
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = def.MaxConcurrentBatches
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = cfg.Workers
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Global()
	}

	s := &Service{
		cfg:      cfg,
		actions:  deps.Actions,
		scrolls:  deps.Scrolls,
		store:    deps.Store,
		repos:    deps.Repositories,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		log:      deps.Logger.Named("bulk"),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentBatches),
		runs:     make(map[string]*run),
		seqLocks: make(map[string]*sync.Mutex),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return s, nil
}

// Validate checks cmd against the registered actions, scrollers and
// repositories and returns it with the scroller resolved.
func (s *Service) Validate(ctx context.Context, cmd Command) (Command, error) {
	if err := cmd.validateShape(); err != nil {
		return Command{}, err
	}
	action, ok := s.actions.Get(cmd.Action)
	if !ok {
		return Command{}, invalid("action", "unknown action %q", cmd.Action)
	}
	policy := action.Policy()

	repo, err := s.repos.Get(cmd.Repository)
	if err != nil {
		return Command{}, invalid("repository", "unknown repository %q", cmd.Repository)
	}

	if cmd.Scroller == "" {
		cmd.Scroller = policy.DefaultScroller
	}
	if cmd.Scroller == "" {
		cmd.Scroller = scroll.RepositoryScroller
	}
	if !s.scrolls.Exists(scroll.Request{Scroller: cmd.Scroller, Size: cmd.BucketSize}) {
		return Command{}, invalid("scroller", "unknown scroller %q", cmd.Scroller)
	}

	switch {
	case cmd.Query != "":
		if err := repo.ValidateQuery(cmd.Query); err != nil {
			return Command{}, invalid("query", "%v", err)
		}
	case policy.RequiresQuery:
		return Command{}, invalid("query", "required by action %q", cmd.Action)
	case cmd.Scroller == scroll.RepositoryScroller:
		return Command{}, invalid("query", "required by the %q scroller", cmd.Scroller)
	}

	if err := action.Validate(ctx, cmd); err != nil {
		if errors.Is(err, ErrInvalidCommand) || errors.Is(err, ErrNotImplemented) {
			return Command{}, err
		}
		return Command{}, fmt.Errorf("bulk: validate %s: %w", cmd.Action, err)
	}
	return cmd, nil
}

// Submit validates cmd, persists its SCHEDULED status and starts it in the
// background. It returns the new command id.
func (s *Service) Submit(ctx context.Context, cmd Command) (string, error) {
	cmd, err := s.Validate(ctx, cmd)
	if err != nil {
		return "", err
	}
	action, _ := s.actions.Get(cmd.Action)
	cmd = cmd.withID(uuid.NewString())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrServiceClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	now := time.Now().UTC()
	st := &Status{
		ID:            cmd.ID,
		Action:        cmd.Action,
		Username:      cmd.Username,
		Repository:    cmd.Repository,
		Query:         cmd.Query,
		State:         StateScheduled,
		SubmitTime:    &now,
		HeartbeatTime: &now,
	}
	if err := s.store.Create(ctx, st); err != nil {
		s.wg.Done()
		return "", err
	}

	r := &run{
		cmd:    cmd,
		action: action,
		log:    s.log.WithCommandID(cmd.ID),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.runs[cmd.ID] = r
	s.mu.Unlock()

	s.metrics.RecordCommandState(cmd.Action, StateScheduled)
	r.log.Infof("command submitted", map[string]any{
		"action":     cmd.Action,
		"repository": cmd.Repository,
		"username":   cmd.Username,
		"scroller":   cmd.Scroller,
	})

	go s.execute(r)
	return cmd.ID, nil
}

// GetStatus returns the status of id, or nil when it is unknown.
func (s *Service) GetStatus(ctx context.Context, id string) (*Status, error) {
	return s.store.Get(ctx, id)
}

// GetStatuses returns the statuses of username in submission order.
func (s *Service) GetStatuses(ctx context.Context, username string) ([]*Status, error) {
	return s.store.ListByUser(ctx, username)
}

// errNoChange leaves a status untouched inside Update.
var errNoChange = errors.New("bulk: no change")

// Abort requests the cooperative abort of id. Terminal commands are
// returned unchanged. The request is persisted, so the owning process
// observes it even when it is not this one.
func (s *Service) Abort(ctx context.Context, id string) (*Status, error) {
	s.mu.Lock()
	r := s.runs[id]
	s.mu.Unlock()

	st, err := s.store.Update(ctx, id, func(st *Status) error {
		if st.State.IsTerminal() || st.AbortRequested {
			return errNoChange
		}
		st.AbortRequested = true
		return nil
	})
	switch {
	case errors.Is(err, ErrStatusNotFound):
		return nil, nil
	case errors.Is(err, errNoChange):
		st, err = s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if r != nil && !st.State.IsTerminal() {
		r.abort()
	}
	s.log.Infof("abort requested", map[string]any{"commandId": id, "state": string(st.State)})
	return st, nil
}

// Await waits until every command run by this service is terminal. It
// reports false when timeout elapsed first.
func (s *Service) Await(ctx context.Context, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	dones := make([]chan struct{}, 0, len(s.runs))
	for _, r := range s.runs {
		dones = append(dones, r.done)
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, done := range dones {
		select {
		case <-done:
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return true, nil
}

// AwaitCommand waits until command id run by this service is terminal.
func (s *Service) AwaitCommand(ctx context.Context, id string, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	r := s.runs[id]
	s.mu.Unlock()
	if r == nil {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Close stops accepting commands and waits for the running ones. Running
// commands are not aborted.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// sequentialLock returns the lock serializing runs of action.
func (s *Service) sequentialLock(action string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.seqLocks[action]
	if !ok {
		l = &sync.Mutex{}
		s.seqLocks[action] = l
	}
	return l
}
