package gc

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dray-io/bulkgc/internal/bulk"
	"github.com/dray-io/bulkgc/internal/logging"
)

// SchedulerConfig configures the periodic GC scheduler.
type SchedulerConfig struct {
	// Interval is the period between two GC rounds.
	// Default: 24h
	Interval time.Duration

	// Repositories are the repositories collected each round.
	Repositories []string

	// DryRun submits dry-run commands only.
	DryRun bool

	// Username owns the submitted commands.
	// Default: "system"
	Username string

	// BucketSize of the submitted commands. Default: bulk.DefaultBucketSize
	BucketSize int

	// BatchSize of the submitted commands, capped at BucketSize.
	// Default: bulk.DefaultBatchSize
	BatchSize int

	// ReportDir receives one orphan report per command when set.
	ReportDir string
}

// DefaultSchedulerConfig returns a default configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   24 * time.Hour,
		Username:   "system",
		BucketSize: bulk.DefaultBucketSize,
		BatchSize:  bulk.DefaultBatchSize,
	}
}

// Submitter is the part of bulk.Service the scheduler needs.
type Submitter interface {
	Submit(ctx context.Context, cmd bulk.Command) (string, error)
	GetStatus(ctx context.Context, id string) (*bulk.Status, error)
}

// Scheduler submits an orphan GC command per configured repository at a
// fixed interval. A repository whose previous command is still running is
// skipped for the round.
type Scheduler struct {
	svc    Submitter
	config SchedulerConfig
	log    *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// roundMu serializes rounds and guards last, which maps a repository to
	// the id of its latest command.
	roundMu sync.Mutex
	last    map[string]string
}

// NewScheduler creates a Scheduler.
func NewScheduler(svc Submitter, config SchedulerConfig, log *logging.Logger) *Scheduler {
	def := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Username == "" {
		config.Username = def.Username
	}
	if config.BucketSize <= 0 {
		config.BucketSize = def.BucketSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.BatchSize > config.BucketSize {
		config.BatchSize = config.BucketSize
	}
	if log == nil {
		log = logging.Global()
	}
	return &Scheduler{
		svc:    svc,
		config: config,
		log:    log.Named("gc-scheduler"),
		last:   make(map[string]string),
	}
}

// Start begins the scheduler background loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run()
}

// Stop stops the scheduler and waits for it. Submitted commands keep
// running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	ctx := context.Background()
	s.RunOnce(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce submits one round of GC commands and returns the new command ids
// by repository. Concurrent rounds run one after the other.
func (s *Scheduler) RunOnce(ctx context.Context) map[string]string {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	submitted := make(map[string]string)
	for _, repo := range s.config.Repositories {
		if s.busy(ctx, repo) {
			s.log.Infof("previous gc still running", map[string]any{"repository": repo, "commandId": s.last[repo]})
			continue
		}
		b := bulk.NewCommand(OrphanActionName, repo).
			User(s.config.Username).
			BucketSize(s.config.BucketSize).
			BatchSize(s.config.BatchSize).
			Param(ParamDryRun, s.config.DryRun)
		if s.config.ReportDir != "" {
			name := fmt.Sprintf("%s-%d.parquet", repo, time.Now().UnixMilli())
			b = b.Param(ParamReportPath, filepath.Join(s.config.ReportDir, name))
		}
		cmd, err := b.Build()
		if err != nil {
			s.log.Errorf("invalid gc command", map[string]any{"repository": repo, "error": err.Error()})
			continue
		}
		id, err := s.svc.Submit(ctx, cmd)
		if err != nil {
			s.log.Errorf("failed to submit gc", map[string]any{"repository": repo, "error": err.Error()})
			continue
		}
		s.last[repo] = id
		submitted[repo] = id
	}
	return submitted
}

func (s *Scheduler) busy(ctx context.Context, repo string) bool {
	id, ok := s.last[repo]
	if !ok {
		return false
	}
	st, err := s.svc.GetStatus(ctx, id)
	if err != nil {
		s.log.Warnf("failed to read gc status", map[string]any{"commandId": id, "error": err.Error()})
		return true
	}
	return st != nil && !st.State.IsTerminal()
}
