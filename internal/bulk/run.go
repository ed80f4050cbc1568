package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dray-io/bulkgc/internal/logging"
	"github.com/dray-io/bulkgc/internal/notify"
	"github.com/dray-io/bulkgc/internal/scroll"
)

// errNotApplied marks ids of a batch that never ran.
var errNotApplied = errors.New("bulk: not applied")

// maxLoggedFailures bounds the item failures logged per bucket.
const maxLoggedFailures = 5

// execute drives one command to a terminal state.
func (s *Service) execute(r *run) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.runs, r.cmd.ID)
		s.mu.Unlock()
		close(r.done)
	}()

	ctx := logging.WithLoggerCtx(context.Background(), r.log)
	ctx = logging.WithCommandIDCtx(ctx, r.cmd.ID)

	if r.action.Policy().Sequential {
		l := s.sequentialLock(r.cmd.Action)
		l.Lock()
		defer l.Unlock()
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		s.heartbeat(hbCtx, r)
	}()

	comp, err := s.process(ctx, r)
	final, ferr := s.finish(ctx, r, comp, err)
	stopHeartbeat()
	<-hbDone

	if ferr != nil {
		// The status stays non-terminal; its heartbeat stops, so it turns
		// stale for observers.
		r.log.Errorf("failed to finalize command", map[string]any{"error": ferr.Error()})
		return
	}
	s.publishCompletion(ctx, final)
}

// process scrolls and applies the command. It returns the computation so
// that finish can close it.
func (s *Service) process(ctx context.Context, r *run) (Computation, error) {
	st, err := s.commit(ctx, r, func(st *Status) {
		if st.advance(StateScrollingRunning) {
			stamp(&st.ScrollStartTime, time.Now())
		}
	})
	if err != nil {
		return nil, err
	}
	if r.aborted.Load() {
		return nil, nil
	}
	s.metrics.RecordCommandState(r.cmd.Action, st.State)

	sc, err := s.scrolls.Scroll(ctx, scroll.Request{
		Scroller:   r.cmd.Scroller,
		Repository: r.cmd.Repository,
		Query:      r.cmd.Query,
		Username:   r.cmd.Username,
		Size:       r.cmd.BucketSize,
		Params:     r.cmd.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("bulk: open scroll: %w", err)
	}
	defer sc.Close()

	comp, err := r.action.Start(ctx, r.cmd)
	if err != nil {
		return nil, fmt.Errorf("bulk: start %s: %w", r.cmd.Action, err)
	}
	if starter, ok := comp.(Starter); ok {
		if values := starter.Started(); len(values) > 0 {
			if _, err := s.commit(ctx, r, func(st *Status) { st.mergeResult(nil, values) }); err != nil {
				return comp, err
			}
		}
	}

	scrollCtx, stopScroll := context.WithCancel(ctx)
	defer stopScroll()

	buckets := make(chan []string)
	scrollErr := make(chan error, 1)
	go func() {
		defer close(buckets)
		scrollErr <- s.scrollLoop(scrollCtx, r, sc, buckets)
	}()

	procErr := s.processLoop(ctx, r, comp, buckets)
	stopScroll()
	for range buckets {
		// Drain so the scroller observes the cancellation.
	}
	if err := <-scrollErr; err != nil && procErr == nil && !errors.Is(err, context.Canceled) {
		procErr = err
	}
	return comp, procErr
}

// scrollLoop feeds every scrolled batch to buckets, raising Total before a
// bucket is handed over, and marks the scroll done at the end.
func (s *Service) scrollLoop(ctx context.Context, r *run, sc scroll.Scroll, buckets chan<- []string) error {
	for {
		more, err := sc.HasNext(ctx)
		if err != nil {
			return fmt.Errorf("bulk: scroll: %w", err)
		}
		if !more {
			break
		}
		batch, err := sc.Next(ctx)
		if err != nil {
			return fmt.Errorf("bulk: scroll: %w", err)
		}
		n := int64(len(batch))
		if _, err := s.commit(ctx, r, func(st *Status) { st.Total += n }); err != nil {
			return err
		}
		select {
		case buckets <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	_, err := s.commit(ctx, r, func(st *Status) {
		st.ScrollDone = true
		stamp(&st.ScrollEndTime, time.Now())
	})
	return err
}

// processLoop applies buckets one at a time until the scroll ends, an
// abort is observed or a commit fails.
func (s *Service) processLoop(ctx context.Context, r *run, comp Computation, buckets <-chan []string) error {
	policy := r.action.Policy()
	for bucket := range buckets {
		if r.aborted.Load() {
			return nil
		}
		if !r.started {
			r.started = true
			st, err := s.commit(ctx, r, func(st *Status) {
				if st.advance(StateRunning) {
					stamp(&st.ProcessingStartTime, time.Now())
				}
			})
			if err != nil {
				return err
			}
			s.metrics.RecordCommandState(r.cmd.Action, st.State)
		}

		res, err := s.applyBucket(ctx, r, comp, bucket)
		if err != nil {
			return err
		}

		start := time.Now()
		_, err = s.commit(ctx, r, func(st *Status) {
			st.Processed += res.processed
			st.SkipCount += res.skipped
			st.ErrorCount += res.failed
			st.mergeResult(res.counters, nil)
		})
		s.metrics.RecordBucketCommit(r.cmd.Action, time.Since(start).Seconds(), err == nil)
		if err != nil {
			return err
		}
		s.metrics.RecordItems(r.cmd.Action, Succeeded, res.processed-res.skipped-res.failed)
		s.metrics.RecordItems(r.cmd.Action, Skipped, res.skipped)
		s.metrics.RecordItems(r.cmd.Action, Failed, res.failed)

		if policy.FailFast && res.failed > 0 {
			r.log.Warnf("aborting after failed bucket", map[string]any{"failed": res.failed})
			r.abort()
			return nil
		}
	}
	return nil
}

type bucketResult struct {
	processed int64
	skipped   int64
	failed    int64
	counters  map[string]int64
}

// applyBucket splits bucket into batches and applies them on the bounded
// pool. Every id gets exactly one outcome.
func (s *Service) applyBucket(ctx context.Context, r *run, comp Computation, bucket []string) (bucketResult, error) {
	outcomes := make([]Outcome, len(bucket))
	for i := range outcomes {
		outcomes[i] = Failure(errNotApplied)
	}

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for start := 0; start < len(bucket); start += r.cmd.BatchSize {
		end := min(start+r.cmd.BatchSize, len(bucket))
		batch, offset := bucket[start:end], start
		g.Go(func() error {
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer s.sem.Release(1)
			for i, id := range batch {
				outcomes[offset+i] = safeApply(ctx, comp, id)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return bucketResult{}, fmt.Errorf("bulk: apply bucket: %w", err)
	}

	res := bucketResult{processed: int64(len(bucket)), counters: make(map[string]int64)}
	logged := 0
	for i, o := range outcomes {
		switch o.Status {
		case Skipped:
			res.skipped++
		case Failed:
			res.failed++
			if logged < maxLoggedFailures {
				logged++
				fields := map[string]any{"id": bucket[i]}
				if o.Err != nil {
					fields["error"] = o.Err.Error()
				}
				r.log.Warnf("item failed", fields)
			}
		}
		for k, n := range o.Counters {
			res.counters[k] += n
		}
	}
	return res, nil
}

func safeApply(ctx context.Context, comp Computation, id string) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = Failure(fmt.Errorf("bulk: panic applying %q: %v", id, p))
		}
	}()
	return comp.Apply(ctx, id)
}

// finish closes the computation and writes the terminal state.
func (s *Service) finish(ctx context.Context, r *run, comp Computation, runErr error) (*Status, error) {
	var values map[string]any
	if comp != nil {
		v, err := comp.Finish(ctx)
		if err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("bulk: finish %s: %w", r.cmd.Action, err))
		}
		values = v
	}

	state := StateCompleted
	if runErr != nil || r.aborted.Load() {
		state = StateAborted
	}

	st, err := s.commit(ctx, r, func(st *Status) {
		if !st.advance(state) {
			return
		}
		now := time.Now()
		if st.State == StateCompleted {
			stamp(&st.ProcessingStartTime, now)
		}
		if st.ProcessingStartTime != nil {
			stamp(&st.ProcessingEndTime, now)
		}
		stamp(&st.CompletedTime, now)
		st.mergeResult(nil, values)
		if runErr != nil {
			st.Error = runErr.Error()
		}
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCommandState(r.cmd.Action, st.State)
	fields := map[string]any{
		"state":      string(st.State),
		"total":      st.Total,
		"processed":  st.Processed,
		"skipCount":  st.SkipCount,
		"errorCount": st.ErrorCount,
	}
	if st.Error != "" {
		fields["error"] = st.Error
		r.log.Errorf("command ended", fields)
	} else {
		r.log.Infof("command ended", fields)
	}
	return st, nil
}

// commit applies fn to the persisted status under the run lock. A persisted
// abort request seen on the way is latched into the run.
func (s *Service) commit(ctx context.Context, r *run, fn func(*Status)) (*Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := s.store.Update(ctx, r.cmd.ID, func(st *Status) error {
		fn(st)
		if st.AbortRequested {
			r.abort()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bulk: commit status: %w", err)
	}
	return st, nil
}

// heartbeat refreshes HeartbeatTime until ctx is done. It also picks up
// abort requests persisted by other processes.
func (s *Service) heartbeat(ctx context.Context, r *run) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		_, err := s.store.Update(ctx, r.cmd.ID, func(st *Status) error {
			if st.State.IsTerminal() {
				return errNoChange
			}
			now := time.Now().UTC()
			st.HeartbeatTime = &now
			if st.AbortRequested {
				r.abort()
			}
			return nil
		})
		r.mu.Unlock()
		if err != nil && !errors.Is(err, errNoChange) && ctx.Err() == nil {
			r.log.Warnf("heartbeat failed", map[string]any{"error": err.Error()})
		}
	}
}

func (s *Service) publishCompletion(ctx context.Context, st *Status) {
	ev := notify.Event{
		Type:       notify.CommandCompleted,
		Time:       time.Now().UTC(),
		CommandID:  st.ID,
		Username:   st.Username,
		Repository: st.Repository,
		Action:     st.Action,
		State:      string(st.State),
		Payload: map[string]any{
			"total":      st.Total,
			"processed":  st.Processed,
			"skipCount":  st.SkipCount,
			"errorCount": st.ErrorCount,
			"result":     st.Result,
		},
	}
	if st.Error != "" {
		ev.Payload["error"] = st.Error
	}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		logging.FromCtx(ctx).Warnf("failed to publish completion", map[string]any{"error": err.Error()})
	}
}
