// Package scroll enumerates the ids a bulk command operates on.
//
// A scroller turns a Request into a Scroll, a forward-only cursor returning
// batches of at most Request.Size ids. Scrolls never hold the full result
// set in memory; each batch is fetched on demand from the backing
// repository or blob store.
package scroll

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownScroller is returned for scroller names that are not registered.
	ErrUnknownScroller = errors.New("scroll: unknown scroller")

	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("scroll: invalid request")

	// ErrExhausted is returned by Next once HasNext reported false.
	ErrExhausted = errors.New("scroll: no more batches")
)

// Request selects what to scroll.
type Request struct {
	Scroller   string
	Repository string
	Query      string
	Username   string
	Size       int
	Params     map[string]any
}

// Scroll is a forward-only batch cursor. Close must be called on every path.
type Scroll interface {
	HasNext(ctx context.Context) (bool, error)

	// Next returns the next batch, at most Request.Size ids, in no
	// particular order.
	Next(ctx context.Context) ([]string, error)

	Close() error
}

// Scroller opens scrolls of one kind.
type Scroller interface {
	Name() string
	Open(ctx context.Context, req Request) (Scroll, error)
}

// Service is the registry of scrollers.
type Service struct {
	mu        sync.RWMutex
	scrollers map[string]Scroller
}

// NewService creates a Service with the given scrollers registered.
func NewService(scrollers ...Scroller) (*Service, error) {
	s := &Service{scrollers: make(map[string]Scroller, len(scrollers))}
	for _, sc := range scrollers {
		if err := s.Register(sc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register adds a scroller. Names must be unique.
func (s *Service) Register(sc Scroller) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc.Name() == "" {
		return fmt.Errorf("%w: scroller without a name", ErrInvalidRequest)
	}
	if _, dup := s.scrollers[sc.Name()]; dup {
		return fmt.Errorf("scroll: scroller %q already registered", sc.Name())
	}
	s.scrollers[sc.Name()] = sc
	return nil
}

// Exists reports whether req names a registered scroller with a usable size.
func (s *Service) Exists(req Request) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.scrollers[req.Scroller]
	return ok && req.Size > 0
}

// Names returns the registered scroller names, sorted.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.scrollers))
	for n := range s.scrollers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Scroll opens a scroll for req.
func (s *Service) Scroll(ctx context.Context, req Request) (Scroll, error) {
	if req.Size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidRequest, req.Size)
	}
	s.mu.RLock()
	sc, ok := s.scrollers[req.Scroller]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScroller, req.Scroller)
	}
	return sc.Open(ctx, req)
}

// pager adapts a fetch function to the Scroll interface. fetch returns the
// next page and whether more pages may follow; empty pages are skipped.
type pager struct {
	fetch   func(ctx context.Context) ([]string, bool, error)
	pending []string
	done    bool
	closed  bool
}

func (p *pager) HasNext(ctx context.Context) (bool, error) {
	if p.closed {
		return false, errors.New("scroll: closed")
	}
	for len(p.pending) == 0 && !p.done {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		batch, more, err := p.fetch(ctx)
		if err != nil {
			return false, err
		}
		p.pending = batch
		p.done = !more
	}
	return len(p.pending) > 0, nil
}

func (p *pager) Next(ctx context.Context) ([]string, error) {
	ok, err := p.HasNext(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrExhausted
	}
	batch := p.pending
	p.pending = nil
	return batch, nil
}

func (p *pager) Close() error {
	p.closed = true
	p.pending = nil
	return nil
}
