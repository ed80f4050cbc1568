package gc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dray-io/bulkgc/internal/blobstore"
	"github.com/dray-io/bulkgc/internal/bulk"
	"github.com/dray-io/bulkgc/internal/keystrategy"
	"github.com/dray-io/bulkgc/internal/logging"
	"github.com/dray-io/bulkgc/internal/repository"
	"github.com/dray-io/bulkgc/internal/scroll"
)

// OrphanActionName is the name of the orphan blob GC action.
const OrphanActionName = "garbageCollectOrphanBlobs"

// Parameters of the orphan blob GC action.
const (
	ParamDryRun     = "dryRun"
	ParamProvider   = scroll.ParamProvider
	ParamReportPath = "reportPath"
)

// Result keys written by the orphan blob GC action.
const (
	ResultMarkedDocuments = "markedDocuments"
	ResultReferencedKeys  = "referencedKeys"
	ResultDryRun          = "dryRun"
	ResultTotalSize       = "totalSize"
	ResultOrphanedSize    = "orphanedSize"
	ResultOrphanedCount   = "orphanedCount"
	ResultDeletedSize     = "deletedSize"
	ResultReportPath      = "reportPath"
	ResultReportRows      = "reportRows"
)

// Metrics records sweep volumes.
type Metrics interface {
	RecordSwept(provider string, bytes int64)
	RecordDeleted(provider string, bytes int64)
}

type nopMetrics struct{}

func (nopMetrics) RecordSwept(string, int64)   {}
func (nopMetrics) RecordDeleted(string, int64) {}

// OrphanAction deletes blobs that no document of any repository sharing
// their storage references.
//
// Marking happens once when the command starts: every repository whose
// provider shares storage with a swept provider is scanned, and the keys its
// documents reference are unioned per storage. Sweeping then runs per item
// of the blob scroller.
//
// A blob written between the mark and its sweep is not in the referenced
// set and can be deleted.
type OrphanAction struct {
	blobs   *blobstore.Manager
	repos   *repository.Registry
	metrics Metrics
	log     *logging.Logger
}

// NewOrphanAction creates the orphan blob GC action.
func NewOrphanAction(blobs *blobstore.Manager, repos *repository.Registry, log *logging.Logger) *OrphanAction {
	if log == nil {
		log = logging.Global()
	}
	return &OrphanAction{blobs: blobs, repos: repos, metrics: nopMetrics{}, log: log.Named("gc")}
}

// WithMetrics sets the sweep metrics recorder.
func (a *OrphanAction) WithMetrics(m Metrics) *OrphanAction {
	if m != nil {
		a.metrics = m
	}
	return a
}

func (a *OrphanAction) Name() string { return OrphanActionName }

func (a *OrphanAction) Policy() bulk.Policy {
	return bulk.Policy{Sequential: true, DefaultScroller: scroll.BlobScroller}
}

// Validate checks the scroller, the parameters and that every repository
// the mark phase must scan supports it.
func (a *OrphanAction) Validate(_ context.Context, cmd bulk.Command) error {
	if cmd.Scroller != scroll.BlobScroller {
		return &bulk.ValidationError{Field: "scroller", Reason: fmt.Sprintf("must be %q", scroll.BlobScroller)}
	}
	if v, ok := cmd.Param(ParamDryRun); ok {
		if _, isBool := v.(bool); !isBool {
			return &bulk.ValidationError{Field: "params." + ParamDryRun, Reason: "must be a boolean"}
		}
	}
	if v, ok := cmd.Param(ParamReportPath); ok {
		if _, isString := v.(string); !isString {
			return &bulk.ValidationError{Field: "params." + ParamReportPath, Reason: "must be a string"}
		}
	}

	sweep, err := a.sweepProviders(cmd)
	if err != nil {
		return err
	}
	_, err = a.markRepositories(sweep)
	return err
}

// sweepProviders returns the providers whose storages the command sweeps,
// including every provider sharing one of them.
func (a *OrphanAction) sweepProviders(cmd bulk.Command) ([]*blobstore.Provider, error) {
	repo, err := a.repos.Get(cmd.Repository)
	if err != nil {
		return nil, &bulk.ValidationError{Field: "repository", Reason: err.Error()}
	}
	if _, ok := repo.(repository.BlobKeyScanner); !ok {
		return nil, fmt.Errorf("gc: repository %q cannot enumerate blob keys: %w", cmd.Repository, bulk.ErrNotImplemented)
	}

	var roots []*blobstore.Provider
	if id := cmd.StringParam(ParamProvider, ""); id != "" {
		p, err := a.blobs.Provider(id)
		if err != nil {
			return nil, &bulk.ValidationError{Field: "params." + ParamProvider, Reason: err.Error()}
		}
		roots = []*blobstore.Provider{p}
	} else {
		roots = a.blobs.ProvidersFor(cmd.Repository)
	}
	if len(roots) == 0 {
		return nil, &bulk.ValidationError{Field: "repository", Reason: fmt.Sprintf("no blob provider serves %q", cmd.Repository)}
	}

	seen := make(map[string]bool)
	var out []*blobstore.Provider
	for _, root := range roots {
		sharing, err := a.blobs.SharingProviders(root.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range sharing {
			if !seen[p.ID] {
				seen[p.ID] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// markRepositories returns the repositories served by the sweep providers.
// Each of them must enumerate its blob keys.
func (a *OrphanAction) markRepositories(sweep []*blobstore.Provider) ([]repository.Repository, error) {
	seen := make(map[string]bool)
	var out []repository.Repository
	for _, p := range sweep {
		for _, name := range p.Repositories {
			if seen[name] {
				continue
			}
			seen[name] = true
			repo, err := a.repos.Get(name)
			if err != nil {
				return nil, fmt.Errorf("gc: provider %q serves unknown repository %q: %w", p.ID, name, bulk.ErrNotImplemented)
			}
			if _, ok := repo.(repository.BlobKeyScanner); !ok {
				return nil, fmt.Errorf("gc: repository %q sharing provider %q cannot enumerate blob keys: %w", name, p.ID, bulk.ErrNotImplemented)
			}
			out = append(out, repo)
		}
	}
	return out, nil
}

// Start runs the mark phase.
func (a *OrphanAction) Start(ctx context.Context, cmd bulk.Command) (bulk.Computation, error) {
	sweep, err := a.sweepProviders(cmd)
	if err != nil {
		return nil, err
	}
	repos, err := a.markRepositories(sweep)
	if err != nil {
		return nil, err
	}

	s := &sweeper{
		action:    a,
		dryRun:    cmd.BoolParam(ParamDryRun, false),
		providers: make(map[string]*blobstore.Provider, len(sweep)),
		marks:     make(map[string]map[string]struct{}),
	}

	// docIDStorages maps a repository to the DocID-keyed storages serving it.
	docIDStorages := make(map[string][]docIDStorage)
	for _, p := range sweep {
		s.providers[p.ID] = p
		storage := p.Store.StorageID()
		if s.marks[storage] == nil {
			s.marks[storage] = make(map[string]struct{})
		}
		if strategy, ok := p.Store.Strategy().(keystrategy.DocID); ok {
			for _, repo := range p.Repositories {
				docIDStorages[repo] = append(docIDStorages[repo], docIDStorage{storage: storage, strategy: strategy})
			}
		}
	}

	for _, repo := range repos {
		repoName := repo.Name()
		err := repo.(repository.BlobKeyScanner).ScanBlobKeys(ctx, func(doc repository.Document) error {
			s.markedDocs++
			for _, b := range doc.Blobs {
				p, err := a.blobs.Provider(b.Provider)
				if err != nil {
					continue
				}
				if set, ok := s.marks[p.Store.StorageID()]; ok {
					set[b.Key] = struct{}{}
				}
			}
			for _, d := range docIDStorages[repoName] {
				s.marks[d.storage][d.strategy.KeyFor("", doc.ID, doc.VersionID)] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("gc: mark %q: %w", repoName, err)
		}
	}

	for _, set := range s.marks {
		s.referencedKeys += int64(len(set))
	}
	if path := cmd.StringParam(ParamReportPath, ""); path != "" {
		if s.report, err = newReportWriter(path); err != nil {
			return nil, err
		}
	}
	a.log.Infof("mark phase done", map[string]any{
		"repository":      cmd.Repository,
		"providers":       len(sweep),
		"markedDocuments": s.markedDocs,
		"referencedKeys":  s.referencedKeys,
		"dryRun":          s.dryRun,
	})
	return s, nil
}

type docIDStorage struct {
	storage  string
	strategy keystrategy.DocID
}

// sweeper is the sweep phase of one GC command.
type sweeper struct {
	action    *OrphanAction
	dryRun    bool
	providers map[string]*blobstore.Provider

	// marks holds the referenced keys per storage id. It is read only once
	// the mark phase is over.
	marks map[string]map[string]struct{}

	markedDocs     int64
	referencedKeys int64
	deleted        atomic.Int64

	report *reportWriter
}

var _ bulk.Starter = (*sweeper)(nil)

func (s *sweeper) Started() map[string]any {
	return map[string]any{
		ResultMarkedDocuments: s.markedDocs,
		ResultReferencedKeys:  s.referencedKeys,
		ResultDryRun:          s.dryRun,
	}
}

var errUnknownItemProvider = errors.New("gc: item from a provider outside the sweep")

func (s *sweeper) Apply(ctx context.Context, item string) bulk.Outcome {
	providerID, key, size, err := scroll.ParseBlobItem(item)
	if err != nil {
		return bulk.Failure(err)
	}
	p, ok := s.providers[providerID]
	if !ok {
		return bulk.Failure(fmt.Errorf("%w: %q", errUnknownItemProvider, providerID))
	}
	s.action.metrics.RecordSwept(p.ID, size)

	strategy := p.Store.Strategy()
	if strategy.IsDeduplicated() && !strategy.IsValidKey(key) {
		return bulk.Skip().With(ResultTotalSize, size)
	}
	if _, referenced := s.marks[p.Store.StorageID()][key]; referenced {
		return bulk.Skip().With(ResultTotalSize, size)
	}

	if s.dryRun {
		s.report.add(p.ID, key, size, false)
		return bulk.Skip().
			With(ResultTotalSize, size).
			With(ResultOrphanedSize, size).
			With(ResultOrphanedCount, 1)
	}

	existed, err := p.Store.Delete(ctx, key)
	if err != nil {
		return bulk.Failure(fmt.Errorf("gc: delete %s:%s: %w", p.ID, key, err)).With(ResultTotalSize, size)
	}
	if !existed {
		// Already deleted through a provider sharing the storage.
		return bulk.Skip().With(ResultTotalSize, size)
	}
	s.deleted.Add(1)
	s.action.metrics.RecordDeleted(p.ID, size)
	s.report.add(p.ID, key, size, true)
	return bulk.Success().
		With(ResultTotalSize, size).
		With(ResultDeletedSize, size)
}

func (s *sweeper) Finish(context.Context) (map[string]any, error) {
	s.action.log.Infof("sweep done", map[string]any{
		"deletedKeys": s.deleted.Load(),
		"dryRun":      s.dryRun,
	})
	if s.report == nil {
		return nil, nil
	}
	rows, err := s.report.close()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		ResultReportPath: s.report.path,
		ResultReportRows: rows,
	}, nil
}

var (
	_ bulk.Action      = (*OrphanAction)(nil)
	_ bulk.Computation = (*sweeper)(nil)
)
