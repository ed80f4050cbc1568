package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dray-io/bulkgc/internal/blobstore"
	"github.com/dray-io/bulkgc/internal/bulk"
	"github.com/dray-io/bulkgc/internal/keystrategy"
	"github.com/dray-io/bulkgc/internal/logging"
	"github.com/dray-io/bulkgc/internal/notify"
	"github.com/dray-io/bulkgc/internal/repository"
)

var (
	// ErrSharedStorage is returned by DeleteBlob for providers whose storage
	// other providers use too. Only a full GC run can decide those keys.
	ErrSharedStorage = errors.New("gc: blob provider shares its storage")

	// ErrBlobReferenced is returned by DeleteBlob for keys a document still
	// references.
	ErrBlobReferenced = errors.New("gc: blob is referenced")
)

// DeleteResult describes a DeleteBlob call.
type DeleteResult struct {
	Provider string `json:"provider"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Deleted  bool   `json:"deleted"`
	DryRun   bool   `json:"dryRun"`
}

// Collector deletes single blobs outside of a bulk command.
type Collector struct {
	blobs    *blobstore.Manager
	repos    *repository.Registry
	notifier notify.Publisher
	log      *logging.Logger
}

// NewCollector creates a Collector. A nil notifier discards events.
func NewCollector(blobs *blobstore.Manager, repos *repository.Registry, notifier notify.Publisher, log *logging.Logger) *Collector {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = logging.Global()
	}
	return &Collector{blobs: blobs, repos: repos, notifier: notifier, log: log.Named("gc")}
}

// DeleteBlob deletes one unreferenced blob of repo. ref is a key of the
// repository's default provider or "provider:key". With dryRun the blob is
// only checked.
func (c *Collector) DeleteBlob(ctx context.Context, repo, ref string, dryRun bool) (DeleteResult, error) {
	r, err := c.repos.Get(repo)
	if err != nil {
		return DeleteResult{}, err
	}
	if _, ok := r.(repository.BlobKeyScanner); !ok {
		return DeleteResult{}, fmt.Errorf("gc: repository %q cannot enumerate blob keys: %w", repo, bulk.ErrNotImplemented)
	}

	p, key, err := c.blobs.ResolveKey(repo, ref)
	if err != nil {
		return DeleteResult{}, err
	}
	if key == "" {
		return DeleteResult{}, blobstore.ErrEmptyKey
	}
	if c.blobs.HasSharedStorage(p.ID) {
		return DeleteResult{}, fmt.Errorf("%w: %q", ErrSharedStorage, p.ID)
	}

	referenced, err := c.referenced(ctx, p, key)
	if err != nil {
		return DeleteResult{}, err
	}
	if referenced {
		return DeleteResult{}, fmt.Errorf("%w: %s:%s", ErrBlobReferenced, p.ID, key)
	}

	res := DeleteResult{Provider: p.ID, Key: key, DryRun: dryRun}
	size, err := p.Store.Size(ctx, key)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return res, nil
	}
	if err != nil {
		return DeleteResult{}, err
	}
	res.Size = size
	if dryRun {
		return res, nil
	}

	existed, err := p.Store.Delete(ctx, key)
	if err != nil {
		return DeleteResult{}, err
	}
	res.Deleted = existed
	if !existed {
		return res, nil
	}

	c.log.Infof("blob deleted", map[string]any{"repository": repo, "provider": p.ID, "key": key, "size": size})
	ev := notify.Event{
		Type:       notify.BlobsDeleted,
		Time:       time.Now().UTC(),
		Repository: repo,
		Payload: map[string]any{
			"provider": p.ID,
			"keys":     []string{key},
			"size":     size,
		},
	}
	if err := c.notifier.Publish(ctx, ev); err != nil {
		c.log.Warnf("failed to publish blob deletion", map[string]any{"error": err.Error()})
	}
	return res, nil
}

// referenced scans every repository served by p for a reference to key.
func (c *Collector) referenced(ctx context.Context, p *blobstore.Provider, key string) (bool, error) {
	strategy, docKeyed := p.Store.Strategy().(keystrategy.DocID)
	errFound := errors.New("gc: key found")

	for _, name := range p.Repositories {
		r, err := c.repos.Get(name)
		if err != nil {
			return false, fmt.Errorf("gc: provider %q serves unknown repository %q: %w", p.ID, name, bulk.ErrNotImplemented)
		}
		scanner, ok := r.(repository.BlobKeyScanner)
		if !ok {
			return false, fmt.Errorf("gc: repository %q cannot enumerate blob keys: %w", name, bulk.ErrNotImplemented)
		}
		err = scanner.ScanBlobKeys(ctx, func(doc repository.Document) error {
			if docKeyed && strategy.KeyFor("", doc.ID, doc.VersionID) == key {
				return errFound
			}
			for _, b := range doc.Blobs {
				if b.Provider == p.ID && b.Key == key {
					return errFound
				}
			}
			return nil
		})
		if errors.Is(err, errFound) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("gc: scan %q: %w", name, err)
		}
	}
	return false, nil
}
