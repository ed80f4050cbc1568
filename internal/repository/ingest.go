package repository

import (
	"context"
	"fmt"
	"io"

	"github.com/dray-io/bulkgc/internal/blobstore"
)

// Content is one blob to attach to a document.
type Content struct {
	Reader      io.Reader
	ContentType string

	// Provider selects the blob provider. Empty means the repository's
	// default provider.
	Provider string
}

// Ingest writes every content to its blob provider and stores doc with the
// resulting blob refs appended. Blobs already written stay in place when a
// later step fails; they are orphans the garbage collector reclaims.
func Ingest(ctx context.Context, repo Repository, blobs *blobstore.Manager, doc Document, contents ...Content) (Document, error) {
	if err := doc.validate(); err != nil {
		return Document{}, err
	}
	for i, c := range contents {
		p, err := pickProvider(blobs, repo.Name(), c.Provider)
		if err != nil {
			return Document{}, err
		}
		info, err := p.Store.Put(ctx, blobstore.BlobContext{
			Reader:      c.Reader,
			DocID:       doc.ID,
			VersionID:   doc.VersionID,
			ContentType: c.ContentType,
		})
		if err != nil {
			return Document{}, fmt.Errorf("repository: ingest blob %d of %q: %w", i, doc.Ref(), err)
		}
		doc.Blobs = append(doc.Blobs, BlobRef{
			Provider: p.ID,
			Key:      info.Key,
			Digest:   info.Digest,
			Length:   info.Length,
		})
	}
	if err := repo.Put(ctx, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func pickProvider(blobs *blobstore.Manager, repo, id string) (*blobstore.Provider, error) {
	if id == "" {
		return blobs.DefaultProvider(repo)
	}
	return blobs.Provider(id)
}
