package gc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/bulkgc/internal/blobstore"
	"github.com/dray-io/bulkgc/internal/bulk"
	"github.com/dray-io/bulkgc/internal/logging"
	"github.com/dray-io/bulkgc/internal/notify"
	"github.com/dray-io/bulkgc/internal/objectstore"
	"github.com/dray-io/bulkgc/internal/repository"
)

func TestDeleteBlob(t *testing.T) {
	ctx := context.Background()
	shared := objectstore.NewMemoryStore()
	primary := newStore(t, objectstore.NewMemoryStore(), nil)
	blobs, err := blobstore.NewManager(
		&blobstore.Provider{ID: "main", Store: primary, Repositories: []string{"docs"}},
		&blobstore.Provider{ID: "pp", Store: newStore(t, objectstore.NewMemoryStore(), nil), Repositories: []string{"plain"}},
		&blobstore.Provider{ID: "s1", Store: newStore(t, shared, nil), Repositories: []string{"other"}},
		&blobstore.Provider{ID: "s2", Store: newStore(t, shared, nil), Repositories: []string{"other"}},
	)
	require.NoError(t, err)
	docs := repository.NewMemoryRepository("docs")
	repos, err := repository.NewRegistry(
		docs,
		repository.NewMemoryRepository("other"),
		plainRepository{repository.NewMemoryRepository("plain")},
	)
	require.NoError(t, err)
	rec := &notify.Recorder{}
	c := NewCollector(blobs, repos, rec, logging.Nop())

	live := ingest(t, docs, blobs, repository.Document{ID: "live"}, "live bytes")
	orphan := putOrphan(t, primary, "orphan bytes")

	t.Run("Referenced", func(t *testing.T) {
		_, err := c.DeleteBlob(ctx, "docs", live.Blobs[0].Key, false)
		assert.ErrorIs(t, err, ErrBlobReferenced)
		assert.True(t, exists(t, primary, live.Blobs[0].Key))
	})

	t.Run("DryRun", func(t *testing.T) {
		res, err := c.DeleteBlob(ctx, "docs", orphan, true)
		require.NoError(t, err)
		assert.False(t, res.Deleted)
		assert.True(t, res.DryRun)
		assert.Equal(t, int64(len("orphan bytes")), res.Size)
		assert.True(t, exists(t, primary, orphan))
		assert.Empty(t, rec.OfType(notify.BlobsDeleted))
	})

	t.Run("ProviderPrefix", func(t *testing.T) {
		res, err := c.DeleteBlob(ctx, "docs", "main:"+orphan, false)
		require.NoError(t, err)
		assert.True(t, res.Deleted)
		assert.Equal(t, "main", res.Provider)
		assert.Equal(t, orphan, res.Key)
		assert.False(t, exists(t, primary, orphan))

		events := rec.OfType(notify.BlobsDeleted)
		require.Len(t, events, 1)
		assert.Equal(t, "docs", events[0].Repository)
		assert.Equal(t, []string{orphan}, events[0].Payload["keys"])
	})

	t.Run("Missing", func(t *testing.T) {
		res, err := c.DeleteBlob(ctx, "docs", orphan, false)
		require.NoError(t, err)
		assert.False(t, res.Deleted)
		assert.Len(t, rec.OfType(notify.BlobsDeleted), 1)
	})

	t.Run("SharedStorage", func(t *testing.T) {
		_, err := c.DeleteBlob(ctx, "other", "s1:anything", false)
		assert.ErrorIs(t, err, ErrSharedStorage)
	})

	t.Run("NoCapability", func(t *testing.T) {
		_, err := c.DeleteBlob(ctx, "plain", orphan, false)
		assert.ErrorIs(t, err, bulk.ErrNotImplemented)
	})

	t.Run("UnknownRepository", func(t *testing.T) {
		_, err := c.DeleteBlob(ctx, "nope", orphan, false)
		assert.ErrorIs(t, err, repository.ErrUnknownRepository)
	})
}
