package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/bulkgc/internal/metadata"
	"github.com/dray-io/bulkgc/internal/metadata/storetest"
)

func newTestStore(t *testing.T) metadata.MetadataStore {
	t.Helper()
	store, err := New(context.Background(), Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConformance(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dir is required")
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := New(ctx, Config{Dir: dir})
	require.NoError(t, err)
	v1, err := store.Put(ctx, "/bulkgc/v1/commands/c1", []byte("running"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := New(ctx, Config{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	res, err := reopened.Get(ctx, "/bulkgc/v1/commands/c1")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, "running", string(res.Value))
	assert.Equal(t, v1, res.Version)

	v2, err := reopened.Put(ctx, "/bulkgc/v1/commands/c1", []byte("completed"), metadata.WithExpectedVersion(v1))
	require.NoError(t, err)
	assert.Greater(t, int64(v2), int64(v1), "versions keep increasing after reopen")
}

func TestListSkipsSequenceKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "/a", []byte("x"))
	require.NoError(t, err)

	kvs, err := store.List(ctx, "", "", 0)
	require.NoError(t, err)
	require.Len(t, kvs, 1)
	assert.Equal(t, "/a", kvs[0].Key)
}
