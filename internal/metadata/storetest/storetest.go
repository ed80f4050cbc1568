// Package storetest holds the behavior every MetadataStore backend must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/bulkgc/internal/metadata"
)

// Factory returns a fresh, empty store. The factory owns cleanup.
type Factory func(t *testing.T) metadata.MetadataStore

// Run executes the conformance tests against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetPut", func(t *testing.T) { testGetPut(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("CreateOnly", func(t *testing.T) { testCreateOnly(t, newStore(t)) })
	t.Run("CompareAndSet", func(t *testing.T) { testCompareAndSet(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ListPrefix", func(t *testing.T) { testListPrefix(t, newStore(t)) })
	t.Run("ListRange", func(t *testing.T) { testListRange(t, newStore(t)) })
	t.Run("ConcurrentCAS", func(t *testing.T) { testConcurrentCAS(t, newStore(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newStore(t)) })
}

func testGetPut(t *testing.T, store metadata.MetadataStore) {
	ctx := context.Background()

	v, err := store.Put(ctx, "/bulkgc/v1/commands/c1", []byte("one"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(v), int64(1))

	res, err := store.Get(ctx, "/bulkgc/v1/commands/c1")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, "one", string(res.Value))
	assert.Equal(t, v, res.Version)
}

func testGetMissing(t *testing.T, store metadata.MetadataStore) {
	res, err := store.Get(context.Background(), "/bulkgc/v1/commands/none")
	require.NoError(t, err)
	assert.False(t, res.Exists)
}

func testCreateOnly(t *testing.T, store metadata.MetadataStore) {
	ctx := context.Background()
	key := "/bulkgc/v1/commands/c1"

	_, err := store.Put(ctx, key, []byte("first"), metadata.WithExpectedVersion(0))
	require.NoError(t, err)

	_, err = store.Put(ctx, key, []byte("second"), metadata.WithExpectedVersion(0))
	assert.ErrorIs(t, err, metadata.ErrVersionMismatch)

	res, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "first", string(res.Value))
}

func testCompareAndSet(t *testing.T, store metadata.MetadataStore) {
	ctx := context.Background()
	key := "/bulkgc/v1/commands/c1"

	v1, err := store.Put(ctx, key, []byte("v1"))
	require.NoError(t, err)

	v2, err := store.Put(ctx, key, []byte("v2"), metadata.WithExpectedVersion(v1))
	require.NoError(t, err)
	assert.Greater(t, int64(v2), int64(v1))

	_, err = store.Put(ctx, key, []byte("stale"), metadata.WithExpectedVersion(v1))
	assert.ErrorIs(t, err, metadata.ErrVersionMismatch)

	_, err = store.Put(ctx, "/bulkgc/v1/commands/absent", []byte("x"), metadata.WithExpectedVersion(5))
	assert.ErrorIs(t, err, metadata.ErrVersionMismatch)

	res, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(res.Value))
}

func testDelete(t *testing.T, store metadata.MetadataStore) {
	ctx := context.Background()
	key := "/bulkgc/v1/commands/c1"

	v, err := store.Put(ctx, key, []byte("x"))
	require.NoError(t, err)

	err = store.Delete(ctx, key, metadata.WithDeleteExpectedVersion(v+100))
	assert.ErrorIs(t, err, metadata.ErrVersionMismatch)

	require.NoError(t, store.Delete(ctx, key, metadata.WithDeleteExpectedVersion(v)))
	require.NoError(t, store.Delete(ctx, key), "deleting a missing key is not an error")

	res, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Exists)
}

func testListPrefix(t *testing.T, store metadata.MetadataStore) {
	ctx := context.Background()

	for i := 5; i >= 1; i-- {
		_, err := store.Put(ctx, fmt.Sprintf("/bulkgc/v1/users/alice/%020d-c%d", i, i), []byte(fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
	}
	_, err := store.Put(ctx, "/bulkgc/v1/users/bob/00000000000000000001-x", []byte("x"))
	require.NoError(t, err)

	kvs, err := store.List(ctx, "/bulkgc/v1/users/alice/", "", 0)
	require.NoError(t, err)
	require.Len(t, kvs, 5)
	for i, kv := range kvs {
		assert.Equal(t, fmt.Sprintf("c%d", i+1), string(kv.Value))
	}

	limited, err := store.List(ctx, "/bulkgc/v1/users/alice/", "", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "c1", string(limited[0].Value))
}

func testListRange(t *testing.T, store metadata.MetadataStore) {
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c", "d"} {
		_, err := store.Put(ctx, "/bulkgc/v1/range/"+k, []byte(k))
		require.NoError(t, err)
	}

	kvs, err := store.List(ctx, "/bulkgc/v1/range/b", "/bulkgc/v1/range/d", 0)
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, "/bulkgc/v1/range/b", kvs[0].Key)
	assert.Equal(t, "/bulkgc/v1/range/c", kvs[1].Key)
}

func testConcurrentCAS(t *testing.T, store metadata.MetadataStore) {
	ctx := context.Background()
	key := "/bulkgc/v1/commands/contended"

	v, err := store.Put(ctx, key, []byte("0"))
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.Put(ctx, key, []byte(fmt.Sprint(i)), metadata.WithExpectedVersion(v)); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one writer wins a CAS race")
}

func testClosed(t *testing.T, store metadata.MetadataStore) {
	ctx := context.Background()
	require.NoError(t, store.Close())

	_, err := store.Get(ctx, "/k")
	assert.ErrorIs(t, err, metadata.ErrStoreClosed)
	_, err = store.Put(ctx, "/k", nil)
	assert.ErrorIs(t, err, metadata.ErrStoreClosed)
	_, err = store.List(ctx, "/", "", 0)
	assert.ErrorIs(t, err, metadata.ErrStoreClosed)
}
