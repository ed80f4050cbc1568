package bulk

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/bulkgc/internal/metadata"
)

func newStatusStore(t *testing.T) (*MetadataStatusStore, *metadata.MemoryStore) {
	t.Helper()
	meta := metadata.NewMemoryStore()
	return NewMetadataStatusStore(meta, MetadataStatusStoreConfig{InitialInterval: time.Millisecond}), meta
}

func scheduled(id, user string) *Status {
	now := time.Now().UTC()
	return &Status{ID: id, Username: user, Action: "touch", State: StateScheduled, SubmitTime: &now}
}

func TestStatusStoreCreateGet(t *testing.T) {
	store, _ := newStatusStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, scheduled("a", "alice")))
	assert.ErrorIs(t, store.Create(ctx, scheduled("a", "alice")), ErrStatusExists)

	st, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, StateScheduled, st.State)
	assert.Equal(t, "alice", st.Username)

	st, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStatusStoreIndexFailureRollsBack(t *testing.T) {
	store, meta := newStatusStore(t)
	ctx := context.Background()

	meta.SetPutHook(func(key string) error {
		if strings.Contains(key, "/users/") {
			return errors.New("index unavailable")
		}
		return nil
	})
	require.Error(t, store.Create(ctx, scheduled("a", "alice")))

	st, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, st, "a status without its index entry is removed")
}

func TestStatusStoreUpdate(t *testing.T) {
	store, _ := newStatusStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, scheduled("a", "alice")))

	st, err := store.Update(ctx, "a", func(st *Status) error {
		st.Total = 10
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.Total)

	boom := errors.New("boom")
	_, err = store.Update(ctx, "a", func(st *Status) error {
		st.Total = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)
	st, err = store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.Total, "a failed update writes nothing")

	_, err = store.Update(ctx, "missing", func(*Status) error { return nil })
	assert.ErrorIs(t, err, ErrStatusNotFound)
}

func TestStatusStoreLargeResultCounters(t *testing.T) {
	store, _ := newStatusStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, scheduled("a", "alice")))

	// 2^53 + 1 is the first integer a float64 cannot hold.
	const big = int64(1)<<53 + 1
	_, err := store.Update(ctx, "a", func(st *Status) error {
		st.mergeResult(map[string]int64{"totalSize": big}, nil)
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = store.Update(ctx, "a", func(st *Status) error {
			st.mergeResult(map[string]int64{"totalSize": 2}, nil)
			return nil
		})
		require.NoError(t, err)
	}

	st, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, big+6, st.ResultInt("totalSize"))
}

func TestStatusStoreConcurrentUpdates(t *testing.T) {
	store, _ := newStatusStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, scheduled("a", "alice")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "a", func(st *Status) error {
				st.Processed++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(8), st.Processed)
}

func TestStatusStoreListByUser(t *testing.T) {
	store, _ := newStatusStore(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.Create(ctx, scheduled(id, "alice")))
	}
	require.NoError(t, store.Create(ctx, scheduled("x", "alice2")))
	require.NoError(t, store.Create(ctx, scheduled("anon", "")))

	statuses, err := store.ListByUser(ctx, "alice")
	require.NoError(t, err)
	var ids []string
	for _, st := range statuses {
		ids = append(ids, st.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids, "submission order, not id order")
}
