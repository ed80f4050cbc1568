package scroll

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/bulkgc/internal/blobstore"
	"github.com/dray-io/bulkgc/internal/keystrategy"
	"github.com/dray-io/bulkgc/internal/objectstore"
	"github.com/dray-io/bulkgc/internal/repository"
)

func drain(t *testing.T, sc Scroll, size int) []string {
	t.Helper()
	defer sc.Close()

	ctx := context.Background()
	var all []string
	for {
		ok, err := sc.HasNext(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		batch, err := sc.Next(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, batch)
		require.LessOrEqual(t, len(batch), size)
		all = append(all, batch...)
	}
	_, err := sc.Next(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
	return all
}

func newRepos(t *testing.T, n int) (*repository.Registry, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository("docs")
	for i := 0; i < n; i++ {
		tag := "odd"
		if i%2 == 0 {
			tag = "even"
		}
		require.NoError(t, repo.Put(context.Background(), repository.Document{
			ID:         fmt.Sprintf("doc-%02d", i),
			Properties: map[string]string{"tag": tag},
		}))
	}
	reg, err := repository.NewRegistry(repo)
	require.NoError(t, err)
	return reg, repo
}

func TestServiceRegistration(t *testing.T) {
	reg, _ := newRepos(t, 0)
	svc, err := NewService(NewRepositoryScroller(reg))
	require.NoError(t, err)

	assert.True(t, svc.Exists(Request{Scroller: RepositoryScroller, Size: 1}))
	assert.False(t, svc.Exists(Request{Scroller: RepositoryScroller, Size: 0}))
	assert.False(t, svc.Exists(Request{Scroller: BlobScroller, Size: 1}))

	assert.Error(t, svc.Register(NewRepositoryScroller(reg)), "duplicate names are rejected")
	assert.Equal(t, []string{RepositoryScroller}, svc.Names())

	_, err = svc.Scroll(context.Background(), Request{Scroller: "nope", Size: 1})
	assert.ErrorIs(t, err, ErrUnknownScroller)
	_, err = svc.Scroll(context.Background(), Request{Scroller: RepositoryScroller})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRepositoryScroll(t *testing.T) {
	reg, _ := newRepos(t, 20)
	svc, err := NewService(NewRepositoryScroller(reg))
	require.NoError(t, err)
	ctx := context.Background()

	sc, err := svc.Scroll(ctx, Request{Scroller: RepositoryScroller, Repository: "docs", Query: "*", Size: 6})
	require.NoError(t, err)
	assert.Len(t, drain(t, sc, 6), 20)

	sc, err = svc.Scroll(ctx, Request{Scroller: RepositoryScroller, Repository: "docs", Query: "tag=even", Size: 3})
	require.NoError(t, err)
	even := drain(t, sc, 3)
	assert.Len(t, even, 10)
	assert.Contains(t, even, "doc-00")

	_, err = svc.Scroll(ctx, Request{Scroller: RepositoryScroller, Repository: "docs", Query: "", Size: 3})
	assert.ErrorIs(t, err, repository.ErrInvalidQuery)

	_, err = svc.Scroll(ctx, Request{Scroller: RepositoryScroller, Repository: "nope", Query: "*", Size: 3})
	assert.ErrorIs(t, err, repository.ErrUnknownRepository)
}

func TestRepositoryScrollEmpty(t *testing.T) {
	reg, _ := newRepos(t, 0)
	sc, err := NewRepositoryScroller(reg).Open(context.Background(), Request{Repository: "docs", Query: "*", Size: 5})
	require.NoError(t, err)
	assert.Empty(t, drain(t, sc, 5))
}

func TestRepositoryScrollCanceled(t *testing.T) {
	reg, _ := newRepos(t, 5)
	sc, err := NewRepositoryScroller(reg).Open(context.Background(), Request{Repository: "docs", Query: "*", Size: 2})
	require.NoError(t, err)
	defer sc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sc.HasNext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func putBlobs(t *testing.T, s *blobstore.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Put(context.Background(), blobstore.BlobContext{
			Reader: strings.NewReader(fmt.Sprintf("hello world%d", i)),
		})
		require.NoError(t, err)
	}
}

func TestBlobScroll(t *testing.T) {
	store := blobstore.New(objectstore.NewMemoryStore(), blobstore.Config{Prefix: "blobs/", TempDir: t.TempDir()})
	putBlobs(t, store, 7)
	mgr, err := blobstore.NewManager(&blobstore.Provider{ID: "main", Store: store, Repositories: []string{"docs"}})
	require.NoError(t, err)

	items := drain(t, mustOpen(t, NewBlobScroller(mgr), Request{Repository: "docs", Size: 3}), 3)
	require.Len(t, items, 7)
	for _, item := range items {
		provider, key, size, err := ParseBlobItem(item)
		require.NoError(t, err)
		assert.Equal(t, "main", provider)
		assert.True(t, keystrategy.Digest{Algorithm: keystrategy.MD5}.IsValidKey(key))
		assert.Equal(t, int64(12), size)
	}

	_, err = NewBlobScroller(mgr).Open(context.Background(), Request{Repository: "other", Size: 3})
	assert.ErrorIs(t, err, blobstore.ErrNoProvider)
}

func TestBlobScrollSharedStorage(t *testing.T) {
	backend := objectstore.NewMemoryStore()
	a := blobstore.New(backend, blobstore.Config{TempDir: t.TempDir()})
	b := blobstore.New(backend, blobstore.Config{TempDir: t.TempDir()})
	putBlobs(t, a, 4)

	mgr, err := blobstore.NewManager(
		&blobstore.Provider{ID: "a", Store: a, Repositories: []string{"docs"}},
		&blobstore.Provider{ID: "b", Store: b, Repositories: []string{"archive"}},
	)
	require.NoError(t, err)

	items := drain(t, mustOpen(t, NewBlobScroller(mgr), Request{Repository: "docs", Size: 10}), 10)
	assert.Len(t, items, 8, "shared storage is enumerated once per sharing provider")

	perProvider := map[string]int{}
	for _, item := range items {
		p, _, _, err := ParseBlobItem(item)
		require.NoError(t, err)
		perProvider[p]++
	}
	assert.Equal(t, map[string]int{"a": 4, "b": 4}, perProvider)
}

func TestBlobScrollProviderParam(t *testing.T) {
	a := blobstore.New(objectstore.NewMemoryStore(), blobstore.Config{TempDir: t.TempDir()})
	b := blobstore.New(objectstore.NewMemoryStore(), blobstore.Config{TempDir: t.TempDir()})
	putBlobs(t, a, 2)
	putBlobs(t, b, 3)

	mgr, err := blobstore.NewManager(
		&blobstore.Provider{ID: "a", Store: a, Repositories: []string{"docs"}},
		&blobstore.Provider{ID: "b", Store: b, Repositories: []string{"docs"}},
	)
	require.NoError(t, err)

	all := drain(t, mustOpen(t, NewBlobScroller(mgr), Request{Repository: "docs", Size: 2}), 2)
	assert.Len(t, all, 5)

	onlyB := drain(t, mustOpen(t, NewBlobScroller(mgr), Request{
		Repository: "docs",
		Size:       2,
		Params:     map[string]any{ParamProvider: "b"},
	}), 2)
	assert.Len(t, onlyB, 3)
}

func mustOpen(t *testing.T, s Scroller, req Request) Scroll {
	t.Helper()
	sc, err := s.Open(context.Background(), req)
	require.NoError(t, err)
	return sc
}

func TestParseBlobItem(t *testing.T) {
	p, k, size, err := ParseBlobItem(FormatBlobItem("main", "a:b", 42))
	require.NoError(t, err)
	assert.Equal(t, "main", p)
	assert.Equal(t, "a:b", k)
	assert.Equal(t, int64(42), size)

	for _, bad := range []string{"", "main", "main:key", ":key:1", "main::1", "main:key:x", "main:key:-1"} {
		_, _, _, err := ParseBlobItem(bad)
		assert.ErrorIs(t, err, ErrInvalidRequest, bad)
	}
}
