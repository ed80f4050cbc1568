package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/bulkgc/internal/blobstore"
	"github.com/dray-io/bulkgc/internal/metadata"
	"github.com/dray-io/bulkgc/internal/objectstore"
)

func backends() map[string]func() Repository {
	return map[string]func() Repository{
		"memory": func() Repository { return NewMemoryRepository("docs") },
		"kv":     func() Repository { return NewKVRepository("docs", metadata.NewMemoryStore()) },
	}
}

func queryAll(t *testing.T, r Repository, q string, limit int) []string {
	t.Helper()
	var all []string
	cursor := ""
	for {
		refs, next, err := r.Query(context.Background(), q, cursor, limit)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(refs), limit)
		all = append(all, refs...)
		if next == "" {
			return all
		}
		cursor = next
	}
}

func TestRepository(t *testing.T) {
	for name, newRepo := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("PutGet", func(t *testing.T) {
				r := newRepo()
				doc := Document{ID: "doc-1", Properties: map[string]string{"color": "red"}}
				require.NoError(t, r.Put(ctx, doc))

				got, err := r.Get(ctx, "doc-1")
				require.NoError(t, err)
				assert.Equal(t, "red", got.Properties["color"])

				_, err = r.Get(ctx, "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("InvalidDocument", func(t *testing.T) {
				r := newRepo()
				assert.ErrorIs(t, r.Put(ctx, Document{}), ErrInvalidDocument)
				assert.ErrorIs(t, r.Put(ctx, Document{ID: "a@b"}), ErrInvalidDocument)
			})

			t.Run("Versions", func(t *testing.T) {
				r := newRepo()
				require.NoError(t, r.Put(ctx, Document{ID: "doc-1"}))
				require.NoError(t, r.Put(ctx, Document{ID: "doc-1", VersionID: "v1"}))

				got, err := r.Get(ctx, "doc-1@v1")
				require.NoError(t, err)
				assert.Equal(t, "v1", got.VersionID)
				assert.Equal(t, []string{"doc-1", "doc-1@v1"}, queryAll(t, r, MatchAll, 10))
			})

			t.Run("QueryPaging", func(t *testing.T) {
				r := newRepo()
				for i := 0; i < 23; i++ {
					color := "blue"
					if i%2 == 0 {
						color = "red"
					}
					require.NoError(t, r.Put(ctx, Document{
						ID:         fmt.Sprintf("doc-%02d", i),
						Properties: map[string]string{"color": color},
					}))
				}

				all := queryAll(t, r, MatchAll, 5)
				assert.Len(t, all, 23)
				assert.IsIncreasing(t, all)

				red := queryAll(t, r, "color=red", 4)
				assert.Len(t, red, 12)

				refs, _, err := r.Query(ctx, "color=red AND id=doc-04", "", 10)
				require.NoError(t, err)
				assert.Equal(t, []string{"doc-04"}, refs)

				_, _, err = r.Query(ctx, "", "", 10)
				assert.ErrorIs(t, err, ErrInvalidQuery)
			})

			t.Run("Delete", func(t *testing.T) {
				r := newRepo()
				require.NoError(t, r.Put(ctx, Document{ID: "doc-1"}))

				existed, err := r.Delete(ctx, "doc-1")
				require.NoError(t, err)
				assert.True(t, existed)

				existed, err = r.Delete(ctx, "doc-1")
				require.NoError(t, err)
				assert.False(t, existed)
			})

			t.Run("SetPropertiesAndTrash", func(t *testing.T) {
				r := newRepo()
				require.NoError(t, r.Put(ctx, Document{ID: "doc-1", Properties: map[string]string{"a": "1"}}))

				require.NoError(t, r.SetProperties(ctx, "doc-1", map[string]string{"b": "2"}))
				require.NoError(t, r.SetTrashed(ctx, "doc-1", true))

				got, err := r.Get(ctx, "doc-1")
				require.NoError(t, err)
				assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got.Properties)
				assert.True(t, got.Trashed)

				refs, _, err := r.Query(ctx, "trashed=true", "", 10)
				require.NoError(t, err)
				assert.Equal(t, []string{"doc-1"}, refs)

				assert.ErrorIs(t, r.SetTrashed(ctx, "missing", true), ErrNotFound)
			})

			t.Run("ScanBlobKeys", func(t *testing.T) {
				r := newRepo()
				for i := 0; i < 7; i++ {
					require.NoError(t, r.Put(ctx, Document{
						ID:    fmt.Sprintf("doc-%d", i),
						Blobs: []BlobRef{{Provider: "p", Key: fmt.Sprintf("k%d", i%3)}},
					}))
				}
				scanner, ok := r.(BlobKeyScanner)
				require.True(t, ok)

				keys := map[string]int{}
				require.NoError(t, scanner.ScanBlobKeys(ctx, func(d Document) error {
					for _, b := range d.Blobs {
						keys[b.Key]++
					}
					return nil
				}))
				assert.Equal(t, map[string]int{"k0": 3, "k1": 2, "k2": 2}, keys)

				stop := fmt.Errorf("stop")
				n := 0
				err := scanner.ScanBlobKeys(ctx, func(Document) error {
					n++
					return stop
				})
				assert.ErrorIs(t, err, stop)
				assert.Equal(t, 1, n)
			})
		})
	}
}

func TestKVRepositoryScanCrossesPages(t *testing.T) {
	ctx := context.Background()
	meta := metadata.NewMemoryStore()
	r := NewKVRepository("big", meta)
	other := NewKVRepository("big-other", meta)

	const n = kvPageSize + 17
	for i := 0; i < n; i++ {
		require.NoError(t, r.Put(ctx, Document{ID: fmt.Sprintf("d%05d", i)}))
	}
	require.NoError(t, other.Put(ctx, Document{ID: "intruder"}))

	seen := 0
	require.NoError(t, r.ScanBlobKeys(ctx, func(d Document) error {
		assert.NotEqual(t, "intruder", d.ID)
		seen++
		return nil
	}))
	assert.Equal(t, n, seen)
}

func TestKVRepositoryEscapesRefs(t *testing.T) {
	ctx := context.Background()
	r := NewKVRepository("docs", metadata.NewMemoryStore())

	require.NoError(t, r.Put(ctx, Document{ID: "dir/file name"}))
	require.NoError(t, r.Put(ctx, Document{ID: "dir/file name", VersionID: "2"}))

	refs, next, err := r.Query(ctx, MatchAll, "", 10)
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.ElementsMatch(t, []string{"dir/file name", "dir/file name@2"}, refs)
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		q       string
		terms   int
		wantErr bool
	}{
		{q: "*"},
		{q: "  *  "},
		{q: "a=b", terms: 1},
		{q: "a=b AND c=d", terms: 2},
		{q: "a=b and c=\"d e\"", terms: 2},
		{q: "", wantErr: true},
		{q: "a", wantErr: true},
		{q: "=b", wantErr: true},
		{q: "a=b AND =c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			parsed, err := ParseQuery(tt.q)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidQuery)
				return
			}
			require.NoError(t, err)
			assert.Len(t, parsed.terms, tt.terms)
		})
	}
}

func TestQueryUnquotesValues(t *testing.T) {
	parsed, err := ParseQuery(`title="hello world"`)
	require.NoError(t, err)
	assert.True(t, parsed.matches(Document{ID: "x", Properties: map[string]string{"title": "hello world"}}))
}

func TestRefs(t *testing.T) {
	assert.Equal(t, "doc", MakeRef("doc", ""))
	assert.Equal(t, "doc@v1", MakeRef("doc", "v1"))

	id, v := SplitRef("doc@v1")
	assert.Equal(t, "doc", id)
	assert.Equal(t, "v1", v)

	id, v = SplitRef("doc")
	assert.Equal(t, "doc", id)
	assert.Empty(t, v)
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(NewMemoryRepository("b"), NewMemoryRepository("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, reg.Names())
	assert.True(t, reg.Has("a"))

	_, err = reg.Get("c")
	assert.ErrorIs(t, err, ErrUnknownRepository)

	_, err = NewRegistry(NewMemoryRepository("a"), NewMemoryRepository("a"))
	assert.Error(t, err)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	store := blobstore.New(objectstore.NewMemoryStore(), blobstore.Config{TempDir: t.TempDir()})
	mgr, err := blobstore.NewManager(&blobstore.Provider{ID: "main", Store: store, Repositories: []string{"docs"}})
	require.NoError(t, err)
	repo := NewMemoryRepository("docs")

	doc, err := Ingest(ctx, repo, mgr, Document{ID: "doc-1"},
		Content{Reader: strings.NewReader("hello world")},
		Content{Reader: strings.NewReader("hello world"), Provider: "main"},
	)
	require.NoError(t, err)
	require.Len(t, doc.Blobs, 2)
	assert.Equal(t, "main", doc.Blobs[0].Provider)
	assert.Equal(t, doc.Blobs[0].Key, doc.Blobs[1].Key, "digest keys deduplicate")
	assert.Equal(t, int64(11), doc.Blobs[0].Length)

	stored, err := repo.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Blobs, stored.Blobs)

	_, err = Ingest(ctx, repo, mgr, Document{ID: "doc-2"}, Content{Reader: strings.NewReader("x"), Provider: "nope"})
	assert.ErrorIs(t, err, blobstore.ErrUnknownProvider)

	_, err = Ingest(ctx, NewMemoryRepository("orphan"), mgr, Document{ID: "doc-3"}, Content{Reader: strings.NewReader("x")})
	assert.ErrorIs(t, err, blobstore.ErrNoProvider)
}
