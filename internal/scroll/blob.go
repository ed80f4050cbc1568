package scroll

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dray-io/bulkgc/internal/blobstore"
)

// BlobScroller is the name of the physical blob key scroller.
const BlobScroller = "blob"

// ParamProvider restricts a blob scroll to one provider.
const ParamProvider = "provider"

// FormatBlobItem encodes a scrolled blob as "provider:key:size".
func FormatBlobItem(provider, key string, size int64) string {
	return provider + ":" + key + ":" + strconv.FormatInt(size, 10)
}

// ParseBlobItem decodes an item produced by the blob scroller. Provider ids
// never contain ':', so keys may.
func ParseBlobItem(item string) (provider, key string, size int64, err error) {
	provider, rest, ok := strings.Cut(item, ":")
	i := strings.LastIndex(rest, ":")
	if !ok || provider == "" || i <= 0 {
		return "", "", 0, fmt.Errorf("%w: blob item %q", ErrInvalidRequest, item)
	}
	size, err = strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil || size < 0 {
		return "", "", 0, fmt.Errorf("%w: blob item %q has a bad size", ErrInvalidRequest, item)
	}
	return provider, rest[:i], size, nil
}

type blobScroller struct {
	blobs *blobstore.Manager
}

// NewBlobScroller scrolls the keys physically present in the stores of the
// request repository's providers.
//
// A store shared by several providers is enumerated once per sharing
// provider, each pass tagging items with that provider's id. Totals of a
// scroll over shared storage are therefore multiples of the key count.
func NewBlobScroller(blobs *blobstore.Manager) Scroller {
	return &blobScroller{blobs: blobs}
}

func (s *blobScroller) Name() string { return BlobScroller }

// providers returns the providers a blob scroll of req enumerates, in order.
func (s *blobScroller) providers(req Request) ([]*blobstore.Provider, error) {
	var roots []*blobstore.Provider
	if id, _ := req.Params[ParamProvider].(string); id != "" {
		p, err := s.blobs.Provider(id)
		if err != nil {
			return nil, err
		}
		roots = []*blobstore.Provider{p}
	} else {
		roots = s.blobs.ProvidersFor(req.Repository)
		if len(roots) == 0 {
			return nil, fmt.Errorf("%w: %q", blobstore.ErrNoProvider, req.Repository)
		}
	}

	seen := make(map[string]bool)
	var out []*blobstore.Provider
	for _, root := range roots {
		sharing, err := s.blobs.SharingProviders(root.ID)
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

func (s *blobScroller) Open(_ context.Context, req Request) (Scroll, error) {
	providers, err := s.providers(req)
	if err != nil {
		return nil, err
	}

	idx := 0
	token := ""
	return &pager{fetch: func(ctx context.Context) ([]string, bool, error) {
		if idx >= len(providers) {
			return nil, false, nil
		}
		p := providers[idx]
		page, err := p.Store.ListKeys(ctx, token, req.Size)
		if err != nil {
			return nil, false, fmt.Errorf("scroll: list %s: %w", p.ID, err)
		}
		items := make([]string, 0, len(page.Keys))
		for _, k := range page.Keys {
			items = append(items, FormatBlobItem(p.ID, k.Key, k.Size))
		}
		token = page.NextToken
		if token == "" {
			idx++
		}
		return items, idx < len(providers), nil
	}}, nil
}
