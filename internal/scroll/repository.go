package scroll

import (
	"context"

	"github.com/dray-io/bulkgc/internal/repository"
)

// RepositoryScroller is the name of the document ref scroller.
const RepositoryScroller = "repository"

type repositoryScroller struct {
	repos *repository.Registry
}

// NewRepositoryScroller scrolls the refs of the documents matching the
// request query.
func NewRepositoryScroller(repos *repository.Registry) Scroller {
	return &repositoryScroller{repos: repos}
}

func (s *repositoryScroller) Name() string { return RepositoryScroller }

func (s *repositoryScroller) Open(_ context.Context, req Request) (Scroll, error) {
	repo, err := s.repos.Get(req.Repository)
	if err != nil {
		return nil, err
	}
	if err := repo.ValidateQuery(req.Query); err != nil {
		return nil, err
	}

	cursor := ""
	return &pager{fetch: func(ctx context.Context) ([]string, bool, error) {
		refs, next, err := repo.Query(ctx, req.Query, cursor, req.Size)
		if err != nil {
			return nil, false, err
		}
		cursor = next
		return refs, next != "", nil
	}}, nil
}
