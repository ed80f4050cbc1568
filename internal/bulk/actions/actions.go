// Package actions holds the document bulk actions.
package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/dray-io/bulkgc/internal/bulk"
	"github.com/dray-io/bulkgc/internal/repository"
	"github.com/dray-io/bulkgc/internal/scroll"
)

// Action names.
const (
	SetPropertiesName = "setProperties"
	DeleteName        = "delete"
	TrashName         = "trashDocuments"
)

// ParamTrashValue is the trashDocuments parameter selecting trash (true,
// the default) or untrash (false).
const ParamTrashValue = "value"

// documentAction carries what every document action shares.
type documentAction struct {
	repos *repository.Registry
}

func (a documentAction) policy() bulk.Policy {
	return bulk.Policy{RequiresQuery: true, DefaultScroller: scroll.RepositoryScroller}
}

func (a documentAction) repository(cmd bulk.Command) (repository.Repository, error) {
	return a.repos.Get(cmd.Repository)
}

// computation adapts a per-ref function to bulk.Computation.
type computation func(ctx context.Context, ref string) bulk.Outcome

func (c computation) Apply(ctx context.Context, id string) bulk.Outcome { return c(ctx, id) }

func (c computation) Finish(context.Context) (map[string]any, error) { return nil, nil }

// notFoundIsSkip maps a document removed since it was scrolled to a skip.
func notFoundIsSkip(err error) bulk.Outcome {
	if errors.Is(err, repository.ErrNotFound) {
		return bulk.Skip()
	}
	return bulk.Failure(err)
}

// SetProperties merges the command parameters into each document's
// properties. Non-string values are formatted with fmt.
type SetProperties struct{ documentAction }

// NewSetProperties creates the setProperties action.
func NewSetProperties(repos *repository.Registry) *SetProperties {
	return &SetProperties{documentAction{repos: repos}}
}

func (a *SetProperties) Name() string        { return SetPropertiesName }
func (a *SetProperties) Policy() bulk.Policy { return a.policy() }

func (a *SetProperties) Validate(_ context.Context, cmd bulk.Command) error {
	if len(cmd.Params) == 0 {
		return &bulk.ValidationError{Field: "params", Reason: "no properties to set"}
	}
	return nil
}

func (a *SetProperties) Start(_ context.Context, cmd bulk.Command) (bulk.Computation, error) {
	repo, err := a.repository(cmd)
	if err != nil {
		return nil, err
	}
	props := make(map[string]string, len(cmd.Params))
	for k, v := range cmd.Params {
		props[k] = fmt.Sprint(v)
	}

	return computation(func(ctx context.Context, ref string) bulk.Outcome {
		if err := repo.SetProperties(ctx, ref, props); err != nil {
			return notFoundIsSkip(err)
		}
		return bulk.Success()
	}), nil
}

// Delete removes each document entry. Blobs stay until garbage collected.
type Delete struct{ documentAction }

// NewDelete creates the delete action.
func NewDelete(repos *repository.Registry) *Delete {
	return &Delete{documentAction{repos: repos}}
}

func (a *Delete) Name() string                                 { return DeleteName }
func (a *Delete) Policy() bulk.Policy                          { return a.policy() }
func (a *Delete) Validate(context.Context, bulk.Command) error { return nil }

func (a *Delete) Start(_ context.Context, cmd bulk.Command) (bulk.Computation, error) {
	repo, err := a.repository(cmd)
	if err != nil {
		return nil, err
	}
	return computation(func(ctx context.Context, ref string) bulk.Outcome {
		existed, err := repo.Delete(ctx, ref)
		switch {
		case err != nil:
			return bulk.Failure(err)
		case !existed:
			return bulk.Skip()
		}
		return bulk.Success().With("deleted", 1)
	}), nil
}

// Trash sets or clears the trashed flag of each document.
type Trash struct{ documentAction }

// NewTrash creates the trashDocuments action.
func NewTrash(repos *repository.Registry) *Trash {
	return &Trash{documentAction{repos: repos}}
}

func (a *Trash) Name() string        { return TrashName }
func (a *Trash) Policy() bulk.Policy { return a.policy() }

func (a *Trash) Validate(_ context.Context, cmd bulk.Command) error {
	v, ok := cmd.Param(ParamTrashValue)
	if !ok {
		return nil
	}
	switch v {
	case true, false, "true", "false":
		return nil
	}
	return &bulk.ValidationError{Field: "params." + ParamTrashValue, Reason: fmt.Sprintf("not a boolean: %v", v)}
}

func (a *Trash) Start(_ context.Context, cmd bulk.Command) (bulk.Computation, error) {
	repo, err := a.repository(cmd)
	if err != nil {
		return nil, err
	}
	trash := cmd.BoolParam(ParamTrashValue, true)
	return computation(func(ctx context.Context, ref string) bulk.Outcome {
		doc, err := repo.Get(ctx, ref)
		if err != nil {
			return notFoundIsSkip(err)
		}
		if doc.Trashed == trash {
			return bulk.Skip()
		}
		if err := repo.SetTrashed(ctx, ref, trash); err != nil {
			return notFoundIsSkip(err)
		}
		return bulk.Success()
	}), nil
}

var (
	_ bulk.Action = (*SetProperties)(nil)
	_ bulk.Action = (*Delete)(nil)
	_ bulk.Action = (*Trash)(nil)
)
