// Package repository is the document catalog the bulk pipeline scans.
//
// A document is addressed by its ref: the document id for the live document,
// or "id@version" for an archived version. Each entry carries properties, a
// trashed flag and references to the blobs holding its content.
//
// Queries are deliberately small: "*" selects everything, and "key=value"
// terms joined by AND filter on properties. The pseudo properties "id",
// "version" and "trashed" address the entry itself.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common errors.
var (
	ErrNotFound          = errors.New("repository: document not found")
	ErrInvalidQuery      = errors.New("repository: invalid query")
	ErrInvalidDocument   = errors.New("repository: invalid document")
	ErrUnknownRepository = errors.New("repository: unknown repository")
)

// RefSeparator joins a document id and a version id in a ref.
const RefSeparator = "@"

// BlobRef points at one blob of a document.
type BlobRef struct {
	Provider string `json:"provider"`
	Key      string `json:"key"`
	Digest   string `json:"digest,omitempty"`
	Length   int64  `json:"length"`
}

// Document is one catalog entry.
type Document struct {
	ID         string            `json:"id"`
	VersionID  string            `json:"versionId,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Trashed    bool              `json:"trashed,omitempty"`
	Blobs      []BlobRef         `json:"blobs,omitempty"`
}

// Ref returns the address of the entry.
func (d Document) Ref() string {
	return MakeRef(d.ID, d.VersionID)
}

// MakeRef builds a ref from a document id and an optional version id.
func MakeRef(id, versionID string) string {
	if versionID == "" {
		return id
	}
	return id + RefSeparator + versionID
}

// SplitRef is the inverse of MakeRef.
func SplitRef(ref string) (id, versionID string) {
	if i := strings.LastIndex(ref, RefSeparator); i >= 0 {
		return ref[:i], ref[i+len(RefSeparator):]
	}
	return ref, ""
}

func (d Document) validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDocument)
	}
	if strings.Contains(d.ID, RefSeparator) || strings.Contains(d.VersionID, RefSeparator) {
		return fmt.Errorf("%w: ids must not contain %q", ErrInvalidDocument, RefSeparator)
	}
	return nil
}

// Repository is a document catalog.
type Repository interface {
	Name() string

	// ValidateQuery reports ErrInvalidQuery for malformed queries.
	ValidateQuery(query string) error

	// Query returns at most limit refs matching query, in ref order, after
	// cursor. next is empty once the result set is exhausted.
	Query(ctx context.Context, query, cursor string, limit int) (refs []string, next string, err error)

	Get(ctx context.Context, ref string) (Document, error)
	Put(ctx context.Context, doc Document) error

	// Delete removes an entry and reports whether it existed. The blobs it
	// referenced stay in their stores until garbage collected.
	Delete(ctx context.Context, ref string) (bool, error)

	// SetProperties merges props into the entry's properties.
	SetProperties(ctx context.Context, ref string, props map[string]string) error

	SetTrashed(ctx context.Context, ref string, trashed bool) error
}

// BlobKeyScanner is implemented by repositories that can enumerate every
// live blob reference without resolving documents one by one. Garbage
// collection requires it.
type BlobKeyScanner interface {
	// ScanBlobKeys calls fn for every entry, live or archived. Iteration
	// stops at the first error fn returns.
	ScanBlobKeys(ctx context.Context, fn func(doc Document) error) error
}

// Registry maps repository names to repositories.
type Registry struct {
	repos map[string]Repository
}

// NewRegistry builds a registry. Names must be unique.
func NewRegistry(repos ...Repository) (*Registry, error) {
	r := &Registry{repos: make(map[string]Repository, len(repos))}
	for _, repo := range repos {
		if _, dup := r.repos[repo.Name()]; dup {
			return nil, fmt.Errorf("repository: duplicate repository %q", repo.Name())
		}
		r.repos[repo.Name()] = repo
	}
	return r, nil
}

// Get returns the named repository.
func (r *Registry) Get(name string) (Repository, error) {
	repo, ok := r.repos[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRepository, name)
	}
	return repo, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.repos[name]
	return ok
}

// Names returns the sorted repository names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.repos))
	for n := range r.repos {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
