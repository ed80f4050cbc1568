package repository

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// MemoryRepository keeps documents in memory.
type MemoryRepository struct {
	name string

	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository(name string) *MemoryRepository {
	return &MemoryRepository{name: name, docs: make(map[string]Document)}
}

func (r *MemoryRepository) Name() string { return r.name }

func (r *MemoryRepository) ValidateQuery(q string) error { return ValidateQuery(q) }

func (r *MemoryRepository) Query(ctx context.Context, q, cursor string, limit int) ([]string, string, error) {
	parsed, err := ParseQuery(q)
	if err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]string, 0, len(r.docs))
	for ref, d := range r.docs {
		if ref > cursor && parsed.matches(d) {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)

	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
		return refs, refs[len(refs)-1], nil
	}
	return refs, "", nil
}

func (r *MemoryRepository) Get(_ context.Context, ref string) (Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.docs[ref]
	if !ok {
		return Document{}, ErrNotFound
	}
	return clone(d), nil
}

func (r *MemoryRepository) Put(_ context.Context, doc Document) error {
	if err := doc.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.Ref()] = clone(doc)
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.docs[ref]
	delete(r.docs, ref)
	return ok, nil
}

func (r *MemoryRepository) SetProperties(_ context.Context, ref string, props map[string]string) error {
	return r.update(ref, func(d *Document) {
		if d.Properties == nil {
			d.Properties = make(map[string]string, len(props))
		}
		maps.Copy(d.Properties, props)
	})
}

func (r *MemoryRepository) SetTrashed(_ context.Context, ref string, trashed bool) error {
	return r.update(ref, func(d *Document) { d.Trashed = trashed })
}

func (r *MemoryRepository) update(ref string, fn func(*Document)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[ref]
	if !ok {
		return ErrNotFound
	}
	d = clone(d)
	fn(&d)
	r.docs[ref] = d
	return nil
}

// ScanBlobKeys visits a snapshot of the entries.
func (r *MemoryRepository) ScanBlobKeys(ctx context.Context, fn func(Document) error) error {
	r.mu.RLock()
	snapshot := make([]Document, 0, len(r.docs))
	for _, d := range r.docs {
		snapshot = append(snapshot, clone(d))
	}
	r.mu.RUnlock()

	for i, d := range snapshot {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of entries.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

func clone(d Document) Document {
	d.Properties = maps.Clone(d.Properties)
	if d.Blobs != nil {
		d.Blobs = append([]BlobRef(nil), d.Blobs...)
	}
	return d
}

var (
	_ Repository     = (*MemoryRepository)(nil)
	_ BlobKeyScanner = (*MemoryRepository)(nil)
)
