package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/dray-io/bulkgc/internal/metadata"
	"github.com/dray-io/bulkgc/internal/metadata/keys"
)

// kvPageSize bounds each List call while scanning.
const kvPageSize = 500

// listEndSuffix sorts after every path-escaped ref and is valid UTF-8.
const listEndSuffix = "\x7f"

// KVRepository stores documents as JSON in a metadata store, one key per
// entry. Updates are compare-and-set so concurrent bulk actions on the same
// entry never lose each other's writes.
type KVRepository struct {
	name string
	meta metadata.MetadataStore
}

// NewKVRepository creates a repository named name over meta.
func NewKVRepository(name string, meta metadata.MetadataStore) *KVRepository {
	return &KVRepository{name: name, meta: meta}
}

func (r *KVRepository) Name() string { return r.name }

func (r *KVRepository) ValidateQuery(q string) error { return ValidateQuery(q) }

// page lists entries strictly after cursor.
func (r *KVRepository) page(ctx context.Context, cursor string, limit int) ([]metadata.KV, error) {
	prefix := keys.DocumentsPrefix(r.name)
	start := prefix
	if cursor != "" {
		start = keys.DocumentKeyPath(r.name, cursor) + "\x00"
	}
	kvs, err := r.meta.List(ctx, start, prefix+listEndSuffix, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: list: %w", err)
	}
	return kvs, nil
}

func (r *KVRepository) Query(ctx context.Context, q, cursor string, limit int) ([]string, string, error) {
	parsed, err := ParseQuery(q)
	if err != nil {
		return nil, "", err
	}

	var refs []string
	for {
		kvs, err := r.page(ctx, cursor, kvPageSize)
		if err != nil {
			return nil, "", err
		}
		for _, kv := range kvs {
			doc, err := decodeDocument(kv.Value)
			if err != nil {
				return nil, "", err
			}
			cursor = doc.Ref()
			if !parsed.matches(doc) {
				continue
			}
			refs = append(refs, cursor)
			if limit > 0 && len(refs) == limit {
				return refs, cursor, nil
			}
		}
		if len(kvs) < kvPageSize {
			return refs, "", nil
		}
	}
}

func (r *KVRepository) get(ctx context.Context, ref string) (Document, metadata.Version, error) {
	res, err := r.meta.Get(ctx, keys.DocumentKeyPath(r.name, ref))
	if err != nil {
		return Document{}, 0, fmt.Errorf("repository: get: %w", err)
	}
	if !res.Exists {
		return Document{}, 0, ErrNotFound
	}
	doc, err := decodeDocument(res.Value)
	return doc, res.Version, err
}

func (r *KVRepository) Get(ctx context.Context, ref string) (Document, error) {
	doc, _, err := r.get(ctx, ref)
	return doc, err
}

func (r *KVRepository) Put(ctx context.Context, doc Document) error {
	if err := doc.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("repository: marshal: %w", err)
	}
	if _, err := r.meta.Put(ctx, keys.DocumentKeyPath(r.name, doc.Ref()), data); err != nil {
		return fmt.Errorf("repository: put: %w", err)
	}
	return nil
}

func (r *KVRepository) Delete(ctx context.Context, ref string) (bool, error) {
	key := keys.DocumentKeyPath(r.name, ref)
	res, err := r.meta.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("repository: delete: %w", err)
	}
	if !res.Exists {
		return false, nil
	}
	err = r.meta.Delete(ctx, key, metadata.WithDeleteExpectedVersion(res.Version))
	if errors.Is(err, metadata.ErrVersionMismatch) {
		// Updated concurrently; the entry still existed.
		err = r.meta.Delete(ctx, key)
	}
	if err != nil {
		return false, fmt.Errorf("repository: delete: %w", err)
	}
	return true, nil
}

func (r *KVRepository) SetProperties(ctx context.Context, ref string, props map[string]string) error {
	return r.update(ctx, ref, func(d *Document) {
		if d.Properties == nil {
			d.Properties = make(map[string]string, len(props))
		}
		maps.Copy(d.Properties, props)
	})
}

func (r *KVRepository) SetTrashed(ctx context.Context, ref string, trashed bool) error {
	return r.update(ctx, ref, func(d *Document) { d.Trashed = trashed })
}

func (r *KVRepository) update(ctx context.Context, ref string, fn func(*Document)) error {
	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		doc, version, err := r.get(ctx, ref)
		if err != nil {
			return err
		}
		fn(&doc)
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("repository: marshal: %w", err)
		}
		_, err = r.meta.Put(ctx, keys.DocumentKeyPath(r.name, ref), data, metadata.WithExpectedVersion(version))
		if errors.Is(err, metadata.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return fmt.Errorf("repository: update: %w", err)
		}
		return nil
	}
	return fmt.Errorf("repository: update %q: %w", ref, metadata.ErrVersionMismatch)
}

// ScanBlobKeys pages through every entry of the repository.
func (r *KVRepository) ScanBlobKeys(ctx context.Context, fn func(Document) error) error {
	cursor := ""
	for {
		kvs, err := r.page(ctx, cursor, kvPageSize)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			doc, err := decodeDocument(kv.Value)
			if err != nil {
				return err
			}
			if err := fn(doc); err != nil {
				return err
			}
			cursor = doc.Ref()
		}
		if len(kvs) < kvPageSize {
			return nil
		}
	}
}

func decodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("repository: unmarshal document: %w", err)
	}
	return doc, nil
}

var (
	_ Repository     = (*KVRepository)(nil)
	_ BlobKeyScanner = (*KVRepository)(nil)
)
