package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. It backs the "memory" provider type
// and is used throughout the tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	closed  bool
}

type memoryObject struct {
	data []byte
	meta ObjectMeta
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	return s.PutWithOptions(ctx, key, reader, size, contentType, PutOptions{})
}

func (s *MemoryStore) PutWithOptions(_ context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return &ObjectError{Op: "Put", Key: key, Err: err}
	}
	if size >= 0 && int64(len(data)) != size {
		return &ObjectError{Op: "Put", Key: key, Err: fmt.Errorf("size mismatch: declared %d, read %d", size, len(data))}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if opts.IfNoneMatch == "*" {
		if _, exists := s.objects[key]; exists {
			return &ObjectError{Op: "Put", Key: key, Err: ErrPreconditionFailed}
		}
	}

	s.store(key, data, contentType, opts.Metadata)
	return nil
}

func (s *MemoryStore) store(key string, data []byte, contentType string, metadata map[string]string) {
	sum := md5.Sum(data)
	s.objects[key] = memoryObject{
		data: data,
		meta: ObjectMeta{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  contentType,
			ETag:         hex.EncodeToString(sum[:]),
			LastModified: time.Now().UnixMilli(),
			Metadata:     metadata,
		},
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, &ObjectError{Op: "Get", Key: key, Err: ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) Head(_ context.Context, key string) (ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ObjectMeta{}, ErrStoreClosed
	}
	obj, ok := s.objects[key]
	if !ok {
		return ObjectMeta{}, &ObjectError{Op: "Head", Key: key, Err: ErrNotFound}
	}
	return obj.meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	page, err := s.ListPage(ctx, prefix, "", 0)
	return page.Objects, err
}

// ListPage pages through keys in order. The token is the last key of the
// previous page, so keys added behind the cursor are not revisited.
func (s *MemoryStore) ListPage(_ context.Context, prefix, token string, limit int) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Page{}, ErrStoreClosed
	}

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var page Page
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
		page.NextToken = keys[len(keys)-1]
	}
	page.Objects = make([]ObjectMeta, len(keys))
	for i, k := range keys {
		page.Objects[i] = s.objects[k].meta
	}
	return page, nil
}

// StorageID identifies the instance; two MemoryStores never share objects.
func (s *MemoryStore) StorageID() string {
	return fmt.Sprintf("memory@%p", s)
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// CanCopyFrom reports true only for the same instance: distinct
// MemoryStores model distinct physical backends.
func (s *MemoryStore) CanCopyFrom(src Store) bool {
	other, ok := Unwrap(src).(*MemoryStore)
	return ok && other == s
}

func (s *MemoryStore) CopyFrom(_ context.Context, src Store, srcKey, dstKey string) error {
	if !s.CanCopyFrom(src) {
		return &ObjectError{Op: "Copy", Key: srcKey, Err: ErrCopyUnsupported}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	obj, ok := s.objects[srcKey]
	if !ok {
		return &ObjectError{Op: "Copy", Key: srcKey, Err: ErrNotFound}
	}
	s.store(dstKey, obj.data, obj.meta.ContentType, obj.meta.Metadata)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Copier = (*MemoryStore)(nil)
)
