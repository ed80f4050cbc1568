package metadata

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements MetadataStore in memory. It backs the "memory"
// status store and is used by tests in other packages.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]KV
	closed   bool
	nextVer  Version
	closeErr error
	putHook  func(key string) error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string]KV),
		nextVer: 1,
	}
}

// SetPutHook installs a function consulted before every Put. A non-nil
// return fails the Put with that error. Tests use it to inject faults.
func (m *MemoryStore) SetPutHook(hook func(key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putHook = hook
}

func (m *MemoryStore) Get(_ context.Context, key string) (GetResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return GetResult{}, ErrStoreClosed
	}
	kv, ok := m.data[key]
	if !ok {
		return GetResult{Exists: false}, nil
	}
	return GetResult{Value: kv.Value, Version: kv.Version, Exists: true}, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	if m.putHook != nil {
		if err := m.putHook(key); err != nil {
			return 0, err
		}
	}

	if expected := ExtractExpectedVersion(opts); expected != nil {
		existing, ok := m.data[key]
		if !ok && *expected != 0 {
			return 0, ErrVersionMismatch
		}
		if ok && existing.Version != *expected {
			return 0, ErrVersionMismatch
		}
	}

	ver := m.nextVer
	m.nextVer++
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = KV{Key: key, Value: stored, Version: ver}
	return ver, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string, opts ...DeleteOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if expected := ExtractDeleteExpectedVersion(opts); expected != nil {
		existing, ok := m.data[key]
		if !ok {
			return nil
		}
		if existing.Version != *expected {
			return ErrVersionMismatch
		}
	}

	delete(m.data, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, startKey, endKey string, limit int) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	var keys []string
	for k := range m.data {
		if endKey == "" {
			if strings.HasPrefix(k, startKey) {
				keys = append(keys, k)
			}
		} else if k >= startKey && k < endKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	result := make([]KV, len(keys))
	for i, k := range keys {
		result[i] = m.data[k]
	}
	return result, nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// SetCloseError makes Close return err.
func (m *MemoryStore) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.closeErr
}

var _ MetadataStore = (*MemoryStore)(nil)
