package metadata

import (
	"context"
	"time"
)

// Operation names reported to a MetricsRecorder.
const (
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
	OpList   = "list"
)

// MetricsRecorder records metadata store operation metrics.
// This keeps the metadata package decoupled from the metrics package.
type MetricsRecorder interface {
	RecordMetadataOperation(op string, durationSeconds float64, success bool)
}

// InstrumentedStore wraps a MetadataStore and records metrics for each operation.
// A failed CAS is a successful round trip and is recorded as such.
type InstrumentedStore struct {
	store   MetadataStore
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a MetadataStore.
// If metrics is nil, no metrics are recorded and operations pass through directly.
func NewInstrumentedStore(store MetadataStore, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		metrics: metrics,
	}
}

func (s *InstrumentedStore) record(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordMetadataOperation(op, time.Since(start).Seconds(), err == nil || err == ErrVersionMismatch)
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (GetResult, error) {
	start := time.Now()
	result, err := s.store.Get(ctx, key)
	s.record(OpGet, start, err)
	return result, err
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	start := time.Now()
	v, err := s.store.Put(ctx, key, value, opts...)
	s.record(OpPut, start, err)
	return v, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string, opts ...DeleteOption) error {
	start := time.Now()
	err := s.store.Delete(ctx, key, opts...)
	s.record(OpDelete, start, err)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, startKey, endKey string, limit int) ([]KV, error) {
	start := time.Now()
	result, err := s.store.List(ctx, startKey, endKey, limit)
	s.record(OpList, start, err)
	return result, err
}

// Close releases resources held by the store.
func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

// Ensure InstrumentedStore implements MetadataStore.
var _ MetadataStore = (*InstrumentedStore)(nil)
