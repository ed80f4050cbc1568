package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// Operation labels passed to MetricsRecorder.
const (
	OpPut    = "put"
	OpGet    = "get"
	OpHead   = "head"
	OpDelete = "delete"
	OpList   = "list"
	OpCopy   = "copy"
)

// MetricsRecorder receives one call per store operation. It keeps this
// package free of a metrics dependency.
type MetricsRecorder interface {
	RecordOperation(op string, durationSeconds float64, success bool, bytes int64)
}

// InstrumentedStore wraps a Store and records metrics for each operation.
// Not-found results count as successful lookups.
type InstrumentedStore struct {
	store   Store
	metrics MetricsRecorder
}

// NewInstrumentedStore wraps store. A nil recorder makes it a pass-through.
func NewInstrumentedStore(store Store, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: metrics}
}

func (s *InstrumentedStore) record(op string, start time.Time, err error, bytes int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordOperation(op, time.Since(start).Seconds(), err == nil || IsNotFound(err), bytes)
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	start := time.Now()
	err := s.store.Put(ctx, key, reader, size, contentType)
	s.record(OpPut, start, err, size)
	return err
}

func (s *InstrumentedStore) PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error {
	start := time.Now()
	err := s.store.PutWithOptions(ctx, key, reader, size, contentType, opts)
	s.record(OpPut, start, err, size)
	return err
}

// Get records the operation when the returned reader is closed, so the
// byte count covers what the caller actually read.
func (s *InstrumentedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		s.record(OpGet, start, err, 0)
		return nil, err
	}
	if s.metrics == nil {
		return rc, nil
	}
	return &instrumentedReadCloser{ReadCloser: rc, start: start, store: s}, nil
}

func (s *InstrumentedStore) Head(ctx context.Context, key string) (ObjectMeta, error) {
	start := time.Now()
	meta, err := s.store.Head(ctx, key)
	s.record(OpHead, start, err, 0)
	return meta, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.store.Delete(ctx, key)
	s.record(OpDelete, start, err, 0)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	start := time.Now()
	result, err := s.store.List(ctx, prefix)
	s.record(OpList, start, err, 0)
	return result, err
}

func (s *InstrumentedStore) ListPage(ctx context.Context, prefix, token string, limit int) (Page, error) {
	start := time.Now()
	page, err := s.store.ListPage(ctx, prefix, token, limit)
	s.record(OpList, start, err, 0)
	return page, err
}

// CanCopyFrom delegates to the wrapped store when it is a Copier.
func (s *InstrumentedStore) CanCopyFrom(src Store) bool {
	c, ok := s.store.(Copier)
	return ok && c.CanCopyFrom(src)
}

func (s *InstrumentedStore) CopyFrom(ctx context.Context, src Store, srcKey, dstKey string) error {
	c, ok := s.store.(Copier)
	if !ok {
		return &ObjectError{Op: "Copy", Key: srcKey, Err: ErrCopyUnsupported}
	}
	start := time.Now()
	err := c.CopyFrom(ctx, src, srcKey, dstKey)
	s.record(OpCopy, start, err, 0)
	return err
}

// CreateMultipartUpload delegates to the wrapped store when it supports
// multipart uploads.
func (s *InstrumentedStore) CreateMultipartUpload(ctx context.Context, key string, contentType string) (MultipartUpload, error) {
	m, ok := AsMultipart(s.store)
	if !ok {
		return nil, &ObjectError{Op: "CreateMultipartUpload", Key: key, Err: errors.ErrUnsupported}
	}
	return m.CreateMultipartUpload(ctx, key, contentType)
}

// SupportsMultipart reports whether the wrapped store supports multipart
// uploads.
func (s *InstrumentedStore) SupportsMultipart() bool {
	_, ok := AsMultipart(s.store)
	return ok
}

func (s *InstrumentedStore) Unwrap() Store {
	return s.store
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

type instrumentedReadCloser struct {
	io.ReadCloser
	start     time.Time
	store     *InstrumentedStore
	bytesRead int64
	readErr   error
	closed    bool
}

func (r *instrumentedReadCloser) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.bytesRead += int64(n)
	if err != nil && err != io.EOF {
		r.readErr = err
	}
	return n, err
}

func (r *instrumentedReadCloser) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.ReadCloser.Close()
	recorded := err
	if r.readErr != nil {
		recorded = r.readErr
	}
	r.store.record(OpGet, r.start, recorded, r.bytesRead)
	return err
}

var (
	_ Store   = (*InstrumentedStore)(nil)
	_ Copier  = (*InstrumentedStore)(nil)
	_ Wrapper = (*InstrumentedStore)(nil)
)
