package objectstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedOp struct {
	op      string
	success bool
	bytes   int64
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (f *fakeRecorder) RecordOperation(op string, _ float64, success bool, bytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, recordedOp{op: op, success: success, bytes: bytes})
}

func (f *fakeRecorder) last() recordedOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ops[len(f.ops)-1]
}

func TestInstrumentedStoreRecordsOperations(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	s := NewInstrumentedStore(NewMemoryStore(), rec)

	require.NoError(t, s.Put(ctx, "k", bytes.NewReader([]byte("hello")), 5, ""))
	assert.Equal(t, recordedOp{op: OpPut, success: true, bytes: 5}, rec.last())

	rc, err := s.Get(ctx, "k")
	require.NoError(t, err)
	_, _ = io.ReadAll(rc)
	assert.Len(t, rec.ops, 1, "get is recorded on close")
	require.NoError(t, rc.Close())
	assert.Equal(t, recordedOp{op: OpGet, success: true, bytes: 5}, rec.last())

	_, err = s.Head(ctx, "missing")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, recordedOp{op: OpHead, success: true}, rec.last())

	_, err = s.ListPage(ctx, "", "", 10)
	require.NoError(t, err)
	assert.Equal(t, OpList, rec.last().op)

	require.NoError(t, s.CopyFrom(ctx, s, "k", "k2"))
	assert.Equal(t, OpCopy, rec.last().op)

	require.NoError(t, s.Delete(ctx, "k"))
	assert.Equal(t, OpDelete, rec.last().op)
}

func TestInstrumentedStoreNilRecorder(t *testing.T) {
	ctx := context.Background()
	s := NewInstrumentedStore(NewMemoryStore(), nil)
	require.NoError(t, s.Put(ctx, "k", bytes.NewReader([]byte("x")), 1, ""))
	rc, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, rc.Close())
}
