// Package badger implements the MetadataStore interface on an embedded
// BadgerDB. It suits single-node deployments that need statuses to survive
// a restart without running an Oxia cluster.
//
// Values are stored with an 8-byte big-endian version header. Versions come
// from a badger sequence, so they are unique across keys and never reused
// after a delete.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/dray-io/bulkgc/internal/metadata"
)

// sequenceKey holds the version sequence. It sorts before every '/' key.
var sequenceKey = []byte("!version-seq")

const (
	versionHeaderSize = 8
	sequenceBandwidth = 1000
	maxWriteRetries   = 16
)

// Config configures the badger metadata store.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in memory.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

// Store implements MetadataStore using BadgerDB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence

	mu     sync.RWMutex
	closed bool
}

// New opens the database described by cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger: dir is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithSyncWrites(cfg.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: failed to open %q: %w", cfg.Dir, err)
	}

	seq, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badger: failed to open version sequence: %w", err)
	}

	return &Store{db: db, seq: seq}, nil
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return metadata.ErrStoreClosed
	}
	return nil
}

func encodeValue(v metadata.Version, value []byte) []byte {
	buf := make([]byte, versionHeaderSize+len(value))
	binary.BigEndian.PutUint64(buf, uint64(v))
	copy(buf[versionHeaderSize:], value)
	return buf
}

func decodeValue(raw []byte) (metadata.Version, []byte, error) {
	if len(raw) < versionHeaderSize {
		return 0, nil, errors.New("badger: corrupt value header")
	}
	return metadata.Version(binary.BigEndian.Uint64(raw)), raw[versionHeaderSize:], nil
}

func readItem(item *badger.Item) (metadata.Version, []byte, error) {
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, nil, err
	}
	return decodeValue(raw)
}

// currentVersion returns 0 when key is absent.
func currentVersion(txn *badger.Txn, key []byte) (metadata.Version, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, _, err := readItem(item)
	return v, err
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) (metadata.GetResult, error) {
	if err := s.checkClosed(); err != nil {
		return metadata.GetResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return metadata.GetResult{}, err
	}

	var result metadata.GetResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v, value, err := readItem(item)
		if err != nil {
			return err
		}
		result = metadata.GetResult{Value: value, Version: v, Exists: true}
		return nil
	})
	if err != nil {
		return metadata.GetResult{}, fmt.Errorf("badger: get failed: %w", err)
	}
	return result, nil
}

// Put stores a value. With an expected version the read and the write share
// one transaction; a concurrent commit to the same key surfaces as
// ErrVersionMismatch.
func (s *Store) Put(ctx context.Context, key string, value []byte, opts ...metadata.PutOption) (metadata.Version, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	expected := metadata.ExtractExpectedVersion(opts)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		next, err := s.seq.Next()
		if err != nil {
			return 0, fmt.Errorf("badger: version sequence: %w", err)
		}
		version := metadata.Version(next + 1)

		err = s.db.Update(func(txn *badger.Txn) error {
			if expected != nil {
				current, err := currentVersion(txn, []byte(key))
				if err != nil {
					return err
				}
				if current != *expected {
					return metadata.ErrVersionMismatch
				}
			}
			return txn.Set([]byte(key), encodeValue(version, value))
		})
		switch {
		case err == nil:
			return version, nil
		case errors.Is(err, metadata.ErrVersionMismatch):
			return 0, metadata.ErrVersionMismatch
		case errors.Is(err, badger.ErrConflict):
			if expected != nil {
				return 0, metadata.ErrVersionMismatch
			}
			if attempt >= maxWriteRetries {
				return 0, fmt.Errorf("badger: put failed: %w", err)
			}
		default:
			return 0, fmt.Errorf("badger: put failed: %w", err)
		}
	}
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string, opts ...metadata.DeleteOption) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	expected := metadata.ExtractDeleteExpectedVersion(opts)

	err := s.db.Update(func(txn *badger.Txn) error {
		if expected != nil {
			current, err := currentVersion(txn, []byte(key))
			if err != nil {
				return err
			}
			if current == 0 {
				return nil
			}
			if current != *expected {
				return metadata.ErrVersionMismatch
			}
		}
		return txn.Delete([]byte(key))
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, metadata.ErrVersionMismatch), errors.Is(err, badger.ErrConflict):
		return metadata.ErrVersionMismatch
	default:
		return fmt.Errorf("badger: delete failed: %w", err)
	}
}

// List returns keys in the range [startKey, endKey) in lexicographic order.
func (s *Store) List(ctx context.Context, startKey, endKey string, limit int) ([]metadata.KV, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	var kvs []metadata.KV
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = true
		if endKey == "" {
			iterOpts.Prefix = []byte(startKey)
		}

		it := txn.NewIterator(iterOpts)
		defer it.Close()

		end := []byte(endKey)
		for it.Seek([]byte(startKey)); it.Valid(); it.Next() {
			if len(kvs)%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			key := item.KeyCopy(nil)
			if bytes.Equal(key, sequenceKey) {
				continue
			}
			if endKey != "" && bytes.Compare(key, end) >= 0 {
				break
			}

			v, value, err := readItem(item)
			if err != nil {
				return err
			}
			kvs = append(kvs, metadata.KV{Key: string(key), Value: value, Version: v})
			if limit > 0 && len(kvs) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: list failed: %w", err)
	}
	return kvs, nil
}

// Close releases the sequence and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	seqErr := s.seq.Release()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("badger: failed to close database: %w", err)
	}
	return seqErr
}

var _ metadata.MetadataStore = (*Store)(nil)
