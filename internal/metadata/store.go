// Package metadata defines the MetadataStore interface used to persist
// command statuses, the per-user command index and the KV-backed document
// repository.
//
// Backends are an in-memory store ([MemoryStore]), an embedded badger store
// (package badger) and a distributed Oxia store (package oxia). All of them
// offer versioned values with compare-and-set writes and ordered range
// listing, which is everything the bulk service needs to coordinate
// processes that share one store.
package metadata

import (
	"context"
	"errors"
)

// Common errors returned by MetadataStore operations.
var (
	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("metadata: key not found")

	// ErrVersionMismatch is returned when the expected version does not match
	// the current version during a compare-and-set operation.
	ErrVersionMismatch = errors.New("metadata: version mismatch")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("metadata: store closed")
)

// Version represents a key's version in the metadata store.
// Versions increase on every write and drive optimistic concurrency control.
//
// A zero version indicates the key has never been written.
type Version int64

// NoVersion is a sentinel value indicating no version constraint.
const NoVersion Version = -1

// KV represents a key-value pair with its version.
type KV struct {
	Key     string
	Value   []byte
	Version Version
}

// GetResult is the result of a Get operation.
type GetResult struct {
	Value   []byte
	Version Version
	Exists  bool
}

// PutOption configures a Put operation.
type PutOption func(*putOptions)

type putOptions struct {
	expectedVersion *Version
}

// WithExpectedVersion specifies the expected version for a CAS operation.
// If the current version does not match, the Put fails with ErrVersionMismatch.
// Version 0 requires that the key does not exist yet.
func WithExpectedVersion(v Version) PutOption {
	return func(o *putOptions) {
		o.expectedVersion = &v
	}
}

// DeleteOption configures a Delete operation.
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	expectedVersion *Version
}

// WithDeleteExpectedVersion specifies the expected version for a conditional delete.
// If the current version does not match, the Delete fails with ErrVersionMismatch.
func WithDeleteExpectedVersion(v Version) DeleteOption {
	return func(o *deleteOptions) {
		o.expectedVersion = &v
	}
}

// ExtractExpectedVersion extracts the expected version from Put options.
// Returns nil if no expected version was specified.
func ExtractExpectedVersion(opts []PutOption) *Version {
	var pOpts putOptions
	for _, opt := range opts {
		opt(&pOpts)
	}
	return pOpts.expectedVersion
}

// ExtractDeleteExpectedVersion extracts the expected version from Delete options.
// Returns nil if no expected version was specified.
func ExtractDeleteExpectedVersion(opts []DeleteOption) *Version {
	var dOpts deleteOptions
	for _, opt := range opts {
		opt(&dOpts)
	}
	return dOpts.expectedVersion
}

// MetadataStore is the interface for metadata storage operations.
//
// All operations accept a context.Context for cancellation and timeouts.
//
// Example usage:
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "bulkgc/default",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	// Create only if absent
//	v, err := store.Put(ctx, "/bulkgc/v1/commands/abc", data, metadata.WithExpectedVersion(0))
//
//	// Compare-and-set update
//	_, err = store.Put(ctx, "/bulkgc/v1/commands/abc", newData, metadata.WithExpectedVersion(v))
//
//	// Newest-first listing is done by the caller; List is ascending
//	entries, err := store.List(ctx, "/bulkgc/v1/users/alice/", "", 0)
type MetadataStore interface {
	// Get retrieves a value by key.
	// Returns GetResult with Exists=false if the key does not exist (not an error).
	Get(ctx context.Context, key string) (GetResult, error)

	// Put stores a value, optionally with version checking for CAS operations.
	// Returns the new version assigned to the key.
	Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error)

	// Delete removes a key, optionally with version checking.
	// Returns nil if the key does not exist.
	Delete(ctx context.Context, key string, opts ...DeleteOption) error

	// List returns keys in the range [startKey, endKey) in lexicographic order.
	// If endKey is empty, returns all keys with the prefix startKey.
	// If limit is 0 or negative, returns all matching keys.
	List(ctx context.Context, startKey, endKey string, limit int) ([]KV, error)

	// Close releases resources held by the store.
	// After Close is called, all operations return ErrStoreClosed.
	Close() error
}

// PrefixEnd returns the key that is lexicographically greater than all keys
// with the given prefix, or "" when no such key exists.
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
