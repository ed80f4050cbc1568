// Package objectstore defines the byte-level storage interface that blob
// providers are built on.
//
// A [Store] knows nothing about documents or key strategies; it stores opaque
// objects under keys. Implementations are an in-memory store ([MemoryStore])
// and an S3-compatible store (package s3).
//
//	store, err := s3.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Put(ctx, "blobs/5eb63bbbe01eeed093cb22bb8f5acdc3", reader, size, "application/octet-stream")
//
//	page, err := store.ListPage(ctx, "blobs/", "", 1000)
//	for page.NextToken != "" {
//	    page, err = store.ListPage(ctx, "blobs/", page.NextToken, 1000)
//	}
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrPreconditionFailed is returned when a conditional write fails.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrCopyUnsupported is returned by Copier.CopyFrom when the source
	// cannot be copied natively.
	ErrCopyUnsupported = errors.New("native copy unsupported")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store closed")
)

// ObjectError wraps an error with the object key for context.
type ObjectError struct {
	Op  string
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ObjectMeta contains metadata about an object.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
	// LastModified is a Unix timestamp in milliseconds.
	LastModified int64
	Metadata     map[string]string
}

// PutOptions configures a Put operation.
type PutOptions struct {
	// Metadata is stored alongside the object.
	Metadata map[string]string

	// IfNoneMatch set to "*" makes the Put fail with ErrPreconditionFailed
	// when an object already exists at the key.
	IfNoneMatch string
}

// Page is one page of a listing.
type Page struct {
	Objects []ObjectMeta
	// NextToken resumes the listing. Empty when the listing is exhausted.
	NextToken string
}

// Store is the interface for object storage operations.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores an object. size must match the bytes read from reader.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// PutWithOptions stores an object with conditional write and metadata
	// options.
	PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error

	// Get retrieves an object. The caller closes the reader.
	// Returns ErrNotFound when the object does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head retrieves object metadata without the body.
	// Returns ErrNotFound when the object does not exist.
	Head(ctx context.Context, key string) (ObjectMeta, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every object under prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)

	// ListPage returns at most limit objects under prefix, resuming after
	// token. Keys are returned in lexicographic order.
	ListPage(ctx context.Context, prefix, token string, limit int) (Page, error)

	// Close releases resources. Later calls fail.
	Close() error
}

// Copier is implemented by stores that can duplicate an object held by
// another store without streaming the bytes through the caller.
type Copier interface {
	// CanCopyFrom reports whether objects of src can be copied natively.
	CanCopyFrom(src Store) bool

	// CopyFrom copies srcKey of src to dstKey of this store.
	// Returns ErrNotFound when srcKey does not exist.
	CopyFrom(ctx context.Context, src Store, srcKey, dstKey string) error
}

// MultipartUpload is an in-progress multipart upload.
type MultipartUpload interface {
	UploadID() string

	// UploadPart uploads part partNum (1-based) and returns its ETag.
	UploadPart(ctx context.Context, partNum int, reader io.Reader, size int64) (etag string, err error)

	// Complete finalizes the upload; etags are given in part order.
	Complete(ctx context.Context, etags []string) error

	// Abort cancels the upload. Aborting twice succeeds.
	Abort(ctx context.Context) error
}

// MultipartStore extends Store with multipart uploads, used for blobs larger
// than a single part.
type MultipartStore interface {
	Store

	CreateMultipartUpload(ctx context.Context, key string, contentType string) (MultipartUpload, error)
}

// AsMultipart returns s as a MultipartStore when it can really perform
// multipart uploads. Decorators report the capability of what they wrap.
func AsMultipart(s Store) (MultipartStore, bool) {
	if c, ok := s.(interface{ SupportsMultipart() bool }); ok && !c.SupportsMultipart() {
		return nil, false
	}
	m, ok := s.(MultipartStore)
	return m, ok
}

// Wrapper is implemented by decorating stores.
type Wrapper interface {
	Unwrap() Store
}

// Unwrap strips decorators until it reaches the backend store.
func Unwrap(s Store) Store {
	for {
		w, ok := s.(Wrapper)
		if !ok {
			return s
		}
		s = w.Unwrap()
	}
}

// StorageID returns the identity of the physical location behind s. Stores
// with equal ids read and write the same objects. Backends report it through
// a StorageID method; anything else is identified by its own address.
func StorageID(s Store) string {
	b := Unwrap(s)
	if id, ok := b.(interface{ StorageID() string }); ok {
		return id.StorageID()
	}
	return fmt.Sprintf("%T@%p", b, b)
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
