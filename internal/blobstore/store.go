// Package blobstore stores document content under keys derived by a
// keystrategy.Strategy.
//
// A Store sits on top of an objectstore.Store and adds the document level
// semantics: key derivation, deduplicated writes, idempotent deletes,
// copy and move between stores, and paged enumeration of the keys that are
// physically present, which the garbage collector sweeps.
package blobstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/dray-io/bulkgc/internal/keystrategy"
	"github.com/dray-io/bulkgc/internal/objectstore"
)

var (
	// ErrBlobNotFound is returned when a blob key is absent.
	ErrBlobNotFound = errors.New("blobstore: blob not found")

	// ErrEmptyKey is returned when a strategy produces an empty key.
	ErrEmptyKey = errors.New("blobstore: empty blob key")
)

const (
	// DefaultMultipartThreshold is the size from which Put uses a multipart
	// upload when the backend supports it.
	DefaultMultipartThreshold = 64 << 20

	// DefaultPartSize is the multipart part size. S3 requires at least 5 MiB.
	DefaultPartSize = 16 << 20

	defaultContentType = "application/octet-stream"
)

// Config configures a Store.
type Config struct {
	// Strategy derives keys. Defaults to MD5 digests.
	Strategy keystrategy.Strategy

	// Prefix is prepended to every key in the backend, e.g. "blobs/".
	Prefix string

	// MultipartThreshold and PartSize tune large uploads.
	MultipartThreshold int64
	PartSize           int64

	// TempDir holds spooled uploads. Defaults to os.TempDir().
	TempDir string
}

// Store is a blob store over an object store backend.
type Store struct {
	backend            objectstore.Store
	strategy           keystrategy.Strategy
	prefix             string
	multipartThreshold int64
	partSize           int64
	tempDir            string
}

// New creates a Store writing to backend.
func New(backend objectstore.Store, cfg Config) *Store {
	if cfg.Strategy == nil {
		cfg.Strategy = keystrategy.Digest{Algorithm: keystrategy.MD5}
	}
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = DefaultMultipartThreshold
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = DefaultPartSize
	}
	return &Store{
		backend:            backend,
		strategy:           cfg.Strategy,
		prefix:             cfg.Prefix,
		multipartThreshold: cfg.MultipartThreshold,
		partSize:           cfg.PartSize,
		tempDir:            cfg.TempDir,
	}
}

// Strategy returns the key strategy of the store.
func (s *Store) Strategy() keystrategy.Strategy { return s.strategy }

// Backend returns the underlying object store.
func (s *Store) Backend() objectstore.Store { return s.backend }

// StorageID identifies the physical location of the blobs: the backend
// identity plus the key prefix.
func (s *Store) StorageID() string {
	return objectstore.StorageID(s.backend) + "|" + s.prefix
}

func (s *Store) objectKey(key string) string {
	return s.prefix + key
}

// BlobContext describes content being written.
type BlobContext struct {
	Reader      io.Reader
	DocID       string
	VersionID   string
	ContentType string
}

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Key    string
	Digest string
	Length int64
}

// Put writes the content of bc and returns where it was stored. The content
// is spooled to a temporary file while it is hashed, because digest keys are
// only known once every byte has been read.
//
// A deduplicated store skips the upload when the key is already present.
func (s *Store) Put(ctx context.Context, bc BlobContext) (BlobInfo, error) {
	if bc.Reader == nil {
		return BlobInfo{}, errors.New("blobstore: put: nil reader")
	}
	contentType := bc.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	f, err := os.CreateTemp(s.tempDir, "bulkgc-blob-*")
	if err != nil {
		return BlobInfo{}, fmt.Errorf("blobstore: put: spool: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()

	h := s.hasher()
	size, err := io.Copy(io.MultiWriter(f, h), bc.Reader)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("blobstore: put: spool: %w", err)
	}
	digest := hex.EncodeToString(h.Sum(nil))

	key := s.strategy.KeyFor(digest, bc.DocID, bc.VersionID)
	if key == "" {
		return BlobInfo{}, ErrEmptyKey
	}
	info := BlobInfo{Key: key, Digest: digest, Length: size}

	objKey := s.objectKey(key)
	if s.strategy.IsDeduplicated() {
		if _, err := s.backend.Head(ctx, objKey); err == nil {
			return info, nil
		} else if !objectstore.IsNotFound(err) {
			return BlobInfo{}, fmt.Errorf("blobstore: put: %w", err)
		}
	}

	if err := s.upload(ctx, objKey, f, size, contentType); err != nil {
		return BlobInfo{}, fmt.Errorf("blobstore: put: %w", err)
	}
	return info, nil
}

func (s *Store) hasher() hash.Hash {
	if d, ok := s.strategy.(keystrategy.Digest); ok {
		return d.Hasher()
	}
	return md5.New()
}

func (s *Store) upload(ctx context.Context, objKey string, f *os.File, size int64, contentType string) error {
	if mp, ok := objectstore.AsMultipart(s.backend); ok && size >= s.multipartThreshold {
		return s.uploadMultipart(ctx, mp, objKey, f, size, contentType)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if !s.strategy.IsDeduplicated() {
		return s.backend.Put(ctx, objKey, f, size, contentType)
	}

	// A concurrent writer of the same content wins; the bytes are identical.
	err := s.backend.PutWithOptions(ctx, objKey, f, size, contentType, objectstore.PutOptions{IfNoneMatch: "*"})
	if errors.Is(err, objectstore.ErrPreconditionFailed) {
		return nil
	}
	return err
}

func (s *Store) uploadMultipart(ctx context.Context, mp objectstore.MultipartStore, objKey string, f *os.File, size int64, contentType string) error {
	upload, err := mp.CreateMultipartUpload(ctx, objKey, contentType)
	if err != nil {
		return err
	}

	var etags []string
	for off, part := int64(0), 1; off < size; off, part = off+s.partSize, part+1 {
		n := min(s.partSize, size-off)
		etag, err := upload.UploadPart(ctx, part, io.NewSectionReader(f, off, n), n)
		if err != nil {
			_ = upload.Abort(context.WithoutCancel(ctx))
			return fmt.Errorf("part %d: %w", part, err)
		}
		etags = append(etags, etag)
	}

	if err := upload.Complete(ctx, etags); err != nil {
		_ = upload.Abort(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

// Get opens the blob stored under key. The caller closes the reader.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.backend.Get(ctx, s.objectKey(key))
	if objectstore.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: get: %w", err)
	}
	return rc, nil
}

// Size returns the length of the blob stored under key.
func (s *Store) Size(ctx context.Context, key string) (int64, error) {
	meta, err := s.backend.Head(ctx, s.objectKey(key))
	if objectstore.IsNotFound(err) {
		return 0, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if err != nil {
		return 0, fmt.Errorf("blobstore: head: %w", err)
	}
	return meta.Size, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.backend.Head(ctx, s.objectKey(key))
	if objectstore.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blobstore: exists: %w", err)
	}
	return true, nil
}

// Delete removes key and reports whether it was present. Deleting an absent
// key is not an error.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	existed, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	if err := s.backend.Delete(ctx, s.objectKey(key)); err != nil {
		return false, fmt.Errorf("blobstore: delete: %w", err)
	}
	return true, nil
}

// CopyBlobIsOptimized reports whether copies from src can be done natively
// by the backend, without streaming bytes through this process.
func (s *Store) CopyBlobIsOptimized(src *Store) bool {
	c, ok := s.backend.(objectstore.Copier)
	return ok && c.CanCopyFrom(src.backend)
}

// CopyOrMoveBlob copies sourceKey of source to destKey of s and returns
// destKey. It returns "" when the source key does not exist. With
// atomicMove the source key is deleted once the destination write returned.
//
// The native and the streamed path leave the same bytes under destKey.
func (s *Store) CopyOrMoveBlob(ctx context.Context, destKey string, source *Store, sourceKey string, atomicMove bool) (string, error) {
	if destKey == "" {
		return "", ErrEmptyKey
	}

	srcObj := source.objectKey(sourceKey)
	dstObj := s.objectKey(destKey)
	if objectstore.StorageID(s.backend) == objectstore.StorageID(source.backend) && srcObj == dstObj {
		ok, err := source.Exists(ctx, sourceKey)
		if err != nil || !ok {
			return "", err
		}
		return destKey, nil
	}

	meta, err := source.backend.Head(ctx, srcObj)
	if objectstore.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("blobstore: copy: %w", err)
	}

	if s.CopyBlobIsOptimized(source) {
		err = s.backend.(objectstore.Copier).CopyFrom(ctx, source.backend, srcObj, dstObj)
	} else {
		err = s.streamCopy(ctx, source, srcObj, dstObj, meta)
	}
	if objectstore.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("blobstore: copy: %w", err)
	}

	if atomicMove {
		if err := source.backend.Delete(ctx, srcObj); err != nil {
			return "", fmt.Errorf("blobstore: move: delete source: %w", err)
		}
	}
	return destKey, nil
}

func (s *Store) streamCopy(ctx context.Context, source *Store, srcObj, dstObj string, meta objectstore.ObjectMeta) error {
	rc, err := source.backend.Get(ctx, srcObj)
	if err != nil {
		return err
	}
	defer rc.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	return s.backend.Put(ctx, dstObj, rc, meta.Size, contentType)
}

// KeyInfo is a key physically present in the store.
type KeyInfo struct {
	Key  string
	Size int64
}

// Page is one page of ListKeys.
type Page struct {
	Keys      []KeyInfo
	NextToken string
}

// ListKeys enumerates the keys present under the store prefix. Pass the
// previous NextToken to continue; an empty NextToken ends the listing.
func (s *Store) ListKeys(ctx context.Context, token string, limit int) (Page, error) {
	page, err := s.backend.ListPage(ctx, s.prefix, token, limit)
	if err != nil {
		return Page{}, fmt.Errorf("blobstore: list: %w", err)
	}

	out := Page{NextToken: page.NextToken, Keys: make([]KeyInfo, 0, len(page.Objects))}
	for _, o := range page.Objects {
		key := strings.TrimPrefix(o.Key, s.prefix)
		if key == "" {
			continue
		}
		out.Keys = append(out.Keys, KeyInfo{Key: key, Size: o.Size})
	}
	return out, nil
}
