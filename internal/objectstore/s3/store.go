// Package s3 implements objectstore.Store on S3-compatible storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dray-io/bulkgc/internal/objectstore"
)

// DefaultRegion is used when Config.Region is empty.
const DefaultRegion = "us-east-1"

// Config configures an S3 store.
type Config struct {
	Bucket string

	// Region defaults to DefaultRegion. S3-compatible endpoints usually
	// ignore it.
	Region string

	// Endpoint overrides the AWS endpoint, e.g. "http://localhost:9000" for
	// MinIO.
	Endpoint string

	// AccessKeyID and SecretAccessKey select static credentials. When either
	// is empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle addresses buckets as http://endpoint/bucket/key.
	UsePathStyle bool
}

func (c Config) region() string {
	if c.Region == "" {
		return DefaultRegion
	}
	return c.Region
}

// deployment identifies the endpoint and principal. CopyObject works between
// two buckets only when both are reached the same way.
func (c Config) deployment() string {
	return c.Endpoint + "|" + c.region() + "|" + c.AccessKeyID
}

func (c Config) load(ctx context.Context) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.region())}
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

// Store is a blob provider backend on one bucket. It also implements
// objectstore.MultipartStore and objectstore.Copier.
type Store struct {
	client     *s3.Client
	bucket     string
	deployment string
	closed     atomic.Bool
}

// New builds a client for cfg.Bucket. No request is sent.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}
	awsCfg, err := cfg.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Listings and copies come back without checksums; that is expected.
		o.DisableLogOutputChecksumValidationSkipped = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Store{client: client, bucket: cfg.Bucket, deployment: cfg.deployment()}, nil
}

func (s *Store) Bucket() string { return s.bucket }

// StorageID identifies the bucket on its deployment.
func (s *Store) StorageID() string { return "s3:" + s.deployment + "/" + s.bucket }

func (s *Store) check() error {
	if s.closed.Load() {
		return objectstore.ErrStoreClosed
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return s.PutWithOptions(ctx, key, r, size, contentType, objectstore.PutOptions{})
}

// PutWithOptions uploads in a single request. IfNoneMatch "*" turns an
// existing key into ErrPreconditionFailed.
func (s *Store) PutWithOptions(ctx context.Context, key string, r io.Reader, size int64, contentType string, opts objectstore.PutOptions) error {
	if err := s.check(); err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	}
	if len(opts.Metadata) > 0 {
		in.Metadata = opts.Metadata
	}
	if opts.IfNoneMatch == "*" {
		in.IfNoneMatch = aws.String("*")
	}
	_, err := s.client.PutObject(ctx, in)
	return mapError("Put", key, err)
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError("Get", key, err)
	}
	return out.Body, nil
}

func (s *Store) Head(ctx context.Context, key string) (objectstore.ObjectMeta, error) {
	if err := s.check(); err != nil {
		return objectstore.ObjectMeta{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return objectstore.ObjectMeta{}, mapError("Head", key, err)
	}
	meta := objectstore.ObjectMeta{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ETag:        aws.ToString(out.ETag),
		Metadata:    out.Metadata,
	}
	if out.LastModified != nil {
		meta.LastModified = out.LastModified.UnixMilli()
	}
	return meta, nil
}

// Delete succeeds for a missing key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err = mapError("Delete", key, err); objectstore.IsNotFound(err) {
		return nil
	}
	return err
}

// List pages through ListPage until the listing is exhausted.
func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectMeta, error) {
	var all []objectstore.ObjectMeta
	token := ""
	for {
		page, err := s.ListPage(ctx, prefix, token, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Objects...)
		if page.NextToken == "" {
			return all, nil
		}
		token = page.NextToken
	}
}

// ListPage returns one ListObjectsV2 page. token is the continuation token
// of the previous page; limit 0 keeps the server default of 1000.
func (s *Store) ListPage(ctx context.Context, prefix, token string, limit int) (objectstore.Page, error) {
	if err := s.check(); err != nil {
		return objectstore.Page{}, err
	}
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if token != "" {
		in.ContinuationToken = aws.String(token)
	}
	if limit > 0 {
		in.MaxKeys = aws.Int32(int32(limit))
	}

	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return objectstore.Page{}, mapError("List", prefix, err)
	}
	page := objectstore.Page{Objects: make([]objectstore.ObjectMeta, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		meta := objectstore.ObjectMeta{
			Key:  aws.ToString(obj.Key),
			Size: aws.ToInt64(obj.Size),
			ETag: aws.ToString(obj.ETag),
		}
		if obj.LastModified != nil {
			meta.LastModified = obj.LastModified.UnixMilli()
		}
		page.Objects = append(page.Objects, meta)
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

// peer returns src as an S3 store of the same deployment.
func (s *Store) peer(src objectstore.Store) (*Store, bool) {
	other, ok := objectstore.Unwrap(src).(*Store)
	return other, ok && other.deployment == s.deployment
}

func (s *Store) CanCopyFrom(src objectstore.Store) bool {
	_, ok := s.peer(src)
	return ok
}

// CopyFrom copies srcKey of src with CopyObject. The bytes never leave S3.
func (s *Store) CopyFrom(ctx context.Context, src objectstore.Store, srcKey, dstKey string) error {
	if err := s.check(); err != nil {
		return err
	}
	other, ok := s.peer(src)
	if !ok {
		return &objectstore.ObjectError{Op: "Copy", Key: srcKey, Err: objectstore.ErrCopyUnsupported}
	}
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String((&url.URL{Path: other.bucket + "/" + srcKey}).EscapedPath()),
	})
	return mapError("Copy", srcKey, err)
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) CreateMultipartUpload(ctx context.Context, key string, contentType string) (objectstore.MultipartUpload, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, mapError("CreateMultipartUpload", key, err)
	}
	return &multipartUpload{store: s, key: key, uploadID: aws.ToString(out.UploadId)}, nil
}

// mapError converts SDK errors into objectstore sentinels wrapped in an
// ObjectError. A nil err stays nil.
func mapError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	sentinel := err

	var (
		respErr      *awshttp.ResponseError
		noSuchBucket *types.NoSuchBucket
		noSuchKey    *types.NoSuchKey
	)
	switch {
	case errors.As(err, &noSuchKey):
		sentinel = objectstore.ErrNotFound
	case errors.As(err, &noSuchBucket):
		sentinel = objectstore.ErrBucketNotFound
	case errors.As(err, &respErr):
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			sentinel = objectstore.ErrNotFound
		case http.StatusForbidden:
			sentinel = objectstore.ErrAccessDenied
		case http.StatusPreconditionFailed:
			sentinel = objectstore.ErrPreconditionFailed
		}
	}
	return &objectstore.ObjectError{Op: op, Key: key, Err: sentinel}
}

type multipartUpload struct {
	store    *Store
	key      string
	uploadID string
}

func (u *multipartUpload) UploadID() string { return u.uploadID }

func (u *multipartUpload) UploadPart(ctx context.Context, partNum int, r io.Reader, size int64) (string, error) {
	if err := u.store.check(); err != nil {
		return "", err
	}
	out, err := u.store.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.store.bucket),
		Key:           aws.String(u.key),
		UploadId:      aws.String(u.uploadID),
		PartNumber:    aws.Int32(int32(partNum)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", mapError("UploadPart", u.key, err)
	}
	return aws.ToString(out.ETag), nil
}

// Complete numbers the parts from 1 in the order of etags.
func (u *multipartUpload) Complete(ctx context.Context, etags []string) error {
	if err := u.store.check(); err != nil {
		return err
	}
	parts := make([]types.CompletedPart, len(etags))
	for i, etag := range etags {
		parts[i] = types.CompletedPart{PartNumber: aws.Int32(int32(i + 1)), ETag: aws.String(etag)}
	}
	_, err := u.store.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.store.bucket),
		Key:             aws.String(u.key),
		UploadId:        aws.String(u.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	return mapError("CompleteMultipartUpload", u.key, err)
}

func (u *multipartUpload) Abort(ctx context.Context) error {
	if err := u.store.check(); err != nil {
		return err
	}
	_, err := u.store.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.store.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})
	var noSuchUpload *types.NoSuchUpload
	if errors.As(err, &noSuchUpload) {
		return nil
	}
	return mapError("AbortMultipartUpload", u.key, err)
}

var (
	_ objectstore.Store           = (*Store)(nil)
	_ objectstore.MultipartStore  = (*Store)(nil)
	_ objectstore.Copier          = (*Store)(nil)
	_ objectstore.MultipartUpload = (*multipartUpload)(nil)
)
