package oxia

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/dray-io/bulkgc/internal/metadata"
)

// Config configures the Oxia metadata store.
type Config struct {
	// ServiceAddress is the Oxia service endpoint, e.g. "localhost:6648".
	ServiceAddress string

	// Namespace scopes every key of this store.
	Namespace string

	// RequestTimeout bounds a single request. Zero keeps the client default.
	RequestTimeout time.Duration

	// SessionTimeout is the client session timeout. Zero keeps the client
	// default.
	SessionTimeout time.Duration
}

func (c Config) validate() error {
	switch {
	case c.ServiceAddress == "":
		return errors.New("oxia: service address is required")
	case c.Namespace == "":
		return errors.New("oxia: namespace is required")
	}
	return nil
}

func (c Config) clientOptions() []oxiaclient.ClientOption {
	opts := []oxiaclient.ClientOption{oxiaclient.WithNamespace(c.Namespace)}
	if c.RequestTimeout > 0 {
		opts = append(opts, oxiaclient.WithRequestTimeout(c.RequestTimeout))
	}
	if c.SessionTimeout > 0 {
		opts = append(opts, oxiaclient.WithSessionTimeout(c.SessionTimeout))
	}
	return opts
}

// Store keeps command statuses and documents in an Oxia namespace.
type Store struct {
	client oxiaclient.SyncClient
	closed atomic.Bool
}

// New connects to the Oxia cluster at cfg.ServiceAddress.
func New(_ context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client, err := oxiaclient.NewSyncClient(cfg.ServiceAddress, cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("oxia: connect %s: %w", cfg.ServiceAddress, err)
	}
	return &Store{client: client}, nil
}

// Oxia versions start at 0 while metadata.Version 0 means absent, so every
// version crossing the boundary is shifted by one.
func oxiaToMetadataVersion(v int64) metadata.Version { return metadata.Version(v + 1) }
func metadataToOxiaVersion(v metadata.Version) int64 { return int64(v - 1) }

// mapErr translates client errors into the metadata error set.
func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, oxiaclient.ErrUnexpectedVersionId):
		return metadata.ErrVersionMismatch
	case errors.Is(err, oxiaclient.ErrKeyNotFound):
		return err
	}
	return fmt.Errorf("oxia: %s: %w", op, err)
}

func (s *Store) Get(ctx context.Context, key string) (metadata.GetResult, error) {
	if s.closed.Load() {
		return metadata.GetResult{}, metadata.ErrStoreClosed
	}
	_, value, version, err := s.client.Get(ctx, key)
	if errors.Is(err, oxiaclient.ErrKeyNotFound) {
		return metadata.GetResult{}, nil
	}
	if err != nil {
		return metadata.GetResult{}, mapErr("get "+key, err)
	}
	return metadata.GetResult{
		Value:   value,
		Version: oxiaToMetadataVersion(version.VersionId),
		Exists:  true,
	}, nil
}

// Put writes value. An expected version of 0 requires the key to be absent.
func (s *Store) Put(ctx context.Context, key string, value []byte, opts ...metadata.PutOption) (metadata.Version, error) {
	if s.closed.Load() {
		return 0, metadata.ErrStoreClosed
	}
	var putOpts []oxiaclient.PutOption
	if expected := metadata.ExtractExpectedVersion(opts); expected != nil {
		if *expected == 0 {
			putOpts = append(putOpts, oxiaclient.ExpectedRecordNotExists())
		} else {
			putOpts = append(putOpts, oxiaclient.ExpectedVersionId(metadataToOxiaVersion(*expected)))
		}
	}

	_, version, err := s.client.Put(ctx, key, value, putOpts...)
	if err != nil {
		return 0, mapErr("put "+key, err)
	}
	return oxiaToMetadataVersion(version.VersionId), nil
}

// Delete is idempotent unless an expected version is given.
func (s *Store) Delete(ctx context.Context, key string, opts ...metadata.DeleteOption) error {
	if s.closed.Load() {
		return metadata.ErrStoreClosed
	}
	var delOpts []oxiaclient.DeleteOption
	if expected := metadata.ExtractDeleteExpectedVersion(opts); expected != nil {
		delOpts = append(delOpts, oxiaclient.ExpectedVersionId(metadataToOxiaVersion(*expected)))
	}

	err := s.client.Delete(ctx, key, delOpts...)
	if errors.Is(err, oxiaclient.ErrKeyNotFound) {
		return nil
	}
	return mapErr("delete "+key, err)
}

// List scans [startKey, endKey). With an empty endKey a prefix ending in '/'
// lists its direct children, which is how every bulkgc key family is laid out;
// any other prefix lists every key starting with it.
func (s *Store) List(ctx context.Context, startKey, endKey string, limit int) ([]metadata.KV, error) {
	if s.closed.Load() {
		return nil, metadata.ErrStoreClosed
	}
	if endKey == "" {
		endKey = scanEnd(startKey)
	}

	results := s.client.RangeScan(ctx, startKey, endKey)
	var kvs []metadata.KV
	for r := range results {
		if r.Err != nil {
			return nil, mapErr("list "+startKey, r.Err)
		}
		kvs = append(kvs, metadata.KV{
			Key:     r.Key,
			Value:   r.Value,
			Version: oxiaToMetadataVersion(r.Version.VersionId),
		})
		if limit > 0 && len(kvs) >= limit {
			go func() {
				for range results {
				}
			}()
			break
		}
	}
	return kvs, nil
}

// scanEnd returns the exclusive end of a prefix scan. Oxia orders keys by
// '/' segment, so the children of "a/" end at "a//".
func scanEnd(prefix string) string {
	if n := len(prefix); n > 0 && prefix[n-1] == '/' {
		return prefix + "/"
	}
	return metadata.PrefixEnd(prefix)
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Close()
}

var _ metadata.MetadataStore = (*Store)(nil)
