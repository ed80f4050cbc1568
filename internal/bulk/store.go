package bulk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dray-io/bulkgc/internal/metadata"
	"github.com/dray-io/bulkgc/internal/metadata/keys"
)

var (
	// ErrStatusExists is returned when creating a status whose id is taken.
	ErrStatusExists = errors.New("bulk: status already exists")

	// ErrStatusNotFound is returned when updating an unknown status.
	ErrStatusNotFound = errors.New("bulk: status not found")
)

// StatusStore persists command statuses.
type StatusStore interface {
	// Create stores a new status and indexes it under its username. It
	// fails with ErrStatusExists when the id is taken.
	Create(ctx context.Context, st *Status) error

	// Get returns the status of id, or nil when it is unknown.
	Get(ctx context.Context, id string) (*Status, error)

	// Update applies fn to the current status and writes the result with
	// compare-and-set, retrying fn on conflicts. An error from fn aborts the
	// update and is returned as is.
	Update(ctx context.Context, id string, fn func(*Status) error) (*Status, error)

	// ListByUser returns the statuses submitted by username, oldest first.
	ListByUser(ctx context.Context, username string) ([]*Status, error)
}

// MetadataStatusStoreConfig tunes a MetadataStatusStore.
type MetadataStatusStoreConfig struct {
	// MaxRetries bounds compare-and-set retries of one Update.
	// Default: 10
	MaxRetries uint64

	// InitialInterval is the first backoff delay between retries.
	// Default: 10ms
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay.
	// Default: 1s
	MaxInterval time.Duration
}

// MetadataStatusStore keeps statuses as JSON in a metadata store.
//
// Layout:
//
//	/bulkgc/v1/commands/<id>                  status JSON
//	/bulkgc/v1/users/<user>/<seq>-<id>        id, ordered by submission
type MetadataStatusStore struct {
	meta metadata.MetadataStore
	cfg  MetadataStatusStoreConfig

	mu      sync.Mutex
	lastSeq uint64
}

// NewMetadataStatusStore creates a status store over meta.
func NewMetadataStatusStore(meta metadata.MetadataStore, cfg MetadataStatusStoreConfig) *MetadataStatusStore {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 10
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 10 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = time.Second
	}
	return &MetadataStatusStore{meta: meta, cfg: cfg}
}

// nextSeq returns a sequence that orders index entries by submission time
// and is strictly increasing within this process.
func (s *MetadataStatusStore) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := max(s.lastSeq+1, uint64(time.Now().UnixNano()))
	s.lastSeq = seq
	return seq
}

func (s *MetadataStatusStore) Create(ctx context.Context, st *Status) error {
	if st.ID == "" {
		return errors.New("bulk: status without id")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("bulk: marshal status: %w", err)
	}

	statusKey := keys.CommandKeyPath(st.ID)
	if _, err := s.meta.Put(ctx, statusKey, data, metadata.WithExpectedVersion(0)); err != nil {
		if errors.Is(err, metadata.ErrVersionMismatch) {
			return fmt.Errorf("%w: %s", ErrStatusExists, st.ID)
		}
		return fmt.Errorf("bulk: create status: %w", err)
	}

	if st.Username == "" {
		return nil
	}
	indexKey, err := keys.UserCommandKeyPath(st.Username, s.nextSeq(), st.ID)
	if err == nil {
		_, err = s.meta.Put(ctx, indexKey, []byte(st.ID))
	}
	if err != nil {
		// An unindexed status would be invisible to its owner.
		_ = s.meta.Delete(context.WithoutCancel(ctx), statusKey)
		return fmt.Errorf("bulk: index status: %w", err)
	}
	return nil
}

func (s *MetadataStatusStore) get(ctx context.Context, id string) (*Status, metadata.Version, error) {
	res, err := s.meta.Get(ctx, keys.CommandKeyPath(id))
	if err != nil {
		return nil, 0, fmt.Errorf("bulk: get status: %w", err)
	}
	if !res.Exists {
		return nil, 0, nil
	}
	st, err := decodeStatus(res.Value)
	if err != nil {
		return nil, 0, fmt.Errorf("bulk: unmarshal status %s: %w", id, err)
	}
	return st, res.Version, nil
}

// decodeStatus keeps result numbers as json.Number so counters above 2^53
// survive the round trip of every bucket commit.
func decodeStatus(data []byte) (*Status, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var st Status
	if err := dec.Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *MetadataStatusStore) Get(ctx context.Context, id string) (*Status, error) {
	st, _, err := s.get(ctx, id)
	return st, err
}

func (s *MetadataStatusStore) Update(ctx context.Context, id string, fn func(*Status) error) (*Status, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval
	b.MaxInterval = s.cfg.MaxInterval
	b.MaxElapsedTime = 0

	var updated *Status
	op := func() error {
		st, version, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		if st == nil {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrStatusNotFound, id))
		}
		if err := fn(st); err != nil {
			return backoff.Permanent(err)
		}
		data, err := json.Marshal(st)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("bulk: marshal status: %w", err))
		}
		if _, err := s.meta.Put(ctx, keys.CommandKeyPath(id), data, metadata.WithExpectedVersion(version)); err != nil {
			if errors.Is(err, metadata.ErrVersionMismatch) {
				return err
			}
			return fmt.Errorf("bulk: update status: %w", err)
		}
		updated = st
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.MaxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *MetadataStatusStore) ListByUser(ctx context.Context, username string) ([]*Status, error) {
	kvs, err := s.meta.List(ctx, keys.UserCommandsPrefix(username), "", 0)
	if err != nil {
		return nil, fmt.Errorf("bulk: list statuses: %w", err)
	}

	out := make([]*Status, 0, len(kvs))
	for _, kv := range kvs {
		if _, err := keys.ParseUserCommandKey(kv.Key); err != nil {
			continue
		}
		st, err := s.Get(ctx, string(kv.Value))
		if err != nil {
			return nil, err
		}
		if st != nil {
			out = append(out, st)
		}
	}
	return out, nil
}

var _ StatusStore = (*MetadataStatusStore)(nil)
