package blobstore

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrUnknownProvider is returned for provider ids that are not configured.
	ErrUnknownProvider = errors.New("blobstore: unknown provider")

	// ErrNoProvider is returned when a repository has no blob provider.
	ErrNoProvider = errors.New("blobstore: repository has no provider")
)

// Provider is a named blob store serving one or more repositories.
type Provider struct {
	ID           string
	Store        *Store
	Repositories []string
}

// Manager holds the configured providers.
type Manager struct {
	providers map[string]*Provider
	order     []string
}

// NewManager builds a Manager. Provider ids must be unique and non-empty.
func NewManager(providers ...*Provider) (*Manager, error) {
	m := &Manager{providers: make(map[string]*Provider, len(providers))}
	for _, p := range providers {
		if p == nil || p.ID == "" || p.Store == nil {
			return nil, errors.New("blobstore: provider needs an id and a store")
		}
		if strings.Contains(p.ID, ":") {
			return nil, fmt.Errorf("blobstore: provider id %q must not contain ':'", p.ID)
		}
		if _, dup := m.providers[p.ID]; dup {
			return nil, fmt.Errorf("blobstore: duplicate provider %q", p.ID)
		}
		m.providers[p.ID] = p
		m.order = append(m.order, p.ID)
	}
	return m, nil
}

// Provider returns the provider with the given id.
func (m *Manager) Provider(id string) (*Provider, error) {
	p, ok := m.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return p, nil
}

// Providers returns every provider in configuration order.
func (m *Manager) Providers() []*Provider {
	out := make([]*Provider, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.providers[id])
	}
	return out
}

// ProvidersFor returns the providers serving repository, in configuration order.
func (m *Manager) ProvidersFor(repository string) []*Provider {
	var out []*Provider
	for _, id := range m.order {
		p := m.providers[id]
		if slices.Contains(p.Repositories, repository) {
			out = append(out, p)
		}
	}
	return out
}

// DefaultProvider returns the first provider serving repository. New blobs
// of the repository are written there.
func (m *Manager) DefaultProvider(repository string) (*Provider, error) {
	ps := m.ProvidersFor(repository)
	if len(ps) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, repository)
	}
	return ps[0], nil
}

// SharingProviders returns the providers whose store is the same physical
// location as the store of provider id, including that provider.
func (m *Manager) SharingProviders(id string) ([]*Provider, error) {
	p, err := m.Provider(id)
	if err != nil {
		return nil, err
	}
	storage := p.Store.StorageID()

	var out []*Provider
	for _, oid := range m.order {
		o := m.providers[oid]
		if o.Store.StorageID() == storage {
			out = append(out, o)
		}
	}
	return out, nil
}

// HasSharedStorage reports whether another provider uses the same storage
// as provider id.
func (m *Manager) HasSharedStorage(id string) bool {
	ps, err := m.SharingProviders(id)
	return err == nil && len(ps) > 1
}

// ResolveKey splits a "provider:key" reference. A reference without a known
// provider prefix addresses the default provider of repository.
func (m *Manager) ResolveKey(repository, ref string) (*Provider, string, error) {
	if id, key, ok := strings.Cut(ref, ":"); ok {
		if p, known := m.providers[id]; known {
			return p, key, nil
		}
	}
	p, err := m.DefaultProvider(repository)
	if err != nil {
		return nil, "", err
	}
	return p, ref, nil
}
