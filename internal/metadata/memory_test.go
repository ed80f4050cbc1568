package metadata_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/bulkgc/internal/metadata"
	"github.com/dray-io/bulkgc/internal/metadata/storetest"
)

func TestMemoryStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) metadata.MetadataStore {
		return metadata.NewMemoryStore()
	})
}

func TestMemoryStorePutHook(t *testing.T) {
	store := metadata.NewMemoryStore()
	injected := errors.New("disk full")
	store.SetPutHook(func(key string) error {
		if key == "/bad" {
			return injected
		}
		return nil
	})

	_, err := store.Put(context.Background(), "/bad", []byte("x"))
	assert.ErrorIs(t, err, injected)

	_, err = store.Put(context.Background(), "/good", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := metadata.NewMemoryStore()
	value := []byte("abc")
	_, err := store.Put(context.Background(), "/k", value)
	require.NoError(t, err)

	value[0] = 'z'
	res, err := store.Get(context.Background(), "/k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(res.Value))
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", ""},
		{"a", "b"},
		{"/bulkgc/v1/commands/", "/bulkgc/v1/commands0"},
		{string([]byte{0xFF}), ""},
		{string([]byte{0x00, 0xFF}), string([]byte{0x01})},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, metadata.PrefixEnd(tt.prefix), "prefix %q", tt.prefix)
	}
}
