package oxia

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oxia-db/oxia/oxiad/dataserver"

	"github.com/dray-io/bulkgc/internal/metadata"
	"github.com/dray-io/bulkgc/internal/metadata/storetest"
)

// serviceAddress returns OXIA_SERVICE_ADDRESS when set and otherwise starts
// an embedded standalone server that lives until the test ends.
func serviceAddress(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("OXIA_SERVICE_ADDRESS"); addr != "" {
		return addr
	}

	standalone, err := dataserver.NewStandalone(dataserver.NewTestConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("start oxia standalone: %v", err)
	}
	t.Cleanup(func() { _ = standalone.Close() })
	return standalone.ServiceAddr()
}

func newIntegrationTestStore(t *testing.T) metadata.MetadataStore {
	t.Helper()
	store, err := New(context.Background(), Config{
		ServiceAddress: serviceAddress(t),
		Namespace:      "default",
		RequestTimeout: 10 * time.Second,
		SessionTimeout: 15 * time.Second,
	})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIntegration_Conformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping oxia integration tests in short mode")
	}
	storetest.Run(t, newIntegrationTestStore)
}

func TestIntegration_StatusKeysAfterClose(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping oxia integration tests in short mode")
	}
	store := newIntegrationTestStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "/bulkgc/v1/commands/c1", []byte(`{}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := store.Get(ctx, "/bulkgc/v1/commands/c1"); err != metadata.ErrStoreClosed {
		t.Fatalf("get after close = %v, want ErrStoreClosed", err)
	}
}
