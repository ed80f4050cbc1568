package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/bulkgc/internal/bulk"
	"github.com/dray-io/bulkgc/internal/keystrategy"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr :8080, got %s", cfg.API.ListenAddr)
	}

	if cfg.Status.Backend != "memory" {
		t.Errorf("expected default status backend memory, got %s", cfg.Status.Backend)
	}

	if cfg.Service.BucketSize != bulk.DefaultBucketSize {
		t.Errorf("expected default bucket size %d, got %d", bulk.DefaultBucketSize, cfg.Service.BucketSize)
	}

	if cfg.GC.Enabled {
		t.Error("expected scheduled gc to be disabled by default")
	}

	if cfg.GC.Interval != 24*time.Hour {
		t.Errorf("expected default gc interval 24h, got %s", cfg.GC.Interval)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestParseOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
service:
  workers: 8
  heartbeatInterval: 2s
status:
  backend: badger
  options:
    dir: /var/lib/bulkgc
    syncWrites: true
repositories:
  - name: docs
    backend: metadata
  - name: archive
    backend: memory
providers:
  - id: main
    repositories: [docs]
    keyStrategy: digest
    keyOption: SHA-256
    prefix: blobs/
    store:
      backend: s3
      options:
        bucket: documents
        endpoint: http://localhost:9000
        usePathStyle: true
  - id: versions
    repositories: [archive]
    keyStrategy: docid
    store:
      backend: memory
gc:
  enabled: true
  interval: 6h
  repositories: [docs]
`))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Service.Workers)
	assert.Equal(t, 2*time.Second, cfg.Service.HeartbeatInterval)
	assert.Equal(t, int64(16), cfg.Service.MaxConcurrentBatches)
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	require.Len(t, cfg.Repositories, 2)
	require.Len(t, cfg.Providers, 2)

	bc, err := cfg.Status.BadgerConfig()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/bulkgc", bc.Dir)
	assert.True(t, bc.SyncWrites)

	s3c, err := cfg.Providers[0].Store.S3Config()
	require.NoError(t, err)
	assert.Equal(t, "documents", s3c.Bucket)
	assert.Equal(t, "http://localhost:9000", s3c.Endpoint)
	assert.True(t, s3c.UsePathStyle)

	st, err := cfg.Providers[0].Strategy()
	require.NoError(t, err)
	assert.Equal(t, keystrategy.Digest{Algorithm: keystrategy.SHA256}, st)

	st, err = cfg.Providers[1].Strategy()
	require.NoError(t, err)
	assert.False(t, st.IsDeduplicated())

	sc := cfg.SchedulerConfig()
	assert.Equal(t, 6*time.Hour, sc.Interval)
	assert.Equal(t, []string{"docs"}, sc.Repositories)
}

func TestSchedulerConfigDefaultsToEveryRepository(t *testing.T) {
	cfg := Default()
	cfg.Repositories = append(cfg.Repositories, RepositoryConfig{Name: "other", Backend: "memory"})
	assert.Equal(t, []string{"default", "other"}, cfg.SchedulerConfig().Repositories)
}

func TestOxiaOptions(t *testing.T) {
	s := StatusConfig{Backend: "oxia", Options: map[string]any{
		"serviceAddress": "localhost:6648",
		"requestTimeout": "5s",
	}}
	oc, err := s.OxiaConfig()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6648", oc.ServiceAddress)
	assert.Equal(t, "default", oc.Namespace)
	assert.Equal(t, 5*time.Second, oc.RequestTimeout)

	_, err = StatusConfig{Backend: "oxia"}.OxiaConfig()
	assert.Error(t, err)

	_, err = StatusConfig{Backend: "oxia", Options: map[string]any{"serviceAddress": "x", "bogus": 1}}.OxiaConfig()
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BULKGC_WORKERS", "3")
	t.Setenv("BULKGC_RATE_LIMIT", "12.5")
	t.Setenv("BULKGC_GC_ENABLED", "true")
	t.Setenv("BULKGC_GC_INTERVAL", "90m")
	t.Setenv("BULKGC_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("BULKGC_STATUS_RETRIES", "4")
	t.Setenv("BULKGC_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Service.Workers)
	assert.Equal(t, 12.5, cfg.Service.RateLimit)
	assert.True(t, cfg.GC.Enabled)
	assert.Equal(t, 90*time.Minute, cfg.GC.Interval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notifications.Brokers)
	assert.Equal(t, uint64(4), cfg.Service.StatusRetries)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("BULKGC_WORKERS", "many")
	_, err := Load()
	assert.ErrorContains(t, err, "BULKGC_WORKERS")
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bulkgc.yaml")
	yml := `service:
  workers: 7
repositories:
  - {name: default, backend: memory}
  - {name: docs, backend: memory}
  - {name: media, backend: memory}
gc:
  repositories: [default, docs, media]
  reportDir: /var/reports
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	t.Setenv(PathEnv, path)
	t.Setenv("BULKGC_GC_REPOSITORIES", " docs , ,media")
	t.Setenv("BULKGC_KAFKA_PARTITIONS", "6")
	t.Setenv("BULKGC_HEARTBEAT_INTERVAL", "1500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "media"}, cfg.GC.Repositories)
	assert.Equal(t, int32(6), cfg.Notifications.Partitions)
	assert.Equal(t, 1500*time.Millisecond, cfg.Service.HeartbeatInterval)

	// Fields without a set variable keep their YAML or default value.
	assert.Equal(t, 7, cfg.Service.Workers)
	assert.Equal(t, "/var/reports", cfg.GC.ReportDir)
	assert.Equal(t, Default().Service.BucketSize, cfg.Service.BucketSize)
	assert.Equal(t, Default().API.ListenAddr, cfg.API.ListenAddr)
}

func TestEnvBindings(t *testing.T) {
	seen := make(map[string]envBinding)
	for _, b := range envBindings() {
		_, dup := seen[b.name]
		assert.False(t, dup, b.name)
		assert.NotEmpty(t, b.section, b.name)
		assert.NotEmpty(t, b.field, b.name)
		seen[b.name] = b
	}
	assert.Equal(t, envBinding{name: "BULKGC_KAFKA_PARTITIONS", section: "notifications", field: "partitions"}, seen["BULKGC_KAFKA_PARTITIONS"])
	assert.Equal(t, envBinding{name: "BULKGC_GC_INTERVAL", section: "gc", field: "interval"}, seen["BULKGC_GC_INTERVAL"])
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bulkgc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  listenAddr: \":7070\"\n"), 0o644))

	t.Setenv(PathEnv, path)
	t.Setenv("BULKGC_METRICS_ADDR", ":7071")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.API.ListenAddr)
	assert.Equal(t, ":7071", cfg.Observability.MetricsAddr)

	_, err = LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
