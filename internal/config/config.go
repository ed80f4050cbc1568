// Package config provides configuration loading and validation for bulkgc.
// Supports YAML files with environment variable overrides.
package config

import (
	"time"

	"github.com/dray-io/bulkgc/internal/bulk"
	"github.com/dray-io/bulkgc/internal/gc"
)

// Config holds all configuration for a bulkgc process.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Status        StatusConfig        `yaml:"status"`
	Repositories  []RepositoryConfig  `yaml:"repositories" validate:"required,min=1,dive"`
	Providers     []ProviderConfig    `yaml:"providers" validate:"dive"`
	GC            GCConfig            `yaml:"gc"`
	Notifications NotificationsConfig `yaml:"notifications"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig tunes the bulk service.
type ServiceConfig struct {
	Workers              int           `yaml:"workers" env:"BULKGC_WORKERS" validate:"gte=1"`
	MaxConcurrentBatches int64         `yaml:"maxConcurrentBatches" env:"BULKGC_MAX_CONCURRENT_BATCHES" validate:"gte=1"`
	RateLimit            float64       `yaml:"rateLimit" env:"BULKGC_RATE_LIMIT" validate:"gte=0"`
	RateBurst            int           `yaml:"rateBurst" env:"BULKGC_RATE_BURST" validate:"gte=0"`
	HeartbeatInterval    time.Duration `yaml:"heartbeatInterval" env:"BULKGC_HEARTBEAT_INTERVAL" validate:"gt=0"`
	StatusRetries        uint64        `yaml:"statusRetries" env:"BULKGC_STATUS_RETRIES"`
	BucketSize           int           `yaml:"bucketSize" env:"BULKGC_BUCKET_SIZE" validate:"gte=1"`
	BatchSize            int           `yaml:"batchSize" env:"BULKGC_BATCH_SIZE" validate:"gte=1,ltefield=BucketSize"`
	ShutdownTimeout      time.Duration `yaml:"shutdownTimeout" env:"BULKGC_SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// StatusConfig selects the metadata store holding command statuses.
// Repositories with the metadata backend share it.
type StatusConfig struct {
	Backend string         `yaml:"backend" env:"BULKGC_STATUS_BACKEND" validate:"oneof=memory badger oxia"`
	Options map[string]any `yaml:"options"`
}

// RepositoryConfig declares a document repository.
type RepositoryConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Backend string `yaml:"backend" validate:"oneof=memory metadata"`
}

// ProviderConfig declares a blob provider.
type ProviderConfig struct {
	ID           string          `yaml:"id" validate:"required,excludes=:"`
	Repositories []string        `yaml:"repositories" validate:"required,min=1"`
	KeyStrategy  string          `yaml:"keyStrategy" validate:"omitempty,oneof=digest docid"`
	KeyOption    string          `yaml:"keyOption"`
	Prefix       string          `yaml:"prefix"`
	Store        BlobStoreConfig `yaml:"store"`
}

// BlobStoreConfig selects the object store backend of a provider.
type BlobStoreConfig struct {
	Backend string         `yaml:"backend" validate:"oneof=memory s3"`
	Options map[string]any `yaml:"options"`
}

// GCConfig configures scheduled orphan collection.
type GCConfig struct {
	Enabled      bool          `yaml:"enabled" env:"BULKGC_GC_ENABLED"`
	Interval     time.Duration `yaml:"interval" env:"BULKGC_GC_INTERVAL" validate:"gt=0"`
	DryRun       bool          `yaml:"dryRun" env:"BULKGC_GC_DRY_RUN"`
	Repositories []string      `yaml:"repositories" env:"BULKGC_GC_REPOSITORIES"`
	ReportDir    string        `yaml:"reportDir" env:"BULKGC_GC_REPORT_DIR"`
}

// NotificationsConfig configures the Kafka event publisher. Events are only
// logged when disabled.
type NotificationsConfig struct {
	Enabled     bool     `yaml:"enabled" env:"BULKGC_KAFKA_ENABLED"`
	Brokers     []string `yaml:"brokers" env:"BULKGC_KAFKA_BROKERS" validate:"required_if=Enabled true"`
	Topic       string   `yaml:"topic" env:"BULKGC_KAFKA_TOPIC" validate:"required_if=Enabled true"`
	CreateTopic bool     `yaml:"createTopic" env:"BULKGC_KAFKA_CREATE_TOPIC"`
	Partitions  int32    `yaml:"partitions" env:"BULKGC_KAFKA_PARTITIONS"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listenAddr" env:"BULKGC_LISTEN_ADDR" validate:"required"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"BULKGC_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"BULKGC_LOG_LEVEL" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat   string `yaml:"logFormat" env:"BULKGC_LOG_FORMAT" validate:"oneof=json text"`
}

// Default returns a Config with sensible defaults: one in-memory repository
// named "default" served by one in-memory MD5 provider.
func Default() *Config {
	svc := bulk.DefaultConfig()
	sched := gc.DefaultSchedulerConfig()
	return &Config{
		Service: ServiceConfig{
			Workers:              svc.Workers,
			MaxConcurrentBatches: svc.MaxConcurrentBatches,
			HeartbeatInterval:    svc.HeartbeatInterval,
			StatusRetries:        10,
			BucketSize:           bulk.DefaultBucketSize,
			BatchSize:            bulk.DefaultBatchSize,
			ShutdownTimeout:      30 * time.Second,
		},
		Status: StatusConfig{
			Backend: "memory",
		},
		Repositories: []RepositoryConfig{
			{Name: "default", Backend: "memory"},
		},
		Providers: []ProviderConfig{
			{
				ID:           "default",
				Repositories: []string{"default"},
				KeyStrategy:  "digest",
				KeyOption:    "MD5",
				Store:        BlobStoreConfig{Backend: "memory"},
			},
		},
		GC: GCConfig{
			Interval: sched.Interval,
		},
		Notifications: NotificationsConfig{
			Topic:      "bulkgc-events",
			Partitions: 1,
		},
		API: APIConfig{
			ListenAddr: ":8080",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// BulkConfig returns the bulk service configuration.
func (c *Config) BulkConfig() bulk.Config {
	return bulk.Config{
		Workers:              c.Service.Workers,
		MaxConcurrentBatches: c.Service.MaxConcurrentBatches,
		RateLimit:            c.Service.RateLimit,
		RateBurst:            c.Service.RateBurst,
		HeartbeatInterval:    c.Service.HeartbeatInterval,
	}
}

// SchedulerConfig returns the GC scheduler configuration. Every repository
// is collected when none is listed.
func (c *Config) SchedulerConfig() gc.SchedulerConfig {
	repos := c.GC.Repositories
	if len(repos) == 0 {
		for _, r := range c.Repositories {
			repos = append(repos, r.Name)
		}
	}
	return gc.SchedulerConfig{
		Interval:     c.GC.Interval,
		Repositories: repos,
		DryRun:       c.GC.DryRun,
		Username:     "system",
		BucketSize:   c.Service.BucketSize,
		BatchSize:    c.Service.BatchSize,
		ReportDir:    c.GC.ReportDir,
	}
}
