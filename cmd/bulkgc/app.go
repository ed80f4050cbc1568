package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dray-io/bulkgc/internal/blobstore"
	"github.com/dray-io/bulkgc/internal/bulk"
	"github.com/dray-io/bulkgc/internal/bulk/actions"
	"github.com/dray-io/bulkgc/internal/config"
	"github.com/dray-io/bulkgc/internal/gc"
	"github.com/dray-io/bulkgc/internal/logging"
	"github.com/dray-io/bulkgc/internal/metadata"
	metabadger "github.com/dray-io/bulkgc/internal/metadata/badger"
	metaoxia "github.com/dray-io/bulkgc/internal/metadata/oxia"
	"github.com/dray-io/bulkgc/internal/metrics"
	"github.com/dray-io/bulkgc/internal/notify"
	"github.com/dray-io/bulkgc/internal/objectstore"
	s3store "github.com/dray-io/bulkgc/internal/objectstore/s3"
	"github.com/dray-io/bulkgc/internal/repository"
	"github.com/dray-io/bulkgc/internal/scroll"
)

// App holds every component built from a Config.
type App struct {
	Config   *config.Config
	Logger   *logging.Logger
	Registry *prometheus.Registry

	Meta         metadata.MetadataStore
	Repositories *repository.Registry
	Blobs        *blobstore.Manager
	Notifier     notify.Publisher
	Bulk         *bulk.Service
	Collector    *gc.Collector
	Scheduler    *gc.Scheduler

	closers []func() error
}

// NewApp wires the components described by cfg. On error every component
// built so far is closed.
func NewApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (_ *App, err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app := &App{Config: cfg, Logger: log, Registry: reg}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	metaMetrics := metrics.NewMetadataMetrics(reg)
	meta, err := openMetadata(ctx, cfg.Status)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}
	app.closers = append(app.closers, meta.Close)
	app.Meta = metadata.NewInstrumentedStore(meta, metaMetrics.Backend(cfg.Status.Backend))

	repos := make([]repository.Repository, 0, len(cfg.Repositories))
	for _, rc := range cfg.Repositories {
		switch rc.Backend {
		case "metadata":
			repos = append(repos, repository.NewKVRepository(rc.Name, app.Meta))
		default:
			repos = append(repos, repository.NewMemoryRepository(rc.Name))
		}
	}
	if app.Repositories, err = repository.NewRegistry(repos...); err != nil {
		return nil, err
	}

	osMetrics := metrics.NewObjectStoreMetrics(reg)
	providers := make([]*blobstore.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		backend, err := openObjectStore(ctx, pc.Store)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		app.closers = append(app.closers, backend.Close)
		strategy, err := pc.Strategy()
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		providers = append(providers, &blobstore.Provider{
			ID: pc.ID,
			Store: blobstore.New(objectstore.NewInstrumentedStore(backend, osMetrics), blobstore.Config{
				Strategy: strategy,
				Prefix:   pc.Prefix,
			}),
			Repositories: pc.Repositories,
		})
	}
	if app.Blobs, err = blobstore.NewManager(providers...); err != nil {
		return nil, err
	}

	if app.Notifier, err = openNotifier(ctx, cfg.Notifications, log); err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.Notifier.Close)

	scrolls, err := scroll.NewService(
		scroll.NewRepositoryScroller(app.Repositories),
		scroll.NewBlobScroller(app.Blobs),
	)
	if err != nil {
		return nil, err
	}

	acts, err := bulk.NewRegistry(
		actions.NewSetProperties(app.Repositories),
		actions.NewDelete(app.Repositories),
		actions.NewTrash(app.Repositories),
		gc.NewOrphanAction(app.Blobs, app.Repositories, log).WithMetrics(metrics.NewGCMetrics(reg)),
	)
	if err != nil {
		return nil, err
	}

	app.Bulk, err = bulk.NewService(cfg.BulkConfig(), bulk.Deps{
		Actions:      acts,
		Scrolls:      scrolls,
		Store:        bulk.NewMetadataStatusStore(app.Meta, bulk.MetadataStatusStoreConfig{MaxRetries: cfg.Service.StatusRetries}),
		Repositories: app.Repositories,
		Notifier:     app.Notifier,
		Metrics:      metrics.NewBulkMetrics(reg),
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.Bulk.Close)

	app.Collector = gc.NewCollector(app.Blobs, app.Repositories, app.Notifier, log)
	app.Scheduler = gc.NewScheduler(app.Bulk, cfg.SchedulerConfig(), log)
	return app, nil
}

// Close releases every component in reverse build order.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openMetadata(ctx context.Context, sc config.StatusConfig) (metadata.MetadataStore, error) {
	switch sc.Backend {
	case "badger":
		bc, err := sc.BadgerConfig()
		if err != nil {
			return nil, err
		}
		return metabadger.New(ctx, bc)
	case "oxia":
		oc, err := sc.OxiaConfig()
		if err != nil {
			return nil, err
		}
		return metaoxia.New(ctx, oc)
	case "memory", "":
		return metadata.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown status backend %q", sc.Backend)
}

func openObjectStore(ctx context.Context, bc config.BlobStoreConfig) (objectstore.Store, error) {
	switch bc.Backend {
	case "s3":
		cfg, err := bc.S3Config()
		if err != nil {
			return nil, err
		}
		return s3store.New(ctx, cfg)
	case "memory", "":
		return objectstore.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", bc.Backend)
}

func openNotifier(ctx context.Context, nc config.NotificationsConfig, log *logging.Logger) (notify.Publisher, error) {
	if !nc.Enabled {
		return notify.NewLogPublisher(log), nil
	}
	p, err := notify.NewKafkaPublisher(ctx, notify.KafkaConfig{
		Brokers:           nc.Brokers,
		Topic:             nc.Topic,
		ClientID:          "bulkgc",
		CreateTopic:       nc.CreateTopic,
		Partitions:        nc.Partitions,
		ReplicationFactor: 1,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	return p, nil
}
