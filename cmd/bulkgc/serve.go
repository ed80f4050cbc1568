package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dray-io/bulkgc/internal/api"
	"github.com/dray-io/bulkgc/internal/metrics"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		listenAddr  string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled garbage collection",
		Long: `Serve the bulk and document API until interrupted.

Scheduled orphan collection runs when gc.enabled is set. On SIGINT or
SIGTERM the server stops accepting requests and waits for running commands
up to service.shutdownTimeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.API.ListenAddr = listenAddr
			}
			if metricsAddr != "" {
				cfg.Observability.MetricsAddr = metricsAddr
			}

			ctx := cmd.Context()
			app, err := NewApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			metricsServer := metrics.NewServerWithRegistry(cfg.Observability.MetricsAddr, app.Registry)
			if cfg.Observability.MetricsAddr != "" {
				if err := metricsServer.Start(); err != nil {
					return err
				}
				defer metricsServer.Close()
			}

			server := api.NewServer(cfg.API.ListenAddr, api.NewRouter(api.Deps{
				Bulk:         app.Bulk,
				Repositories: app.Repositories,
				Blobs:        app.Blobs,
				Collector:    app.Collector,
				Metrics:      metricsServer.Handler(),
				Logger:       log,
			}), log)
			if err := server.Start(); err != nil {
				return err
			}

			if cfg.GC.Enabled {
				app.Scheduler.Start()
			}
			log.Infof("bulkgc started", map[string]any{
				"version":     version,
				"api":         server.Addr(),
				"metrics":     metricsServer.Addr(),
				"scheduledGc": cfg.GC.Enabled,
			})

			<-ctx.Done()
			log.Info("initiating graceful shutdown")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
			defer cancel()
			app.Scheduler.Stop()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Errorf("api shutdown error", map[string]any{"error": err.Error()})
			}
			done, err := app.Bulk.Await(shutdownCtx, cfg.Service.ShutdownTimeout)
			if err != nil || !done {
				log.Warn("running commands did not finish before shutdown")
			}
			log.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override the API listen address (e.g. :8080)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "override the metrics listen address (e.g. :9090)")
	return cmd
}
