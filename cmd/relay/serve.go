package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/relay/internal/metrics"
	"github.com/livinlefevreloca/relay/internal/runs"
	"github.com/livinlefevreloca/relay/internal/scheduler"
	"github.com/livinlefevreloca/relay/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, upload sweep and metrics server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		logger.Info("starting relay")
		defer logger.Info("relay stopped")

		store, err := openStore(cfg.Database, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		stack, err := newPipelineStack(cfg, store, logger)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		registry := runs.NewRegistry(context.Background(), cfg.Runs, logger)
		defer registry.Close()

		svc := service.New(service.Deps{
			Store:     store,
			Pipelines: stack.runner,
			Batches:   stack.batches,
			Runs:      registry,
			Logger:    logger,
		})
		synchronizer, err := scheduler.NewSynchronizer(cfg.Scheduler, svc, logger)
		if err != nil {
			return err
		}
		svc.AttachScheduler(synchronizer)

		if err := svc.SyncScheduleFromStore(ctx); err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return synchronizer.Run(ctx) })
		g.Go(func() error { return registry.Run(ctx) })
		g.Go(func() error { return svc.RunSweep(ctx, cfg.Sweep) })
		if cfg.Metrics.Enabled {
			server := metrics.NewServer(cfg.Metrics.BindAddress, store.PingContext, logger)
			g.Go(func() error { return server.Run(ctx, nil) })
		}

		logger.Info("relay is running", "sweep", cfg.Sweep.Enabled, "metrics", cfg.Metrics.Enabled)
		err = g.Wait()
		logger.Info("shutting down gracefully")
		return err
	},
}
