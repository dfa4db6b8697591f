package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/relay/internal/batch"
	"github.com/livinlefevreloca/relay/internal/config"
	"github.com/livinlefevreloca/relay/internal/db"
	"github.com/livinlefevreloca/relay/internal/delivery"
	"github.com/livinlefevreloca/relay/internal/metrics"
	"github.com/livinlefevreloca/relay/internal/pipeline"
	"github.com/livinlefevreloca/relay/internal/scraper"
	"github.com/livinlefevreloca/relay/internal/stage"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "relay",
	Short:         "Relay orders and calls into Taifun",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(convertCmd)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (TOML)")
}

// loadConfig reads, overrides and validates the configuration and installs
// the configured logger as the default.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// openStore connects to the database and applies migrations unless
// configured to skip them.
func openStore(cfg db.Config, logger *slog.Logger) (*db.DB, error) {
	logger.Info("connecting to database", "driver", cfg.Driver)
	store, err := db.OpenWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.SkipMigrations {
		logger.Info("skipping migrations", "reason", "configured to skip")
		return store, nil
	}
	version, err := store.Migrate()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database schema ready", "version", version)
	return store, nil
}

// pipelineStack is the record pipeline and the batch orchestrator built
// on one store, scraper and delivery backend.
type pipelineStack struct {
	runner  *pipeline.Runner
	batches *batch.Orchestrator
}

func newPipelineStack(cfg *config.Config, store *db.DB, logger *slog.Logger) (*pipelineStack, error) {
	src, err := scraper.New(cfg.Scraper)
	if err != nil {
		return nil, fmt.Errorf("failed to build scraper: %w", err)
	}
	backend, err := delivery.New(cfg.Delivery, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build delivery backend: %w", err)
	}

	executor := stage.NewExecutor(logger, stage.WithObserver(func(name stage.Name, result string) {
		metrics.ObserveStageAttempt(string(name), result)
	}))
	runner := pipeline.NewRunner(pipeline.Deps{
		Store:     store,
		Scraper:   src,
		Deliverer: delivery.NewGateway(backend, logger),
		Executor:  executor,
		Policies:  cfg.Pipeline,
		Logger:    logger,
	})
	return &pipelineStack{
		runner:  runner,
		batches: batch.NewOrchestrator(src, store, runner, executor, cfg.Pipeline.List, logger),
	}, nil
}
