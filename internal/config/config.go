package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/livinlefevreloca/relay/internal/db"
	"github.com/livinlefevreloca/relay/internal/delivery"
	"github.com/livinlefevreloca/relay/internal/metrics"
	"github.com/livinlefevreloca/relay/internal/runs"
	"github.com/livinlefevreloca/relay/internal/scheduler"
	"github.com/livinlefevreloca/relay/internal/scraper"
	"github.com/livinlefevreloca/relay/internal/service"
	"github.com/livinlefevreloca/relay/internal/stage"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_DATABASE_DSN.
const EnvPrefix = "RELAY"

// Config represents the application configuration
type Config struct {
	Database  db.Config           `toml:"database" envconfig:"DATABASE"`
	Scraper   scraper.Config      `toml:"scraper" envconfig:"SCRAPER"`
	Delivery  delivery.Config     `toml:"delivery" envconfig:"DELIVERY"`
	Pipeline  stage.Policies      `toml:"pipeline" ignored:"true"`
	Scheduler scheduler.Config    `toml:"scheduler" envconfig:"SCHEDULER"`
	Runs      runs.Config         `toml:"runs" envconfig:"RUNS"`
	Sweep     service.SweepConfig `toml:"sweep" envconfig:"SWEEP"`
	Metrics   metrics.Config      `toml:"metrics" envconfig:"METRICS"`
	Logging   LoggingConfig       `toml:"logging" envconfig:"LOGGING"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level" envconfig:"LEVEL"`
	Format string `toml:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          db.DriverSQLite,
			DSN:             "relay.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			SkipMigrations:  false,
		},
		Scraper:   scraper.DefaultConfig(),
		Delivery:  delivery.DefaultConfig(),
		Pipeline:  stage.DefaultPolicies(),
		Scheduler: scheduler.DefaultConfig(),
		Runs:      runs.DefaultConfig(),
		Sweep:     service.DefaultSweepConfig(),
		Metrics:   metrics.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Environment variables (RELAY_*)
// 4. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		fileConfig, err := LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != db.DriverSQLite && c.Database.Driver != db.DriverPostgres {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3 or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	if err := c.Scraper.Validate(); err != nil {
		return fmt.Errorf("scraper: %w", err)
	}
	if err := c.Delivery.Validate(); err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if _, err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Runs.Validate(); err != nil {
		return fmt.Errorf("runs: %w", err)
	}
	if err := c.Sweep.Validate(); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	// Metrics validation
	if c.Metrics.Enabled && c.Metrics.BindAddress == "" {
		return fmt.Errorf("metrics bind_address must be specified when metrics are enabled")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}
