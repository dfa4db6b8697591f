package scheduler

import (
	"fmt"
	"time"
)

// Config controls the trigger loop.
type Config struct {
	// IANA zone the daily fire times are interpreted in
	Timezone string `toml:"timezone"`

	// Main loop iteration interval
	LoopInterval time.Duration `toml:"loop_interval"`
}

// DefaultConfig returns the scheduler defaults
func DefaultConfig() Config {
	return Config{
		Timezone:     "Europe/Berlin",
		LoopInterval: 1 * time.Second,
	}
}

// Validate checks the configuration and returns the resolved location.
func (c Config) Validate() (*time.Location, error) {
	if c.LoopInterval <= 0 {
		return nil, fmt.Errorf("loop_interval must be positive, got %v", c.LoopInterval)
	}
	if c.LoopInterval > time.Minute {
		return nil, fmt.Errorf("loop_interval must not exceed 1m, got %v", c.LoopInterval)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
