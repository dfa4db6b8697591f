package scraper

import (
	"fmt"
	"time"
)

// Modes accepted in Config.Mode.
const (
	ModeHTTP = "http"
	ModeMock = "mock"
)

// Config selects the scraper implementation.
type Config struct {
	Mode      string        `toml:"mode" envconfig:"MODE"`
	BaseURL   string        `toml:"base_url" envconfig:"BASE_URL"`
	UserAgent string        `toml:"user_agent"`
	Username  string        `toml:"username" envconfig:"USERNAME"`
	Password  string        `toml:"password" envconfig:"PASSWORD"`
	Timeout   time.Duration `toml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Mode:      ModeHTTP,
		BaseURL:   "http://localhost:3000",
		UserAgent: "relay/1.0",
		Timeout:   5 * time.Minute,
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeHTTP:
		if c.BaseURL == "" {
			return fmt.Errorf("scraper base_url is required in http mode")
		}
		if c.Timeout <= 0 {
			return fmt.Errorf("scraper timeout must be positive, got %v", c.Timeout)
		}
	case ModeMock:
	default:
		return fmt.Errorf("unknown scraper mode %q (must be http or mock)", c.Mode)
	}
	return nil
}

// New builds the configured scraper.
func New(cfg Config) (Scraper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == ModeMock {
		return NewMock(), nil
	}
	return NewHTTPAdapter(HTTPAdapterOptions{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Timeout:   cfg.Timeout,
	})
}
