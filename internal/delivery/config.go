package delivery

import (
	"fmt"
	"log/slog"
	"time"
)

// Backend names accepted in Config.Backend.
const (
	BackendSFTP  = "sftp"
	BackendS3    = "s3"
	BackendLocal = "local"
)

// DefaultRemotePath is the import directory of the downstream system.
const DefaultRemotePath = "/import/orders"

// Config selects and configures the delivery backend.
type Config struct {
	Backend string      `toml:"backend" envconfig:"BACKEND"`
	SFTP    SFTPConfig  `toml:"sftp" envconfig:"SFTP"`
	S3      S3Config    `toml:"s3" envconfig:"S3"`
	Local   LocalConfig `toml:"local" envconfig:"LOCAL"`
}

type SFTPConfig struct {
	Host           string        `toml:"host" envconfig:"HOST"`
	Port           int           `toml:"port" envconfig:"PORT"`
	Username       string        `toml:"username" envconfig:"USERNAME"`
	Password       string        `toml:"password" envconfig:"PASSWORD"`
	PrivateKeyFile string        `toml:"private_key_file" envconfig:"PRIVATE_KEY_FILE"`
	KnownHostsFile string        `toml:"known_hosts_file" envconfig:"KNOWN_HOSTS_FILE"`
	RemotePath     string        `toml:"remote_path" envconfig:"REMOTE_PATH"`
	DialTimeout    time.Duration `toml:"dial_timeout"`
}

type S3Config struct {
	Endpoint  string `toml:"endpoint" envconfig:"ENDPOINT"`
	Bucket    string `toml:"bucket" envconfig:"BUCKET"`
	Prefix    string `toml:"prefix" envconfig:"PREFIX"`
	AccessKey string `toml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `toml:"secret_key" envconfig:"SECRET_KEY"`
	UseSSL    bool   `toml:"use_ssl" envconfig:"USE_SSL"`
}

type LocalConfig struct {
	Dir string `toml:"dir" envconfig:"DIR"`
}

// DefaultConfig returns an SFTP configuration pointing at the default import directory.
func DefaultConfig() Config {
	return Config{
		Backend: BackendSFTP,
		SFTP: SFTPConfig{
			Port:        22,
			RemotePath:  DefaultRemotePath,
			DialTimeout: 30 * time.Second,
		},
		S3: S3Config{
			Prefix: "import/orders",
			UseSSL: true,
		},
	}
}

// Validate checks the settings of the selected backend.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSFTP:
		if c.SFTP.Host == "" {
			return fmt.Errorf("sftp host is required")
		}
		if c.SFTP.Port <= 0 || c.SFTP.Port > 65535 {
			return fmt.Errorf("sftp port must be between 1 and 65535, got %d", c.SFTP.Port)
		}
		if c.SFTP.Username == "" {
			return fmt.Errorf("sftp username is required")
		}
		if c.SFTP.Password == "" && c.SFTP.PrivateKeyFile == "" {
			return fmt.Errorf("sftp password or private_key_file is required")
		}
		if c.SFTP.RemotePath == "" {
			return fmt.Errorf("sftp remote_path is required")
		}
	case BackendS3:
		if c.S3.Endpoint == "" {
			return fmt.Errorf("s3 endpoint is required")
		}
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
	case BackendLocal:
		if c.Local.Dir == "" {
			return fmt.Errorf("local dir is required")
		}
	default:
		return fmt.Errorf("unknown delivery backend %q", c.Backend)
	}
	return nil
}

// New builds the configured backend.
func New(cfg Config, logger *slog.Logger) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendSFTP:
		return NewSFTPBackend(cfg.SFTP, logger)
	case BackendS3:
		return NewS3Backend(cfg.S3)
	default:
		return NewLocalBackend(cfg.Local.Dir), nil
	}
}
