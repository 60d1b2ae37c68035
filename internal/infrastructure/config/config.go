package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Bridge    BridgeConfig
	Provider  ProviderConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// MaxConnections caps concurrent connections; zero is unlimited
	MaxConnections int `envconfig:"MAX_CONNECTIONS" default:"1024"`
}

// BridgeConfig holds request dispatch and persistence settings.
type BridgeConfig struct {
	// StatePath is where persistent mounts are saved; empty disables persistence
	StatePath    string `envconfig:"STATE_PATH" default:""`
	StateBackups int    `envconfig:"STATE_BACKUPS" default:"3"`
	// RequestTimeout bounds how long an HTTP caller waits before the request is aborted
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	EventBuffer     int           `envconfig:"EVENT_BUFFER" default:"128"`
	EventHistory    int           `envconfig:"EVENT_HISTORY" default:"256"`
	BreakerFailures uint32        `envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerTimeout  time.Duration `envconfig:"BREAKER_TIMEOUT" default:"30s"`
}

// ProviderConfig holds settings of the built-in local directory provider.
type ProviderConfig struct {
	// LocalRoot, when set, is served as a single writable mount named "local"
	LocalRoot  string `envconfig:"LOCAL_ROOT" default:""`
	MountsFile string `envconfig:"MOUNTS_FILE" default:""`
	PageSize   int    `envconfig:"PAGE_SIZE" default:"64"`
	ReadChunk  int    `envconfig:"READ_CHUNK" default:"65536"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8000",
			Host:           "0.0.0.0",
			MaxConnections: 1024,
		},
		Bridge: BridgeConfig{
			StateBackups:    3,
			RequestTimeout:  30 * time.Second,
			EventBuffer:     128,
			EventHistory:    256,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Provider: ProviderConfig{
			PageSize:  64,
			ReadChunk: 64 * 1024,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Bridge.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.Bridge.RequestTimeout)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("MAX_CONNECTIONS must not be negative")
	}
	if c.Bridge.StateBackups < 0 {
		return fmt.Errorf("STATE_BACKUPS must not be negative")
	}
	if c.Provider.PageSize <= 0 || c.Provider.ReadChunk <= 0 {
		return fmt.Errorf("PAGE_SIZE and READ_CHUNK must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
