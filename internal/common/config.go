package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment" validate:"omitempty,oneof=development production"`
	Server      ServerConfig  `toml:"server"`
	API         APIConfig     `toml:"api"`
	Cache       CacheConfig   `toml:"cache"`
	Polling     PollingConfig `toml:"polling"`
	Janitor     JanitorConfig `toml:"janitor"`
	Logging     LoggingConfig `toml:"logging"`
	Events      EventsConfig  `toml:"events"`
}

// ServerConfig configures the local presentation server (serve mode).
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"min=0,max=65535"`
}

// APIConfig configures the lesson-documents API transport.
type APIConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	Token          string `toml:"token"`           // Bearer token; normally supplied via DOCGATE_API_TOKEN
	RequestTimeout string `toml:"request_timeout"` // e.g. "30s" - transport default timeout
	RateLimit      int    `toml:"rate_limit"`      // Client-side pacing, requests per second
}

// CacheConfig configures the grant cache layer.
type CacheConfig struct {
	Backend string       `toml:"backend" validate:"oneof=memory badger"` // "memory" or "badger"
	Badger  BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// PollingConfig configures the processing status poller.
type PollingConfig struct {
	Interval          string `toml:"interval"`            // e.g. "10s" - fixed interval between status polls
	MaxTransientRetry int    `toml:"max_transient_retry"` // Transient failures tolerated before giving up
}

// JanitorConfig configures the expired-grant sweeper.
type JanitorConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// EventsConfig configures the presentation event bridge.
type EventsConfig struct {
	ThrottleInterval string `toml:"throttle_interval"` // Min gap between polling events pushed per socket, e.g. "500ms"
}

// DefaultConfig returns the configuration defaults applied before any file
// or environment override.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "localhost",
			Port: 8085,
		},
		API: APIConfig{
			BaseURL:        "http://localhost:8080",
			RequestTimeout: "30s",
			RateLimit:      10,
		},
		Cache: CacheConfig{
			Backend: "memory",
			Badger: BadgerConfig{
				Path: "./data/docgate",
			},
		},
		Polling: PollingConfig{
			Interval:          "10s",
			MaxTransientRetry: 3,
		},
		Janitor: JanitorConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Events: EventsConfig{
			ThrottleInterval: "500ms",
		},
	}
}

// LoadConfig loads configuration with the precedence:
// defaults -> file1 -> file2 -> ... -> environment.
func LoadConfig(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies DOCGATE_* environment variable overrides.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DOCGATE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("DOCGATE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("DOCGATE_SERVER_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			config.Server.Port = v
		}
	}

	if baseURL := os.Getenv("DOCGATE_API_BASE_URL"); baseURL != "" {
		config.API.BaseURL = baseURL
	}
	if token := os.Getenv("DOCGATE_API_TOKEN"); token != "" {
		config.API.Token = token
	}
	if timeout := os.Getenv("DOCGATE_API_REQUEST_TIMEOUT"); timeout != "" {
		config.API.RequestTimeout = timeout
	}
	if limit := os.Getenv("DOCGATE_API_RATE_LIMIT"); limit != "" {
		if v, err := strconv.Atoi(limit); err == nil {
			config.API.RateLimit = v
		}
	}

	if backend := os.Getenv("DOCGATE_CACHE_BACKEND"); backend != "" {
		config.Cache.Backend = backend
	}
	if path := os.Getenv("DOCGATE_BADGER_PATH"); path != "" {
		config.Cache.Badger.Path = path
	}
	if reset := os.Getenv("DOCGATE_BADGER_RESET_ON_STARTUP"); reset != "" {
		if v, err := strconv.ParseBool(reset); err == nil {
			config.Cache.Badger.ResetOnStartup = v
		}
	}

	if interval := os.Getenv("DOCGATE_POLL_INTERVAL"); interval != "" {
		config.Polling.Interval = interval
	}

	if level := os.Getenv("DOCGATE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// Validate checks structural constraints and duration formats.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, value := range map[string]string{
		"api.request_timeout":      c.API.RequestTimeout,
		"polling.interval":         c.Polling.Interval,
		"events.throttle_interval": c.Events.ThrottleInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	return nil
}

// RequestTimeout returns the parsed transport timeout.
func (c *Config) RequestTimeout() time.Duration {
	return parseDurationOr(c.API.RequestTimeout, 30*time.Second)
}

// PollInterval returns the parsed fixed polling interval.
func (c *Config) PollInterval() time.Duration {
	return parseDurationOr(c.Polling.Interval, 10*time.Second)
}

// EventThrottleInterval returns the parsed event bridge throttle interval.
func (c *Config) EventThrottleInterval() time.Duration {
	return parseDurationOr(c.Events.ThrottleInterval, 500*time.Millisecond)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
