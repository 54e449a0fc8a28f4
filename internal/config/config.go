package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	validBackends   = []string{"memory", "sqlite", "redis"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

type Config struct {
	// HTTP Server
	Port               string `env:"PORT" envDefault:"8081"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	// Record store
	DataBackend string `env:"DATA_BACKEND" envDefault:"memory"`
	Collection  string `env:"COLLECTION" envDefault:"sales"`
	SeedFile    string `env:"SEED_FILE"`

	SQLiteDBPath       string        `env:"SQLITE_DB_PATH" envDefault:"./data/salesrecord.db"`
	SQLitePollInterval time.Duration `env:"SQLITE_POLL_INTERVAL" envDefault:"2s"`

	RedisURL     string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisLockTTL time.Duration `env:"REDIS_LOCK_TTL" envDefault:"10s"`

	// AMQP change events; disabled when AMQP_URL is empty
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"salesrecord"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"sales_changed"`

	// Google Sheets mirror
	GoogleSpreadsheetID      string `env:"GOOGLE_SPREADSHEET_ID"`
	GoogleSheetName          string `env:"GOOGLE_SHEET_NAME" envDefault:"Sales"`
	GoogleServiceAccountJSON string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	GoogleServiceAccountFile string `env:"GOOGLE_SERVICE_ACCOUNT_FILE"`

	// Worker
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"5m"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.DataBackend = strings.ToLower(strings.TrimSpace(cfg.DataBackend))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	return cfg, nil
}

// AMQPEnabled reports whether change events are published.
func (c *Config) AMQPEnabled() bool { return c.AMQPURL != "" }

// SheetsEnabled reports whether a spreadsheet mirror is configured.
func (c *Config) SheetsEnabled() bool { return c.GoogleSpreadsheetID != "" }

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	return joinErrors(c.problems())
}

// ValidateWorker adds the requirements of the mirror worker, which cannot run
// without a queue to consume and a spreadsheet to write.
func (c *Config) ValidateWorker() error {
	errs := c.problems()
	if !c.AMQPEnabled() {
		errs = append(errs, "AMQP_URL is required for the worker")
	}
	if !c.SheetsEnabled() {
		errs = append(errs, "GOOGLE_SPREADSHEET_ID is required for the worker")
	}
	return joinErrors(errs)
}

func (c *Config) problems() []string {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 1 {
		errs = append(errs, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	if strings.TrimSpace(c.Collection) == "" {
		errs = append(errs, "collection name cannot be empty")
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errs = append(errs, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errs = append(errs, "SQLite database path cannot be empty when using sqlite backend")
		}
		if c.SQLitePollInterval < 100*time.Millisecond {
			errs = append(errs, fmt.Sprintf("invalid SQLite poll interval %v: must be at least 100ms", c.SQLitePollInterval))
		}
	case "redis":
		if u, err := url.Parse(c.RedisURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid Redis URL '%s': %v", c.RedisURL, err))
		} else if u.Scheme != "redis" && u.Scheme != "rediss" {
			errs = append(errs, fmt.Sprintf("invalid Redis URL scheme '%s': must be 'redis' or 'rediss'", u.Scheme))
		}
		if c.RedisLockTTL < time.Second {
			errs = append(errs, fmt.Sprintf("invalid Redis lock TTL %v: must be at least 1 second", c.RedisLockTTL))
		}
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleSheetName == "" {
			errs = append(errs, "Google Sheet name is required when a spreadsheet ID is set")
		}
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasFile && c.GoogleServiceAccountJSON == "" {
			errs = append(errs, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided with GOOGLE_SPREADSHEET_ID")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errs = append(errs, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.SyncInterval < time.Second {
		errs = append(errs, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if !slices.Contains(validLogLevels, c.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLogLevels))
	}
	if !slices.Contains(validLogFormats, c.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validLogFormats))
	}

	return errs
}

func joinErrors(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
}
