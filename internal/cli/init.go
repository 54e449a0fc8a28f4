// Package cli provides common CLI initialization utilities shared by
// cmd/salesrecord, cmd/salesrecord-worker and cmd/salesrecord-export.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"salesrecord/internal/config"
	applog "salesrecord/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from cfg and installs it as the slog
// default.
func SetupLogger(cfg *config.Config, component string) *applog.Logger {
	lc := applog.DefaultConfig()
	lc.Component = component
	if cfg != nil {
		lc.Level = cfg.SlogLevel()
		lc.Format = cfg.LogFormat
	}
	logger := applog.New(lc)
	applog.SetDefault(logger)
	return logger
}

// LoadConfig loads the configuration and applies validate to it. It exits the
// process on failure, logging through a bootstrap logger since the configured
// one does not exist yet.
func LoadConfig(validate func(*config.Config) error) *config.Config {
	cfg, err := config.Load()
	if err == nil {
		err = validate(cfg)
	}
	if err != nil {
		SetupLogger(nil, applog.ComponentApp).Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// LoadAndValidateConfig is LoadConfig with the server's validation rules.
func LoadAndValidateConfig() *config.Config {
	return LoadConfig((*config.Config).Validate)
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM.
func ShutdownContext(logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
	}()
	return ctx, stop
}
