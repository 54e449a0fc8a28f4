// Package log wraps log/slog with component-scoped loggers and the field names
// used across the service.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger is a slog.Logger that remembers its component.
type Logger struct {
	*slog.Logger
	root      slog.Handler
	component string
}

type Config struct {
	Level     slog.Level
	Format    string // "text" or "json"
	Component string
	Output    io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Format:    "text",
		Component: ComponentApp,
		Output:    os.Stdout,
	}
}

// New builds a logger writing to cfg.Output with a text or JSON handler.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	component := cfg.Component
	if component == "" {
		component = ComponentApp
	}
	return &Logger{
		Logger:    slog.New(handler).With(FieldComponent, component),
		root:      handler,
		component: component,
	}
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), root: l.root, component: l.component}
}

// WithComponent returns a logger for another component, built from the root
// handler so the component attribute appears once. Attributes added with With
// are not carried over.
func (l *Logger) WithComponent(component string) *Logger {
	root := l.root
	if root == nil {
		root = l.Logger.Handler()
	}
	return &Logger{
		Logger:    slog.New(root).With(FieldComponent, component),
		root:      root,
		component: component,
	}
}

func (l *Logger) Component() string {
	return l.component
}

// Slog returns the underlying *slog.Logger for packages that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger
}

// SetDefault installs logger as the process-wide slog default.
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}
