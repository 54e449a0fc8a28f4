// Package cache holds small in-process caches for derived views.
package cache

import (
	"context"
	"log/slog"
	"time"
)

// Cache is the read-through surface the dashboard relies on.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Purge()
	Size() int
}

// Cleaner is implemented by caches whose entries expire.
type Cleaner interface {
	CleanExpired() int
}

// Manager sweeps expired entries from registered caches until its context ends.
type Manager struct {
	caches []Cleaner
	logger *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "cache_manager")}
}

// Register must be called before Run.
func (m *Manager) Register(c Cleaner) {
	m.caches = append(m.caches, c)
}

// Run blocks, sweeping every interval, and returns when ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleaned := 0
			for _, c := range m.caches {
				cleaned += c.CleanExpired()
			}
			if cleaned > 0 {
				m.logger.Debug("Expired cache entries removed", "count", cleaned)
			}
		case <-ctx.Done():
			return
		}
	}
}
