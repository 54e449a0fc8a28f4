// Package ratelimit throttles mutating requests per client with a fixed
// one-minute window.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const window = time.Minute

type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientInfo
	now     func() time.Time
	rejects atomic.Int64

	requestsPerMinute int
	cleanupInterval   time.Duration
}

type clientInfo struct {
	windowStart time.Time
	lastSeen    time.Time
	requests    int
}

type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{RequestsPerMinute: 60, CleanupInterval: 5 * time.Minute}
}

func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	return &Limiter{
		clients:           make(map[string]*clientInfo),
		now:               time.Now,
		requestsPerMinute: cfg.RequestsPerMinute,
		cleanupInterval:   cfg.CleanupInterval,
	}
}

// Allow reports whether key may make another request in the current window.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[key]
	if !ok || now.Sub(c.windowStart) >= window {
		l.clients[key] = &clientInfo{windowStart: now, lastSeen: now, requests: 1}
		return true
	}
	c.lastSeen = now
	if c.requests >= l.requestsPerMinute {
		l.rejects.Add(1)
		return false
	}
	c.requests++
	return true
}

// Run removes idle clients every cleanup interval until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (l *Limiter) cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-10 * time.Minute)
	removed := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Rejected is the number of requests refused since start.
func (l *Limiter) Rejected() int64 {
	return l.rejects.Load()
}

// Middleware rejects requests over the limit. onLimit, when non-nil, writes
// the rejection; otherwise a plain 429 is sent.
func (l *Limiter) Middleware(extractKey func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.Allow(extractKey(r)) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			if onLimit != nil {
				onLimit(w, r)
				return
			}
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
		})
	}
}
