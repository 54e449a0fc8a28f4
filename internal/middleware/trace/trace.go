// Package trace assigns request ids and logs each request once it completes.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	applog "salesrecord/internal/log"
)

type ctxKey struct{}

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// Middleware traces requests.
type Middleware struct {
	extractIP func(*http.Request) string
	logger    *applog.Logger
	total     atomic.Int64
	failed    atomic.Int64
}

// Metrics is a point-in-time copy of the request counters.
type Metrics struct {
	TotalRequests  int64
	FailedRequests int64
}

func NewMiddleware(logger *applog.Logger, extractIP func(*http.Request) string) *Middleware {
	return &Middleware{extractIP: extractIP, logger: logger.WithComponent(applog.ComponentHTTP)}
}

// Handler wraps next. An incoming X-Request-ID is reused when it looks sane.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = GenerateRequestID()
		}
		w.Header().Set(HeaderRequestID, id)
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, id))

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		m.total.Add(1)
		if rw.statusCode >= 500 {
			m.failed.Add(1)
		}

		level := slog.LevelInfo
		switch {
		case rw.statusCode >= 500:
			level = slog.LevelError
		case rw.statusCode >= 400:
			level = slog.LevelWarn
		}
		fields := applog.NewFields().
			WithRequestID(id).
			WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
			WithHTTPResponse(rw.statusCode, time.Since(start).Milliseconds()).
			WithClientIP(clientIP)
		m.logger.Log(r.Context(), level, "HTTP request completed", fields.ToSlice()...)
	})
}

func (m *Middleware) Metrics() Metrics {
	return Metrics{TotalRequests: m.total.Load(), FailedRequests: m.failed.Load()}
}

// responseWriter records the status code. It passes Flush through so that
// event streams keep working behind it.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// GenerateRequestID returns "req_" followed by 16 hex characters.
func GenerateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// FromRequest is RequestID for callers holding the request.
func FromRequest(r *http.Request) string {
	return RequestID(r.Context())
}
