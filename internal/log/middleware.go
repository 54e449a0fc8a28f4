package log

import (
	"context"
	"log/slog"
	"net/http"
)

type ctxKey struct{}

// Middleware stores logger in the request context.
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithLogger(r.Context(), logger)))
		})
	}
}

// RequestIDMiddleware tags the context logger with the request id returned by
// extract. It must run after Middleware and after whatever assigns the id.
func RequestIDMiddleware(extract func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := extract(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			logger := FromContext(r.Context()).With(FieldRequestID, id)
			next.ServeHTTP(w, r.WithContext(WithLogger(r.Context(), logger)))
		})
	}
}

func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request logger, or one around slog.Default.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: slog.Default(), component: "unknown"}
}

// LogRecordMutation logs a successful create, update or delete.
func LogRecordMutation(ctx context.Context, op, id string, year int, client, invoice, paid string) {
	fields := NewFields().
		WithOperation(op).
		WithRecord(id, year, client, invoice, paid)
	FromContext(ctx).InfoContext(ctx, "Sales record "+op+"d", fields.ToSlice()...)
}

// LogError logs err with the operation that failed and any extra fields.
func LogError(ctx context.Context, msg string, err error, operation string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	FromContext(ctx).ErrorContext(ctx, msg, fields.WithError(err).WithOperation(operation).ToSlice()...)
}
