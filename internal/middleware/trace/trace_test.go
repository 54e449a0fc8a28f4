package trace

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applog "salesrecord/internal/log"
)

func newMiddleware(buf *bytes.Buffer) *Middleware {
	logger := applog.New(applog.Config{Output: buf})
	return NewMiddleware(logger, func(*http.Request) string { return "198.51.100.4" })
}

func TestHandlerAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	m := newMiddleware(&buf)

	var seen string
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sales", nil))

	require.True(t, strings.HasPrefix(seen, "req_"), "id %q", seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
	assert.Contains(t, buf.String(), "status_code=201")
	assert.Contains(t, buf.String(), "client_ip=198.51.100.4")
	assert.Equal(t, int64(1), m.Metrics().TotalRequests)
}

func TestHandlerReusesIncomingID(t *testing.T) {
	var buf bytes.Buffer
	h := newMiddleware(&buf).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "upstream-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-1", rec.Header().Get(HeaderRequestID))
}

func TestHandlerCountsServerErrors(t *testing.T) {
	var buf bytes.Buffer
	m := newMiddleware(&buf)
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, int64(1), m.Metrics().FailedRequests)
	assert.Contains(t, buf.String(), "level=ERROR")
}

func TestResponseWriterFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	var _ http.Flusher = rw
	rw.Flush()
	assert.True(t, rec.Flushed)
}

func TestGenerateRequestIDUnique(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("req_")+16)
}
