package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIPExtract(t *testing.T) {
	c, err := NewClientIP()
	require.NoError(t, err)

	cases := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct public peer ignores headers", "203.0.113.7:5000", "198.51.100.1", "", "203.0.113.7"},
		{"trusted proxy forwards first hop", "10.0.0.2:80", "198.51.100.1, 10.0.0.3", "", "198.51.100.1"},
		{"trusted proxy with real ip", "127.0.0.1:80", "", "198.51.100.9", "198.51.100.9"},
		{"trusted proxy with garbage header", "192.168.1.1:80", "not-an-ip", "", "192.168.1.1"},
		{"unparseable remote", "pipe", "", "", "pipe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				r.Header.Set("X-Real-IP", tc.xri)
			}
			assert.Equal(t, tc.want, c.Extract(r))
		})
	}
}

func TestNewClientIPRejectsBadCIDR(t *testing.T) {
	_, err := NewClientIP("300.0.0.0/8")
	assert.Error(t, err)
}

func TestHeaders(t *testing.T) {
	h := Headers(DefaultHeadersConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "max-age=31536000; includeSubDomains", rec.Header().Get("Strict-Transport-Security"))
}
