package security

import (
	"fmt"
	"net/http"
)

// HeadersConfig lists the response headers applied to every API response.
type HeadersConfig struct {
	CSP                   string
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	XFrameOptions         string
	XContentTypeOptions   string
	ReferrerPolicy        string
	CrossOriginResource   string
}

// DefaultHeadersConfig suits a JSON API that serves no HTML.
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		CSP:                   "default-src 'none'; frame-ancestors 'none'",
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "no-referrer",
		CrossOriginResource:   "same-origin",
	}
}

// Headers returns middleware applying cfg.
func Headers(cfg HeadersConfig) func(http.Handler) http.Handler {
	hsts := ""
	if cfg.HSTSMaxAge > 0 {
		hsts = fmt.Sprintf("max-age=%d", cfg.HSTSMaxAge)
		if cfg.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			setIf(h, "Content-Security-Policy", cfg.CSP)
			setIf(h, "X-Frame-Options", cfg.XFrameOptions)
			setIf(h, "X-Content-Type-Options", cfg.XContentTypeOptions)
			setIf(h, "Referrer-Policy", cfg.ReferrerPolicy)
			setIf(h, "Cross-Origin-Resource-Policy", cfg.CrossOriginResource)
			// HSTS only means something over TLS.
			if r.TLS != nil {
				setIf(h, "Strict-Transport-Security", hsts)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}
