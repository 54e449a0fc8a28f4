package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"salesrecord/internal/core"
	"salesrecord/internal/dashboard"
	applog "salesrecord/internal/log"
	"salesrecord/internal/middleware/ratelimit"
	"salesrecord/internal/middleware/security"
	"salesrecord/internal/middleware/trace"
	"salesrecord/internal/projection"
)

// EntryService performs validated mutations.
type EntryService interface {
	Create(ctx context.Context, in core.FormInput) (core.SalesRecord, error)
	Update(ctx context.Context, id string, in core.FormInput) (core.SalesRecord, error)
	Delete(ctx context.Context, id string) error
}

// LiveView is the read side: the dashboard fed by store snapshots.
type LiveView interface {
	Current() (projection.View, uint64)
	ViewFor(year int) (projection.View, uint64)
	SelectYear(year int) projection.View
	Record(id string) (core.SalesRecord, bool)
	Ready() <-chan struct{}
	Watch(year int) (<-chan dashboard.Update, func())
}

// Options wires a Server.
type Options struct {
	Addr     string
	Logger   *applog.Logger
	Entries  EntryService
	View     LiveView
	Limiter  *ratelimit.Limiter
	ClientIP func(*http.Request) string
	// Headers defaults to security.DefaultHeadersConfig.
	Headers *security.HeadersConfig
	// Now defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	http.Server
	entries  EntryService
	view     LiveView
	limiter  *ratelimit.Limiter
	clientIP func(*http.Request) string
	trace    *trace.Middleware
	logger   *applog.Logger
	now      func() time.Time
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(o Options) *Server {
	if o.Logger == nil {
		o.Logger = applog.New(applog.DefaultConfig())
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.ClientIP == nil {
		ip, _ := security.NewClientIP()
		o.ClientIP = ip.Extract
	}
	headers := security.DefaultHeadersConfig()
	if o.Headers != nil {
		headers = *o.Headers
	}
	if o.Limiter == nil {
		o.Limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}

	s := &Server{
		entries:  o.Entries,
		view:     o.View,
		limiter:  o.Limiter,
		clientIP: o.ClientIP,
		trace:    trace.NewMiddleware(o.Logger, o.ClientIP),
		logger:   o.Logger.WithComponent(applog.ComponentHTTP),
		now:      o.Now,
	}
	s.Server = http.Server{
		Addr:              o.Addr,
		Handler:           s.routes(headers),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes(headers security.HeadersConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(s.trace.Handler)
	r.Use(applog.Middleware(s.logger))
	r.Use(applog.RequestIDMiddleware(trace.FromRequest))
	r.Use(security.Headers(headers))

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/sales", s.handleListSales)
		r.Get("/sales/export", s.handleExport)
		r.Get("/sales/{id}", s.handleGetSale)
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware(s.clientIP, s.rateLimited))

			r.Put("/dashboard/year", s.handleSelectYear)
			r.Post("/sales", s.handleCreateSale)
			r.Put("/sales/{id}", s.handleUpdateSale)
			r.Delete("/sales/{id}", s.handleDeleteSale)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError(http.StatusText(http.StatusNotFound)).Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed)).Write(w)
	})

	return r
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.clientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.").Write(w)
}

// Metrics returns the request counters.
func (s *Server) Metrics() trace.Metrics {
	return s.trace.Metrics()
}
