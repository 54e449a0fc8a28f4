package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"salesrecord/internal/backend"
	"salesrecord/internal/cache"
	"salesrecord/internal/cli"
	"salesrecord/internal/dashboard"
	apphttp "salesrecord/internal/http"
	applog "salesrecord/internal/log"
	"salesrecord/internal/middleware/ratelimit"
	"salesrecord/internal/middleware/security"
	"salesrecord/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, applog.ComponentApp)

	ctx, stop := cli.ShutdownContext(logger)
	defer stop()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Slog()).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := res.Close(); err != nil {
			logger.Error("Backend cleanup failed", applog.FieldError, err)
		}
	}()

	var entryOpts []services.Option
	if res.Publisher != nil {
		entryOpts = append(entryOpts, services.WithPublisher(res.Publisher))
	}
	entries := services.NewEntryService(res.Store, cfg.Collection, entryOpts...)

	view := dashboard.New(res.Store, cfg.Collection,
		dashboard.WithLogger(logger.WithComponent(applog.ComponentDashboard).Slog()))

	caches := cache.NewManager(logger.Slog())
	caches.Register(view.Views())

	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute})
	clientIP, err := security.NewClientIP()
	if err != nil {
		logger.Error("Failed to configure client IP extraction", applog.FieldError, err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(apphttp.Options{
		Addr:     ":" + cfg.Port,
		Logger:   logger,
		Entries:  entries,
		View:     view,
		Limiter:  limiter,
		ClientIP: clientIP.Extract,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return view.Run(gctx)
	})
	g.Go(func() error {
		caches.Run(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting salesrecord server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"collection", cfg.Collection,
			"amqp_enabled", res.Publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	m := srv.Metrics()
	logger.Info("Server stopped gracefully",
		"total_requests", m.TotalRequests,
		"failed_requests", m.FailedRequests,
		"rate_limited", limiter.Rejected())
}
