// Command server exposes the tenant-facing REST surface (C10 REST half)
// and the MCP JSON-RPC tool surface (C10 MCP half) on one HTTP listener.
// Background ingestion runs in the separate cmd/worker process; this
// binary only validates, enqueues, and serves reads.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prk2007/ragvault/internal/config"
	"github.com/prk2007/ragvault/internal/httpapi"
	"github.com/prk2007/ragvault/internal/logging"
	"github.com/prk2007/ragvault/internal/mcp"
	"github.com/prk2007/ragvault/internal/ratelimit"
	"github.com/prk2007/ragvault/internal/tenantauth"
	"github.com/prk2007/ragvault/internal/wiring"
)

const requestTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger := logging.Init("", "info")
	log.Logger = baseLogger

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svcs, err := wiring.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer svcs.Close()

	auth := tenantauth.NewEngine(svcs.Catalog, svcs.Sealer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	limiter := ratelimit.New(svcs.Catalog)
	usage := ratelimit.NewUsageTracker(svcs.Catalog)

	api := httpapi.NewServer(&httpapi.Server{
		Catalog:     svcs.Catalog,
		Auth:        auth,
		Sealer:      svcs.Sealer,
		RateLimiter: limiter,
		Usage:       usage,
		Ingestion:   svcs.Ingestion,
		Retrieval:   svcs.Retrieval,

		AllowedOrigins:   cfg.AllowedOrigins,
		EmailResendLimit: cfg.EmailResendLimitPerHour,
		DefaultLimits: ratelimit.Limits{
			PerMinute: cfg.DefaultRateLimitPerMinute,
			PerDay:    cfg.DefaultRateLimitPerDay,
		},
	})

	mcpSrv := mcp.NewServer(svcs.Catalog, svcs.Retrieval)

	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mcpSrv.RegisterRoutes(mux, "/mcp")

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           withAccessLog(baseLogger, mux),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("rest+mcp server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down: draining in-flight requests")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withAccessLog attaches the base logger to each request's context (so
// deeper handlers can add tenant-scoped fields per logging.WithLogger) and
// emits one structured line per request on completion.
func withAccessLog(base zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := logging.WithLogger(r.Context(), base)
		next.ServeHTTP(rec, r.WithContext(ctx))
		base.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
