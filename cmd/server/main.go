// Package main is the entrypoint for the crashdeck API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sreeram-v/crashdeck/internal/api"
	"github.com/sreeram-v/crashdeck/internal/api/handler"
	mw "github.com/sreeram-v/crashdeck/internal/api/middleware"
	"github.com/sreeram-v/crashdeck/internal/api/response"
	"github.com/sreeram-v/crashdeck/internal/cache"
	"github.com/sreeram-v/crashdeck/internal/config"
	"github.com/sreeram-v/crashdeck/internal/ingest"
	"github.com/sreeram-v/crashdeck/internal/reconcile"
	"github.com/sreeram-v/crashdeck/internal/retrace"
	"github.com/sreeram-v/crashdeck/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "retrace_enabled", cfg.Retrace.BaseURL != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store
	pgStore := store.NewPostgresStore(pool)

	// 6. Build the ingestion pipeline. Without a retrace endpoint
	// configured, crashes group on their raw traces.
	var retraceClient retrace.Client
	if cfg.Retrace.BaseURL != "" {
		retraceClient = retrace.NewHTTPClient(cfg.Retrace.BaseURL, cfg.Retrace.Timeout)
		slog.Info("retrace client initialized", "base_url", cfg.Retrace.BaseURL)
	}
	coordinator := retrace.NewCoordinator(retraceClient, logger)
	ingestSvc := ingest.NewService(pgStore, redisCache, coordinator, logger)

	// 7. Reconciliation worker
	reconciler := reconcile.NewReconciler(pgStore, reconcile.DefaultPolicy(), cfg.Reconcile.ScanConcurrency, logger)
	jobRunner := reconcile.NewJobRunner(pgStore, redisCache, reconciler, logger)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Ingest.RateLimitPerMinute)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		IngestHandler: handler.NewIngestHandler(ingestSvc, cfg.Ingest.MaxBodyBytes),

		ListGroupsHandler:        handler.NewListGroupsHandler(pgStore),
		GetGroupHandler:          handler.NewGetGroupHandler(pgStore),
		UpdateGroupStatusHandler: handler.NewUpdateGroupStatusHandler(pgStore),
		DeleteGroupHandler:       handler.NewDeleteGroupHandler(pgStore),
		ListGroupCrashesHandler:  handler.NewListGroupCrashesHandler(pgStore),

		GetCrashHandler:     handler.NewGetCrashHandler(pgStore),
		RetraceCrashHandler: handler.NewRetraceCrashHandler(ingestSvc),

		UploadMappingHandler:    handler.NewUploadMappingHandler(pgStore, redisCache),
		UpdateVersionHandler:    handler.NewUpdateVersionHandler(pgStore, redisCache),
		TriggerReconcileHandler: handler.NewTriggerReconcileHandler(jobRunner),
		PollJobHandler:          handler.NewPollJobHandler(jobRunner),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
