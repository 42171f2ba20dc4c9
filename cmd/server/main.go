// Package main is the entrypoint for the vidprep API server.
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

	"github.com/joho/godotenv"
	"github.com/mkravets/vidprep/internal/api"
	"github.com/mkravets/vidprep/internal/api/handler"
	mw "github.com/mkravets/vidprep/internal/api/middleware"
	"github.com/mkravets/vidprep/internal/api/response"
	"github.com/mkravets/vidprep/internal/cache"
	"github.com/mkravets/vidprep/internal/config"
	"github.com/mkravets/vidprep/internal/pipeline"
	"github.com/mkravets/vidprep/internal/step/ffmpeg"
	"github.com/mkravets/vidprep/internal/step/unscreen"
	"github.com/mkravets/vidprep/internal/step/whisper"
	"github.com/mkravets/vidprep/internal/store"
	"github.com/mkravets/vidprep/internal/upload"
)

const shutdownTimeout = 30 * time.Second

// maxImageSize caps optional background image uploads.
const maxImageSize = 10 << 20

var imageFormats = []string{".png", ".jpg", ".jpeg", ".webp"}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config: .env first, then environment; fail fast on invalid config
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "store_backend", cfg.Store.Backend, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the job store
	jobStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer jobStore.Close()

	// 3. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Upload savers
	videos, err := upload.NewSaver(cfg.Upload.UploadDir, cfg.Upload.MaxVideoSize, cfg.Upload.Formats)
	if err != nil {
		return fmt.Errorf("create video saver: %w", err)
	}
	images, err := upload.NewSaver(cfg.Upload.UploadDir, maxImageSize, imageFormats)
	if err != nil {
		return fmt.Errorf("create image saver: %w", err)
	}
	if err := os.MkdirAll(cfg.Upload.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	// 5. Step executors
	media := ffmpeg.NewTool(cfg.Whisper.FFmpegPath, cfg.Whisper.FFprobePath, cfg.Whisper.SampleRate)
	transcriber := whisper.NewClient(cfg.Whisper.APIKey, cfg.Whisper.Model)
	remover := unscreen.NewHTTPClient(cfg.Unscreen.BaseURL, cfg.Unscreen.APIKey,
		cfg.Unscreen.OutputFormat, cfg.Pipeline.StepTimeout)

	// 6. Orchestrator
	svc := pipeline.NewService(jobStore, redisCache, media, transcriber, remover,
		cfg.Pipeline, cfg.Upload.OutputDir)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, 60),

		HealthHandler:   healthHandler(jobStore, redisCache),
		SubmitHandler:   handler.NewSubmitHandler(svc, videos, images, cfg.Upload.MaxVideoSize+maxImageSize),
		ListHandler:     handler.NewListHandler(svc),
		StatusHandler:   handler.NewStatusHandler(svc),
		ResultHandler:   handler.NewResultHandler(svc),
		DownloadHandler: handler.NewDownloadHandler(svc),
		CancelHandler:   handler.NewCancelHandler(svc),
	}
	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop the listener first, then drain in-flight jobs.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("pipeline shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openStore selects the job store backend from config. Postgres gets its
// migrations applied on startup.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := store.Connect(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := store.RunMigrations(cfg.DatabaseURL, "migrations"); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database connected, migrations applied")
		return store.NewPostgresStore(pool), nil
	default:
		slog.Info("using in-memory job store")
		return store.NewMemoryStore(), nil
	}
}

// healthHandler checks store and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"store": "ok",
			"cache": "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["store"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["store"] != "ok" || checks["cache"] != "ok" {
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
