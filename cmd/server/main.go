// Co-parent weekly ritual server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/coparent-ritual/internal/api"
	"github.com/ashureev/coparent-ritual/internal/config"
	"github.com/ashureev/coparent-ritual/internal/generation"
	"github.com/ashureev/coparent-ritual/internal/identity"
	"github.com/ashureev/coparent-ritual/internal/insight"
	"github.com/ashureev/coparent-ritual/internal/middleware"
	"github.com/ashureev/coparent-ritual/internal/nudge"
	"github.com/ashureev/coparent-ritual/internal/ritual"
	"github.com/ashureev/coparent-ritual/internal/store"
	"github.com/ashureev/coparent-ritual/internal/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "generation", cfg.GenerationEnabled())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	prompts, err := insight.DefaultPrompts()
	if err == nil {
		err = prompts.Require(string(stream.KindPrep), string(stream.KindDecision), string(stream.KindDetail))
	}
	if err != nil {
		slog.Error("Failed to load prompt catalog", "error", err)
		os.Exit(1)
	}

	client := generation.NewClient(generation.ClientConfig{
		APIKey:     cfg.Generation.APIKey,
		BaseURL:    cfg.Generation.BaseURL,
		Model:      cfg.Generation.Model,
		Timeout:    cfg.Generation.Timeout,
		MaxRetries: cfg.Generation.MaxRetries,
	}, logger)
	if !client.Configured() {
		slog.Info("Insight generation disabled (GENERATION_API_KEY not set), serving fallback insights")
	}

	// Initialize services.
	cache := insight.NewCache(store.NewCacheKV(repo, nil), cfg.InsightCacheTTL, nil, logger)
	orchestrator := insight.NewOrchestrator(client, cache, prompts, cfg.Generation.MaxParallel, logger)
	streams := stream.NewRegistry(client, prompts, logger)
	defer streams.CloseAll()

	ritualSvc := ritual.NewService(repo, repo, nil, logger)
	sender := nudge.NewSender(repo, nudge.NewLimiter(repo, cfg.NudgeCooldown), []nudge.Notifier{
		nudge.NewLogNotifier(nudge.ChannelEmail, logger),
		nudge.NewLogNotifier(nudge.ChannelPush, logger),
	}, logger)

	// Initialize handlers.
	base := api.NewHandler(cfg.MaxRequestBodySize, nil, logger)
	healthHandler := api.NewHealthHandler(base, repo, cfg.GenerationEnabled())
	insightHandler := api.NewInsightHandler(base, orchestrator, streams, cfg.AllowedOrigins)
	ritualHandler := api.NewRitualHandler(base, ritualSvc)
	nudgeHandler := api.NewNudgeHandler(base, sender, ritualSvc)
	householdHandler := api.NewHouseholdHandler(base, repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Everything else needs a caller identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, identity.Options{
			TrustUserHeader: cfg.UserHeaderTrusted(),
			SecureCookie:    !cfg.IsDevelopment(),
		}))
		insightHandler.RegisterRoutes(r)
		ritualHandler.RegisterRoutes(r)
		nudgeHandler.RegisterRoutes(r)
		householdHandler.RegisterRoutes(r)
	})

	// Create server.
	// Streamed responses stay open while text arrives, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartCacheJanitor(ctx, repo, cfg.InsightCacheTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	streams.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
