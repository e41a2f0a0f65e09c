// Storytime conversation proxy server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/storytime/internal/api"
	"github.com/ashureev/storytime/internal/config"
	"github.com/ashureev/storytime/internal/conversation"
	"github.com/ashureev/storytime/internal/convlog"
	"github.com/ashureev/storytime/internal/llm"
	"github.com/ashureev/storytime/internal/middleware"
	"github.com/ashureev/storytime/internal/probe"
	"github.com/ashureev/storytime/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:gocyclo // Startup wiring is sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	provider, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("initialize provider: %w", err)
	}

	// Optional transcript archive.
	var (
		archive  store.Archive
		archiver *store.Archiver
	)
	if cfg.Archive.Enabled() {
		archive, err = store.OpenArchive(ctx, cfg.Archive.Driver, cfg.Archive.DSN)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer func() {
			if closeErr := archive.Close(); closeErr != nil {
				slog.Error("Failed to close archive", "error", closeErr)
			}
		}()
		if err := archive.Ping(ctx); err != nil {
			return fmt.Errorf("archive health check: %w", err)
		}
		archiver = store.NewArchiver(archive, 100, logger)
		slog.Info("Transcript archive connected", "driver", cfg.Archive.Driver)
	}

	sessions := store.NewMemoryStore(cfg.Session.MaxSessions, cfg.Session.TTL, archiver.Enqueue)

	convLog, err := convlog.New(convlog.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := convLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	budget := llm.NewBudget(cfg.Context.MaxTokens, cfg.Context.MaxTurns)
	budget.Preload()

	svc := conversation.NewService(provider, sessions, conversation.Options{
		ToolsEnabled: cfg.LLM.ToolsEnabled,
		Timeout:      cfg.LLM.Timeout,
		Budget:       budget,
		Log:          convLog,
		Logger:       logger,
	})

	// Initialize handlers.
	baseHandler := api.NewHandler(cfg.MaxRequestBodyBytes)
	convHandler := api.NewConversationHandler(baseHandler, svc)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	convHandler.RegisterRoutes(r)
	r.Route("/api/conversation", func(r chi.Router) {
		r.Use(limiter.Middleware)
		convHandler.RegisterConversationRoutes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		limiter.RunEviction(gctx, time.Minute)
		return nil
	})

	if cfg.Health.GRPCPort != "" {
		health := probe.NewServer(svc, cfg.Health.ProbeInterval, logger)
		g.Go(func() error {
			return health.Serve(gctx, ":"+cfg.Health.GRPCPort)
		})
	}

	if archiver != nil {
		g.Go(func() error {
			return archiver.Run(gctx)
		})
		g.Go(func() error {
			store.RunSweeper(gctx, archive, cfg.Archive.Retention, cfg.Archive.SweepInterval)
			return nil
		})
		slog.Info("Archive sweeper started", "retention", cfg.Archive.Retention)
	}

	return g.Wait()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
