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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/promptpot/promptpot/internal/api"
	"github.com/promptpot/promptpot/internal/chain"
	"github.com/promptpot/promptpot/internal/config"
	"github.com/promptpot/promptpot/internal/game"
	"github.com/promptpot/promptpot/internal/identity"
	"github.com/promptpot/promptpot/internal/live"
	"github.com/promptpot/promptpot/internal/middleware"
	"github.com/promptpot/promptpot/internal/probe"
	"github.com/promptpot/promptpot/internal/session"
	"github.com/promptpot/promptpot/internal/store"
	"github.com/promptpot/promptpot/internal/telemetry"
	"github.com/promptpot/promptpot/internal/wallet"
	"github.com/spf13/cobra"
)

const probeInterval = 5 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and probe servers",
		RunE:  runServe,
	}
}

//nolint:gocognit // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "promptpot", cfg.Telemetry.Endpoint, cfg.Telemetry.Enabled)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	var bus *chain.Bus
	var publisher game.IntentPublisher
	if cfg.NATS.URL != "" {
		bus, err = chain.DialBus(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix, slog.Default())
		if err != nil {
			return err
		}
		defer bus.Close()
		publisher = bus
	} else {
		slog.Info("NATS disabled, relayer must poll /api/chain/intents")
	}

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	// Initialize services.
	feed := chain.NewFeed()
	svc := game.NewService(repo, feed, game.NewOutbox(repo, publisher), game.Options{
		Session:         session.Options{TimestampUnit: session.TimestampUnit(cfg.Chain.TimestampUnit)},
		AgentOverride:   cfg.AgentOverride(),
		MaxMessageBytes: cfg.MaxMessageBytes,
		StaleAfter:      cfg.Chain.StaleAfter,
		Limiter:         limiter,
	})
	if err := svc.Restore(ctx); err != nil {
		slog.Warn("Failed to restore chain snapshot, waiting for the Chain Reader", "error", err)
	}

	if bus != nil {
		if err := bus.SubscribeSnapshots(ctx, func(ctx context.Context, s chain.Snapshot) error {
			_, err := svc.Ingest(ctx, s)
			return err
		}); err != nil {
			return err
		}
	}

	gate := wallet.NewGate(repo, cfg.Wallet.ChallengeTTL, cfg.Wallet.Domain)
	sm := live.NewSessionManager()

	// Initialize handlers.
	handler := api.NewHandler(repo, svc, gate, api.Settings{
		MaxMessageBytes: cfg.MaxMessageBytes,
		IngestToken:     cfg.Chain.IngestToken,
		GameContract:    cfg.Chain.GameContract,
		AgentAddress:    cfg.Chain.AgentAddress,
	})
	healthHandler := api.NewHealthHandler(repo, svc)
	wsHandler := live.NewWebSocketHandler(svc, sm, cfg.FrontendURL, cfg.IsDevelopment())

	if cfg.Chain.IngestToken == "" {
		slog.Warn("INGEST_TOKEN not set, chain ingest routes are unauthenticated")
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	handler.RegisterChainRoutes(r)

	// Browser routes carry the anonymous identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		handler.RegisterRoutes(r)
		r.Get("/ws/session", wsHandler.ServeHTTP)
	})

	// Note: WebSocket connections are long lived (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.Handler(r, "promptpot"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	game.StartExpiryWorker(ctx, repo, cfg.Intent.SweepInterval, cfg.Intent.TTL, func(int64) {
		feed.Touch()
	})

	if cfg.GRPCHealthAddr != "" {
		probeSrv, err := probe.Listen(cfg.GRPCHealthAddr, svc, probeInterval)
		if err != nil {
			return err
		}
		go func() {
			if err := probeSrv.Serve(ctx); err != nil {
				slog.Error("gRPC health probe failed", "error", err)
			}
		}()
	}

	// Start server.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...", "live_sessions", sm.Count())
	sm.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
