// cartd serves Quick Cart storefront sessions: one optimistic state engine
// per shopper, driven over REST, WebSocket and MCP.
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

	"cartsync/internal/config"
	"cartsync/internal/handler"
	"cartsync/internal/middleware"
	"cartsync/internal/negotiation"
	"cartsync/internal/platform"
	"cartsync/internal/session"
	"cartsync/internal/telemetry"
	"cartsync/internal/wordpress"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Initialize structured logger
	logger := initLogger(cfg)

	logger.Info("configuration loaded",
		slog.String("store_id", cfg.StoreID),
		slog.String("environment", cfg.Environment),
		slog.String("store_url", cfg.Store.StoreURL),
		slog.String("transport", cfg.Store.Transport),
	)

	cfg.Telemetry.ServiceVersion = version
	tel, err := telemetry.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// Every session gets its own storefront client and cookie jar.
	registry := session.NewRegistry(session.Config{
		NewPlatform: func(l *slog.Logger) (platform.Platform, error) {
			return wordpress.New(cfg.StoreClient(l))
		},
		Cooldown:        cfg.Engine.Cooldown,
		MutationTimeout: cfg.Engine.MutationTimeout,
		TTL:             cfg.Engine.SessionTTL,
		MaxSessions:     cfg.Engine.MaxSessions,
		Currency:        cfg.Store.Currency,
		Logger:          logger,
		Meter:           tel.Meter("cartsync/session"),
	})
	defer registry.Close()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go registry.Run(sweepCtx, time.Minute)

	h := handler.New(registry, logger, version)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → logging → metrics → rate limit →
	// client negotiation → handler.
	// Recovery must be outermost to catch panics from logging middleware
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.Metrics(tel.Meter("cartsync/http"), logger),
	}
	if cfg.RateLimit > 0 {
		chain = append(chain, middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware)
	}
	chain = append(chain, negotiation.Middleware(cfg.MinClientVersion, logger))
	httpHandler := middleware.Chain(chain...)(mux)

	// Create HTTP server with timeouts. No WriteTimeout: event streams
	// stay open for the life of the session.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
			slog.String("version", version),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Close sessions first so event streams end and hijacked
		// connections are released.
		stopSweep()
		registry.Close()

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	var h slog.Handler
	if cfg.Environment == "production" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
