package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/posodi/internal/api"
	"github.com/erazemk/posodi/internal/auth"
	"github.com/erazemk/posodi/internal/config"
	"github.com/erazemk/posodi/internal/db"
	"github.com/erazemk/posodi/internal/feed"
	"github.com/erazemk/posodi/internal/session"
	"github.com/erazemk/posodi/internal/store"
)

func runServer(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	closeLog, err := setupLogger(cfg.LogPath)
	if err != nil {
		return err
	}
	defer closeLog()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		return err
	}
	version, err := db.Version(ctx, database)
	if err != nil {
		return err
	}
	slog.Info("database ready", "path", cfg.DBPath, "schema", version)

	// Load JWT secret from database (auto-generated on first run).
	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("loading JWT secret: %w", err)
	}

	if n, err := store.PurgeRevokedTokens(ctx, database, time.Now()); err != nil {
		slog.Warn("failed to purge revoked tokens", "error", err)
	} else if n > 0 {
		slog.Info("purged expired revocations", "count", n)
	}

	hub := feed.NewHub()
	sessions := &session.Manager{
		DB:                  database,
		Secret:              jwtSecret,
		Deployment:          cfg.Deployment,
		DefaultNeighborhood: cfg.DefaultNeighborhood,
		Hub:                 hub,
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.LoggingMiddleware(api.NewRouter(database, sessions, hub)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		// Live feeds end with their subscriptions.
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr, "deployment", cfg.Deployment, "neighborhood", cfg.DefaultNeighborhood)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("server stopped, closing database")
	return nil
}

// mintToken issues a bootstrap token for userID, or for a fresh identity
// when userID is empty.
func mintToken(ctx context.Context, cfg config.Config, userID string, ttl time.Duration) (string, string, error) {
	if err := cfg.Validate(); err != nil {
		return "", "", err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return "", "", fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		return "", "", err
	}

	secret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return "", "", fmt.Errorf("loading JWT secret: %w", err)
	}

	if userID == "" {
		userID = uuid.NewString()
	}
	token, err := auth.GenerateBootstrapToken(secret, userID, cfg.Deployment, ttl)
	if err != nil {
		return "", "", err
	}
	return userID, token, nil
}
