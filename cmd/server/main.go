package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brojonat/ledgerwallet/service/config"
	"github.com/brojonat/ledgerwallet/service/db"
	"github.com/brojonat/ledgerwallet/service/metrics"
	natspkg "github.com/brojonat/ledgerwallet/service/nats"
	"github.com/brojonat/ledgerwallet/service/server"
	"github.com/brojonat/ledgerwallet/service/tokens"
	"github.com/brojonat/ledgerwallet/service/validator"
	"github.com/brojonat/ledgerwallet/service/wallet"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table, err := tokens.Load(cfg.TokenRulesPath)
	if err != nil {
		logger.Error("failed to load token rules", "path", cfg.TokenRulesPath, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded token rules", "tokens", table.Symbols(), "path", cfg.TokenRulesPath)

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewMetrics(prometheus.DefaultRegisterer)

	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()

	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create SSE publisher", "error", err)
		os.Exit(1)
	}
	defer ssePublisher.Close()

	svc := wallet.New(validator.New(table), store, natsPublisher, metricsCollector, logger)

	// the in-memory ledger starts empty; load what the database already has
	syncCtx, syncCancel := context.WithTimeout(ctx, 30*time.Second)
	res, err := svc.Sync(syncCtx)
	syncCancel()
	if err != nil {
		logger.Error("initial sync failed", "error", err)
		os.Exit(1)
	}
	logger.Info("ledger loaded",
		"fetched", res.Fetched,
		"appended", res.Appended,
	)

	httpServer := server.New(cfg.ServerAddr, cfg, svc, ssePublisher, metricsCollector, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
