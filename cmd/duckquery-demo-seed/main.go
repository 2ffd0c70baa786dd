package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/duckquery/duckquery/internal/config"
	"github.com/duckquery/duckquery/internal/demo/seeder"
)

func main() {
	if _, err := config.LoadEnvFile(os.LookupEnv); err != nil {
		slog.Error("failed to load env file", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := seeder.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load demo seeder config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	service, err := seeder.NewService(cfg, logger, nil)
	if err != nil {
		logger.Error("failed to initialize demo seeder", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(
		"demo seeder started",
		slog.String("api_url", cfg.APIBaseURL),
		slog.String("session_id", cfg.SessionID),
		slog.Int("users", cfg.UserCount),
		slog.Int("orders", cfg.OrderCount),
		slog.Bool("reset_first", cfg.ResetFirst),
	)

	summary, err := service.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("demo seeder interrupted")
			return
		}
		logger.Error("demo seeder failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info(
		"demo seeder finished",
		slog.Int64("users_loaded", summary.UsersLoaded),
		slog.Int64("orders_loaded", summary.OrdersLoaded),
		slog.Bool("persisted", summary.Persisted),
		slog.String("sql", summary.SQL),
	)
}
