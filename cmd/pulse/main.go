package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/genz-social/pulse/internal/server"
	"github.com/genz-social/pulse/internal/store"
	"github.com/genz-social/pulse/pkg/config"
	"github.com/genz-social/pulse/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	logger := logging.New(os.Getenv("PULSE_LOGLEVEL"))
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.Database.DSN == "" {
		logger.Error("database.dsn is required (PULSE_DATABASE_DSN)")
		os.Exit(1)
	}
	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, st)
	if err := app.Run(); err != nil {
		logger.Error("application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("application shut down successfully")
}
