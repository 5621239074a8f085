package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"docrag/backend/internal/app"
	"docrag/backend/internal/config"
	"docrag/backend/internal/logger"
	"docrag/backend/internal/retrieval"
)

func main() {
	slog.SetDefault(logger.New(os.Stdout, "json", "info"))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger.New(os.Stdout, cfg.LogFormat, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.Close()

	var pub retrieval.Publisher
	if deps.NSQProducer != nil {
		pub = deps.NSQProducer
	}

	application, err := app.New(cfg, deps.DB, deps.VectorStore, pub, nil)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	return application.Run(ctx)
}
