package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"google.golang.org/api/option"

	"chequebot/internal/amqp"
	"chequebot/internal/config"
	"chequebot/internal/sheets"
	sheetsgoogle "chequebot/internal/sheets/google"
	sheetsmemory "chequebot/internal/sheets/memory"
	"chequebot/internal/storage"
	"chequebot/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment")
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		slog.Error("AMQP_URL is required for the sync worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, cfg.DupToleranceCents)
	if err != nil {
		return err
	}
	defer repo.Close()

	var mirror sheets.Mirror
	if cfg.GoogleCredentialsFile != "" && cfg.GoogleSpreadsheetID != "" {
		svc, err := sheetsgoogle.NewService(ctx, cfg.GoogleSpreadsheetID,
			option.WithCredentialsFile(cfg.GoogleCredentialsFile))
		if err != nil {
			return err
		}
		mirror = svc
	} else {
		slog.Warn("No Google mirror configured, mirrored rows stay in memory")
		mirror = sheetsmemory.NewService()
	}

	queue, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return err
	}
	defer queue.Close()

	slog.Info("Worker consuming", "queue", cfg.AMQPQueue, "catch_up", cfg.SyncCatchUpInterval)
	return worker.NewSyncer(repo, mirror, cfg.SyncCatchUpInterval).Run(ctx, queue)
}
