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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"chequebot/internal/amqp"
	"chequebot/internal/bot"
	"chequebot/internal/category"
	"chequebot/internal/config"
	"chequebot/internal/convo"
	httpapi "chequebot/internal/http"
	"chequebot/internal/ingest"
	"chequebot/internal/llm"
	"chequebot/internal/sheets"
	sheetsgoogle "chequebot/internal/sheets/google"
	sheetsmemory "chequebot/internal/sheets/memory"
	"chequebot/internal/storage"
	"chequebot/internal/tools"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, cfg.DupToleranceCents)
	if err != nil {
		return err
	}
	defer repo.Close()

	norm := category.New()
	if cfg.CategoryRulesPath != "" {
		if norm, err = category.NewFromFile(cfg.CategoryRulesPath); err != nil {
			slog.Warn("Category rules file unusable, using built-in table",
				"path", cfg.CategoryRulesPath, "error", err)
		}
	}

	client := llm.NewClient(cfg.OpenAIAPIKey, cfg.AssistantModel, cfg.ExtractionModel, cfg.OpenAITimeout)

	var exporter sheets.Exporter
	if cfg.GoogleCredentialsFile != "" {
		svc, err := sheetsgoogle.NewService(ctx, cfg.GoogleSpreadsheetID,
			option.WithCredentialsFile(cfg.GoogleCredentialsFile))
		if err != nil {
			return err
		}
		exporter = svc
	} else {
		slog.Warn("No Google credentials configured, exports stay in memory")
		exporter = sheetsmemory.NewService()
	}

	var publisher ingest.Publisher
	if cfg.AMQPURL != "" {
		queue, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return err
		}
		defer queue.Close()
		publisher = queue
	} else {
		slog.Warn("No AMQP URL configured, mirror sync disabled")
	}

	coordinator := ingest.NewCoordinator(repo, client, norm, publisher, cfg.ReceiptsDir)
	dispatcher := tools.NewDispatcher(repo, norm, exporter)
	cm := convo.NewManager(cfg.ContextMaxTurns)
	b := bot.New(client, dispatcher, coordinator, cm, cfg.ToolRoundsMax)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpapi.NewServer(b).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // tool rounds can take a while
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
