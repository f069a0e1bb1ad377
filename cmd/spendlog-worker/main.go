package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"spendlog/internal/amqp"
	"spendlog/internal/config"
	"spendlog/internal/export"
	"spendlog/internal/storage"
	"spendlog/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting spendlog-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var exporter export.Exporter
	switch cfg.ExportBackend {
	case "sheets":
		sheets, err := export.NewGoogleSheetsFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", "error", err)
			os.Exit(1)
		}
		exporter = sheets
		logger.Info("Google Sheets exporter initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	case "memory":
		exporter = export.NewMemory()
		logger.Info("In-memory exporter initialized")
	default:
		logger.Error("No export backend configured - set EXPORT_BACKEND to 'sheets' or 'memory'")
		os.Exit(1)
	}

	// AMQP is optional: without it, the worker relies on the periodic
	// backfill sweep alone.
	var consumer worker.MessageConsumer
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		consumer = amqpClient
		logger.Info("AMQP consumption enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - relying on periodic backfill only")
	}

	exportWorker := worker.NewExportWorker(repo, exporter, consumer, cfg.ExportBatchSize, cfg.ExportInterval)

	// Shut down on SIGINT/SIGTERM by cancelling the worker context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Worker running", "batch_size", cfg.ExportBatchSize, "interval", cfg.ExportInterval.String())
	if err := exportWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("Worker shutdown complete")
}
