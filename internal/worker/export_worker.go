package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"spendlog/internal/amqp"
	"spendlog/internal/core"
	"spendlog/internal/export"
	"spendlog/internal/storage"
)

// MessageConsumer is the AMQP surface the worker needs.
type MessageConsumer interface {
	ConsumeExpenseCreated(ctx context.Context, handler func(ctx context.Context, msg *amqp.ExpenseCreatedMessage) error) error
}

// ExportWorker moves persisted expenses to the export destination. Fresh
// creates arrive as AMQP messages; a periodic backfill sweep picks up
// anything still pending so a lost message never strands a record.
type ExportWorker struct {
	storage   *storage.SQLiteRepository
	exporter  export.Exporter
	consumer  MessageConsumer
	batchSize int
	interval  time.Duration
}

func NewExportWorker(storage *storage.SQLiteRepository, exporter export.Exporter, consumer MessageConsumer, batchSize int, interval time.Duration) *ExportWorker {
	return &ExportWorker{
		storage:   storage,
		exporter:  exporter,
		consumer:  consumer,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run blocks until ctx is cancelled, driving the AMQP consumer and the
// backfill ticker concurrently.
func (w *ExportWorker) Run(ctx context.Context) error {
	// Catch up on anything that accumulated while the worker was down.
	if err := w.StartupCheck(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup export check failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if w.consumer != nil {
		g.Go(func() error {
			return w.consumer.ConsumeExpenseCreated(ctx, w.HandleCreatedMessage)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.ProcessPendingExpenses(ctx); err != nil {
					slog.ErrorContext(ctx, "Pending export sweep failed", "error", err)
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	return g.Wait()
}

// HandleCreatedMessage processes a single expense-created message from AMQP
func (w *ExportWorker) HandleCreatedMessage(ctx context.Context, msg *amqp.ExpenseCreatedMessage) error {
	slog.InfoContext(ctx, "Processing created message",
		"id", msg.ID,
		"timestamp", msg.Timestamp)

	expense, err := w.storage.GetExpense(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("get expense from storage: %w", err)
	}

	if err := w.exportExpense(ctx, expense.ID, expense); err != nil {
		return fmt.Errorf("export expense: %w", err)
	}
	return nil
}

// ProcessPendingExpenses exports any expenses that haven't been exported yet.
// This is a backup mechanism in case AMQP messages are lost.
func (w *ExportWorker) ProcessPendingExpenses(ctx context.Context) error {
	pending, err := w.storage.GetPendingExportExpenses(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending expenses: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending expenses", "count", len(pending))

	for _, expense := range pending {
		if err := w.exportExpense(ctx, expense.ID, expense); err != nil {
			slog.ErrorContext(ctx, "Failed to export expense", "id", expense.ID, "error", err)
			continue
		}
	}

	return nil
}

// StartupCheck exports pending expenses accumulated during worker downtime,
// using a larger batch than the periodic sweep.
func (w *ExportWorker) StartupCheck(ctx context.Context) error {
	pending, err := w.storage.GetPendingExportExpenses(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending expenses for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending expenses found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending expenses on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0
	for _, expense := range pending {
		if err := w.exportExpense(ctx, expense.ID, expense); err != nil {
			slog.ErrorContext(ctx, "Failed to export expense during startup",
				"id", expense.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup export completed",
		"total", len(pending),
		"exported", successCount,
		"errors", errorCount)

	return nil
}

func (w *ExportWorker) exportExpense(ctx context.Context, id int64, expense core.Expense) error {
	if err := w.exporter.ExportExpense(ctx, expense); err != nil {
		if markErr := w.storage.MarkExportError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error", "id", id, "error", markErr)
		}
		return err
	}

	if err := w.storage.MarkExported(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to mark as exported", "id", id, "error", err)
		// Don't return error here - the export actually worked
	}

	slog.InfoContext(ctx, "Successfully exported expense",
		"id", id,
		"description", expense.Description,
		"amount_cents", expense.Amount.Cents)

	return nil
}
