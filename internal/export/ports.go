package export

import (
	"context"

	"spendlog/internal/core"
)

// Exporter writes a persisted expense to an external destination. Exports
// must be safe to retry: the worker re-delivers on failure and the backfill
// loop may hand over an expense more than once.
type Exporter interface {
	ExportExpense(ctx context.Context, e core.Expense) error
}
