package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spendlog/internal/core"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrDuplicateKey is returned when the unique index on idempotency_key
	// rejects an insert. Callers recover by re-querying for the existing
	// record, which makes concurrent retries safe without locks.
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("expense not found")
)

// Export states for the async sheet mirror.
const (
	ExportPending = "pending"
	ExportDone    = "exported"
	ExportError   = "error"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && !strings.Contains(dbPath, ":memory:") {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if strings.Contains(dbPath, ":memory:") {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the underlying database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// InsertExpense persists a validated expense and returns the stored record.
// When the input carries an idempotency key that already exists, the unique
// index rejects the insert and ErrDuplicateKey is returned; nothing is
// persisted in that case.
func (r *SQLiteRepository) InsertExpense(ctx context.Context, in core.CreateExpenseInput) (core.Expense, error) {
	now := time.Now().UTC().Truncate(time.Second)

	var key any
	if in.HasKey {
		key = in.IdempotencyKey
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses (amount_cents, category, description, date, idempotency_key, export_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Amount.Cents, in.Category, in.Description, in.Date.String(), key, ExportPending, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Expense{}, ErrDuplicateKey
		}
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Expense{}, fmt.Errorf("last insert id: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"id", id,
		"description", in.Description,
		"amount_cents", in.Amount.Cents,
		"category", in.Category,
		"date", in.Date.String())

	return core.Expense{
		ID:             id,
		Amount:         in.Amount,
		Category:       in.Category,
		Description:    in.Description,
		Date:           in.Date,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

const expenseColumns = "id, amount_cents, category, description, date, idempotency_key, created_at, updated_at"

// FindByIdempotencyKey returns the record holding the given key, or
// ErrNotFound when no record carries it.
func (r *SQLiteRepository) FindByIdempotencyKey(ctx context.Context, key string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE idempotency_key = ?", key)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("find by idempotency key: %w", err)
	}
	return e, nil
}

// GetExpense retrieves a single expense by ID.
func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

// ListExpenses returns records, optionally filtered by exact category match,
// ordered by date. Records sharing a date are ordered by id in the same
// direction, which keeps the ordering deterministic.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, category string, sort core.SortOrder) ([]core.Expense, error) {
	query := "SELECT " + expenseColumns + " FROM expenses"
	var args []any
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	if sort == core.SortDateAsc {
		query += " ORDER BY date ASC, id ASC"
	} else {
		query += " ORDER BY date DESC, id DESC"
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetPendingExportExpenses returns expenses not yet mirrored to the export
// sheet, oldest first.
func (r *SQLiteRepository) GetPendingExportExpenses(ctx context.Context, limit int) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE export_status = ? ORDER BY id ASC LIMIT ?",
		ExportPending, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending export expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkExported marks an expense as successfully mirrored.
func (r *SQLiteRepository) MarkExported(ctx context.Context, id int64) error {
	return r.setExportStatus(ctx, id, ExportDone)
}

// MarkExportError marks an expense whose export attempt failed. Errored
// records are excluded from the pending sweep until reset manually.
func (r *SQLiteRepository) MarkExportError(ctx context.Context, id int64) error {
	return r.setExportStatus(ctx, id, ExportError)
}

func (r *SQLiteRepository) setExportStatus(ctx context.Context, id int64, status string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE expenses SET export_status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC().Truncate(time.Second), id)
	if err != nil {
		return fmt.Errorf("set export status %s: %w", status, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e       core.Expense
		dateStr string
		key     sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Amount.Cents, &e.Category, &e.Description, &dateStr, &key, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return core.Expense{}, err
	}
	d, err := core.ParseDate(dateStr)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse stored date %q: %w", dateStr, err)
	}
	e.Date = d
	if key.Valid {
		e.IdempotencyKey = key.String
	}
	return e, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
