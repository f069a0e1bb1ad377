package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"spendlog/internal/core"
	"spendlog/internal/storage"
)

// ErrConflict is returned when a duplicate-key insert was rejected by the
// storage constraint and the follow-up lookup could not produce the
// existing record. Callers treat it as a transient storage fault.
var ErrConflict = errors.New("duplicate request could not be resolved")

// Store is the persistence surface the service needs.
type Store interface {
	InsertExpense(ctx context.Context, in core.CreateExpenseInput) (core.Expense, error)
	FindByIdempotencyKey(ctx context.Context, key string) (core.Expense, error)
	ListExpenses(ctx context.Context, category string, sort core.SortOrder) ([]core.Expense, error)
}

// EventPublisher announces fresh creates to the export pipeline.
type EventPublisher interface {
	PublishExpenseCreated(ctx context.Context, id int64) error
}

// ExpenseService implements the idempotent-create protocol and the list
// contract on top of the storage layer.
type ExpenseService struct {
	store     Store
	publisher EventPublisher // optional
}

func NewExpenseService(store Store, publisher EventPublisher) *ExpenseService {
	return &ExpenseService{
		store:     store,
		publisher: publisher,
	}
}

// Create validates and persists an expense. When the input carries an
// idempotency key already held by an existing record, that record is
// returned with alreadyExisted=true and nothing new is persisted.
//
// The pre-insert lookup is only a fast path; under concurrent identical
// requests the storage uniqueness constraint is the source of truth. A
// constraint rejection is converted back into the replay response by
// re-querying for the winning record, so the operation stays safe under
// retries without taking any lock.
func (s *ExpenseService) Create(ctx context.Context, in core.CreateExpenseInput) (core.Expense, bool, error) {
	if err := in.Validate(); err != nil {
		return core.Expense{}, false, err
	}

	if in.HasKey {
		existing, err := s.store.FindByIdempotencyKey(ctx, in.IdempotencyKey)
		if err == nil {
			slog.InfoContext(ctx, "Idempotent replay detected",
				"id", existing.ID,
				"idempotency_key", in.IdempotencyKey)
			return existing, true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return core.Expense{}, false, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	created, err := s.store.InsertExpense(ctx, in)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// Lost the race: another request with the same key committed between
		// our lookup and insert. Return its record as a replay.
		existing, ferr := s.store.FindByIdempotencyKey(ctx, in.IdempotencyKey)
		if ferr != nil {
			slog.ErrorContext(ctx, "Duplicate key recovery failed",
				"idempotency_key", in.IdempotencyKey,
				"error", ferr)
			return core.Expense{}, false, fmt.Errorf("%w: %v", ErrConflict, ferr)
		}
		slog.InfoContext(ctx, "Recovered duplicate key race",
			"id", existing.ID,
			"idempotency_key", in.IdempotencyKey)
		return existing, true, nil
	}
	if err != nil {
		return core.Expense{}, false, fmt.Errorf("create expense: %w", err)
	}

	s.publishCreated(ctx, created.ID)

	return created, false, nil
}

// List returns expenses filtered by exact category match and ordered by
// date. It is read-only.
func (s *ExpenseService) List(ctx context.Context, category string, sort core.SortOrder) ([]core.Expense, error) {
	out, err := s.store.ListExpenses(ctx, category, sort)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return out, nil
}

// publishCreated is fire-and-forget: the expense is durable either way and
// the worker's periodic backfill covers lost messages.
func (s *ExpenseService) publishCreated(ctx context.Context, id int64) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishExpenseCreated(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish created message", "id", id, "error", err)
	}
}
