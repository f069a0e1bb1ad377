package client

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"spendlog/internal/core"
)

// ErrSubmitInProgress is returned when Submit is called while an earlier
// submission has not finished.
var ErrSubmitInProgress = errors.New("submission already in progress")

// FormFields holds the user-entered values of a submission. Amount is the
// raw text as typed; it is parsed to cents at submit time.
type FormFields struct {
	Amount      string
	Category    string
	Description string
	Date        string
}

// Form drives an expense submission end to end. Each submit attempt gets a
// fresh idempotency key, so the server-side dedup protects against
// transport-level duplicates of a single attempt (retries, double delivery),
// not against the user submitting the same values twice on purpose.
//
// Only one submission may be in flight at a time; on success the fields
// reset and the refresh callback runs, on failure the fields stay so the
// user can correct and resubmit.
type Form struct {
	mu         sync.Mutex
	client     *Client
	fields     FormFields
	submitting bool
	lastErr    error
	onSuccess  func(Expense)
}

func NewForm(c *Client, onSuccess func(Expense)) *Form {
	return &Form{
		client:    c,
		onSuccess: onSuccess,
	}
}

func (f *Form) SetFields(fields FormFields) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields = fields
}

func (f *Form) Fields() FormFields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields
}

// Submitting reports whether a submission is in flight.
func (f *Form) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

// LastError returns the error from the most recent submission, or nil.
func (f *Form) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Submit sends the current fields to the server. Concurrent calls beyond
// the first fail immediately with ErrSubmitInProgress.
func (f *Form) Submit(ctx context.Context) (CreateExpenseResult, error) {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return CreateExpenseResult{}, ErrSubmitInProgress
	}
	f.submitting = true
	fields := f.fields
	f.mu.Unlock()

	result, err := f.submit(ctx, fields)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false
	f.lastErr = err
	if err != nil {
		// Keep the fields for correction.
		return CreateExpenseResult{}, err
	}

	f.fields = FormFields{Date: core.Today().String()}
	if f.onSuccess != nil {
		f.onSuccess(result.Expense)
	}
	return result, nil
}

func (f *Form) submit(ctx context.Context, fields FormFields) (CreateExpenseResult, error) {
	cents, err := core.ParseDecimalToCents(fields.Amount)
	if err != nil {
		return CreateExpenseResult{}, &ValidationError{Violations: []core.FieldViolation{{
			Field:   "amount",
			Message: "amount must be a positive number",
		}}}
	}

	req := CreateExpenseRequest{
		Amount:         cents,
		Category:       fields.Category,
		Description:    fields.Description,
		Date:           fields.Date,
		IdempotencyKey: uuid.NewString(),
	}
	return f.client.CreateExpense(ctx, req)
}

// Summary sums expense amounts in cents.
func Summary(expenses []Expense) int64 {
	var total int64
	for _, e := range expenses {
		total += e.Amount
	}
	return total
}
