package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	SortDateDesc SortOrder = "date_desc"
	SortDateAsc  SortOrder = "date_asc"

	// MaxDescriptionLength bounds the free-text description field.
	MaxDescriptionLength = 200
)

type (
	SortOrder string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Expense is a persisted expense record. ID and the timestamps are
	// assigned by the store; records are immutable once created.
	Expense struct {
		ID             int64
		Amount         Money
		Category       string
		Description    string
		Date           Date
		IdempotencyKey string // empty when the record carries no key
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}
)

// categories is the fixed closed set shared by validation and the
// /categories endpoint. Defined once so the two can never drift.
var categories = []string{
	"Food",
	"Transport",
	"Entertainment",
	"Shopping",
	"Utilities",
	"Health",
	"Education",
	"Other",
}

// Categories returns the fixed category set. Callers get a copy.
func Categories() []string {
	out := make([]string, len(categories))
	copy(out, categories)
	return out
}

// ValidCategory reports whether name is a member of the fixed set.
// Matching is exact: no trimming, no case folding.
func ValidCategory(name string) bool {
	for _, c := range categories {
		if c == name {
			return true
		}
	}
	return false
}

// NormalizeSortOrder maps a sort query value to a supported order.
// Unknown values fall back to the default newest-first order.
func NormalizeSortOrder(s string) SortOrder {
	if SortOrder(s) == SortDateAsc {
		return SortDateAsc
	}
	return SortDateDesc
}

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidDate      = errors.New("invalid date")
)

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// String renders the date in the wire format (YYYY-MM-DD).
func (d Date) String() string {
	return d.Format("2006-01-02")
}

// NewDate creates a Date from year, month, day at UTC midnight.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current calendar date.
func Today() Date {
	now := time.Now()
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

// ParseDate accepts an ISO 8601 date. A bare YYYY-MM-DD is preferred; a
// full RFC 3339 timestamp is accepted and truncated to its date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return Date{Time: t}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return NewDate(t.Year(), int(t.Month()), t.Day()), nil
	}
	return Date{}, ErrInvalidDate
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// FieldViolation is a single validation rule failure, reported alongside
// every other failed rule for the same input.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries the full list of rule violations for an input.
// A create that produces one never persists anything.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Field + ": " + v.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// CreateExpenseInput holds the caller-supplied fields of a create request
// before validation.
type CreateExpenseInput struct {
	Amount         Money
	Category       string
	Description    string
	Date           Date
	IdempotencyKey string
	HasKey         bool // distinguishes an absent key from a present-but-empty one
}

// Validate applies every field rule, collecting all violations rather than
// stopping at the first so a caller can surface them together.
func (in CreateExpenseInput) Validate() error {
	var vs []FieldViolation

	if err := in.Amount.Validate(); err != nil {
		vs = append(vs, FieldViolation{
			Field:   "amount",
			Message: "amount must be a positive integer (cents)",
		})
	}
	if !ValidCategory(in.Category) {
		vs = append(vs, FieldViolation{
			Field:   "category",
			Message: fmt.Sprintf("category must be one of: %s", strings.Join(categories, ", ")),
		})
	}
	switch {
	case strings.TrimSpace(in.Description) == "":
		vs = append(vs, FieldViolation{
			Field:   "description",
			Message: "description is required",
		})
	case len(in.Description) > MaxDescriptionLength:
		vs = append(vs, FieldViolation{
			Field:   "description",
			Message: fmt.Sprintf("description cannot exceed %d characters", MaxDescriptionLength),
		})
	}
	if err := in.Date.Validate(); err != nil {
		vs = append(vs, FieldViolation{
			Field:   "date",
			Message: "date must be a valid ISO 8601 date",
		})
	}
	if in.HasKey && strings.TrimSpace(in.IdempotencyKey) == "" {
		vs = append(vs, FieldViolation{
			Field:   "idempotencyKey",
			Message: "idempotency key must be a non-empty string",
		})
	}

	if len(vs) > 0 {
		return &ValidationError{Violations: vs}
	}
	return nil
}
