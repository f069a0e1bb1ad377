package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"spendlog/internal/core"
)

// successEnvelope wraps every 2xx JSON body.
type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// errorEnvelope wraps every error JSON body. Validation failures carry the
// full violation list in Errors; other failures carry a single Message.
type errorEnvelope struct {
	Success bool                  `json:"success"`
	Errors  []core.FieldViolation `json:"errors,omitempty"`
	Message string                `json:"message,omitempty"`
}

// expensePayload is the wire shape of a persisted expense.
type expensePayload struct {
	ID             int64     `json:"id"`
	Amount         int64     `json:"amount"`
	Category       string    `json:"category"`
	Description    string    `json:"description"`
	Date           string    `json:"date"`
	IdempotencyKey *string   `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toExpensePayload(e core.Expense) expensePayload {
	p := expensePayload{
		ID:          e.ID,
		Amount:      e.Amount.Cents,
		Category:    e.Category,
		Description: e.Description,
		Date:        e.Date.String(),
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.IdempotencyKey != "" {
		key := e.IdempotencyKey
		p.IdempotencyKey = &key
	}
	return p
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondData(w http.ResponseWriter, status int, data any) {
	respondJSON(w, status, successEnvelope{Success: true, Data: data})
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorEnvelope{Success: false, Message: message})
}

func respondViolations(w http.ResponseWriter, violations []core.FieldViolation) {
	respondJSON(w, http.StatusBadRequest, errorEnvelope{Success: false, Errors: violations})
}
