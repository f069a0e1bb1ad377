package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"spendlog/internal/core"
	"spendlog/internal/services"
)

// createExpenseRequest is the decoded POST /expenses body. Amount uses
// json.Number so a fractional or missing value degrades to a field
// violation instead of a decode failure; the key pointer distinguishes an
// absent key from a present-but-empty one.
type createExpenseRequest struct {
	Amount         json.Number `json:"amount"`
	Category       string      `json:"category"`
	Description    string      `json:"description"`
	Date           string      `json:"date"`
	IdempotencyKey *string     `json:"idempotencyKey"`
}

func (req createExpenseRequest) toInput() core.CreateExpenseInput {
	in := core.CreateExpenseInput{
		Category:    req.Category,
		Description: req.Description,
	}
	// A non-integer amount leaves Cents at zero, which validation rejects.
	if cents, err := req.Amount.Int64(); err == nil {
		in.Amount = core.Money{Cents: cents}
	}
	if d, err := core.ParseDate(req.Date); err == nil {
		in.Date = d
	}
	if req.IdempotencyKey != nil {
		in.IdempotencyKey = *req.IdempotencyKey
		in.HasKey = true
	}
	return in
}

func (s *Server) handleExpenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateExpense(w, r)
	case http.MethodGet:
		s.handleListExpenses(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req createExpenseRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		slog.ErrorContext(r.Context(), "Decode request error", "error", err, "url", r.URL.Path)
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, alreadyExisted, err := s.svc.Create(r.Context(), req.toInput())
	if err != nil {
		var verr *core.ValidationError
		switch {
		case errors.As(err, &verr):
			respondViolations(w, verr.Violations)
		case errors.Is(err, services.ErrConflict):
			respondMessage(w, http.StatusConflict, "Duplicate request could not be resolved")
		default:
			slog.ErrorContext(r.Context(), "Create expense error", "error", err)
			respondMessage(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	status := http.StatusCreated
	if alreadyExisted {
		status = http.StatusOK
	}
	respondData(w, status, toExpensePayload(created))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := q.Get("category")
	sort := core.NormalizeSortOrder(q.Get("sort"))

	expenses, err := s.svc.List(r.Context(), category, sort)
	if err != nil {
		slog.ErrorContext(r.Context(), "List expenses error", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	payload := make([]expensePayload, 0, len(expenses))
	for _, e := range expenses {
		payload = append(payload, toExpensePayload(e))
	}
	respondData(w, http.StatusOK, payload)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondData(w, http.StatusOK, core.Categories())
}
