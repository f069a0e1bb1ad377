// Package client is the Go consumer of the expense API: a thin REST
// client plus a submission form that drives the idempotent-create
// protocol from the caller side.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spendlog/internal/core"
)

// Expense is the wire shape returned by the API.
type Expense struct {
	ID             int64     `json:"id"`
	Amount         int64     `json:"amount"`
	Category       string    `json:"category"`
	Description    string    `json:"description"`
	Date           string    `json:"date"`
	IdempotencyKey *string   `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CreateExpenseRequest is the POST /expenses body.
type CreateExpenseRequest struct {
	Amount         int64  `json:"amount"`
	Category       string `json:"category"`
	Description    string `json:"description"`
	Date           string `json:"date"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// CreateExpenseResult distinguishes a fresh create from a server-side
// replay of an earlier request with the same key.
type CreateExpenseResult struct {
	Expense        Expense
	AlreadyExisted bool
}

// ValidationError carries the per-field violations from a 400 response.
type ValidationError struct {
	Violations []core.FieldViolation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Field + ": " + v.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// APIError is any non-validation error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateExpense posts a new expense. A 200 response means the server
// already held a record for the request's idempotency key; the returned
// result flags it and carries the original record.
func (c *Client) CreateExpense(ctx context.Context, req CreateExpenseRequest) (CreateExpenseResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return CreateExpenseResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/expenses", bytes.NewReader(body))
	if err != nil {
		return CreateExpenseResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return CreateExpenseResult{}, fmt.Errorf("post expense: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		var e Expense
		if err := decodeData(resp.Body, &e); err != nil {
			return CreateExpenseResult{}, err
		}
		return CreateExpenseResult{
			Expense:        e,
			AlreadyExisted: resp.StatusCode == http.StatusOK,
		}, nil
	default:
		return CreateExpenseResult{}, decodeError(resp)
	}
}

// ListExpenses fetches expenses, optionally filtered by exact category and
// ordered by the given sort ("date_desc" or "date_asc"; empty for default).
func (c *Client) ListExpenses(ctx context.Context, category, sort string) ([]Expense, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if sort != "" {
		q.Set("sort", sort)
	}
	target := c.baseURL + "/expenses"
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var out []Expense
	if err := c.getJSON(ctx, target, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Categories fetches the fixed category set from the server.
func (c *Client) Categories(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.getJSON(ctx, c.baseURL+"/categories", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return decodeData(resp.Body, out)
}

func decodeData(r io.Reader, out any) error {
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var env struct {
		Errors  []core.FieldViolation `json:"errors"`
		Message string                `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil {
		if resp.StatusCode == http.StatusBadRequest && len(env.Errors) > 0 {
			return &ValidationError{Violations: env.Errors}
		}
		if env.Message != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
}
