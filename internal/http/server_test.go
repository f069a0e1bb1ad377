package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"spendlog/internal/services"
	"spendlog/internal/storage"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Errors  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
	Message string `json:"message"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	svc := services.NewExpenseService(repo, nil)
	return NewServer(":0", svc, repo, "http://localhost:3000")
}

func doJSON(t *testing.T, srv *Server, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func createBody(key string) string {
	base := `"amount": 1250, "category": "Food", "description": "Lunch", "date": "2024-01-15"`
	if key == "" {
		return "{" + base + "}"
	}
	return fmt.Sprintf(`{%s, "idempotencyKey": %q}`, base, key)
}

func TestCreateExpenseFreshAndReplay(t *testing.T) {
	srv := newTestServer(t)

	rec, env := doJSON(t, srv, http.MethodPost, "/expenses", createBody("abc"))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)

	var first struct {
		ID             int64   `json:"id"`
		Amount         int64   `json:"amount"`
		IdempotencyKey *string `json:"idempotencyKey"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &first))
	require.NotZero(t, first.ID)
	require.Equal(t, int64(1250), first.Amount)
	require.NotNil(t, first.IdempotencyKey)
	require.Equal(t, "abc", *first.IdempotencyKey)

	rec, env = doJSON(t, srv, http.MethodPost, "/expenses", createBody("abc"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	var second struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &second))
	require.Equal(t, first.ID, second.ID)

	// Still a single record.
	rec, env = doJSON(t, srv, http.MethodGet, "/expenses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
}

func TestCreateExpenseWithoutKeyAlwaysInserts(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := doJSON(t, srv, http.MethodPost, "/expenses", createBody(""))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = doJSON(t, srv, http.MethodPost, "/expenses", createBody(""))
	require.Equal(t, http.StatusCreated, rec.Code)

	_, env := doJSON(t, srv, http.MethodGet, "/expenses", "")
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
}

func TestCreateExpenseValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	body := `{"amount": -5, "category": "Food", "description": "Lunch", "date": "2024-01-15"}`
	rec, env := doJSON(t, srv, http.MethodPost, "/expenses", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)
	require.Len(t, env.Errors, 1)
	require.Equal(t, "amount", env.Errors[0].Field)

	// All violations reported together.
	body = `{"amount": 0, "category": "Groceries", "description": "", "date": "not-a-date"}`
	rec, env = doJSON(t, srv, http.MethodPost, "/expenses", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := make([]string, 0, len(env.Errors))
	for _, e := range env.Errors {
		fields = append(fields, e.Field)
	}
	require.ElementsMatch(t, []string{"amount", "category", "description", "date"}, fields)

	// Nothing persisted.
	_, env = doJSON(t, srv, http.MethodGet, "/expenses", "")
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Empty(t, list)
}

func TestCreateExpenseFractionalAmountRejected(t *testing.T) {
	srv := newTestServer(t)

	body := `{"amount": 12.5, "category": "Food", "description": "Lunch", "date": "2024-01-15"}`
	rec, env := doJSON(t, srv, http.MethodPost, "/expenses", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, env.Errors, 1)
	require.Equal(t, "amount", env.Errors[0].Field)
}

func TestCreateExpenseEmptyKeyRejected(t *testing.T) {
	srv := newTestServer(t)

	body := `{"amount": 1250, "category": "Food", "description": "Lunch", "date": "2024-01-15", "idempotencyKey": "  "}`
	rec, env := doJSON(t, srv, http.MethodPost, "/expenses", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, env.Errors, 1)
	require.Equal(t, "idempotencyKey", env.Errors[0].Field)
}

func TestCreateExpenseMalformedBody(t *testing.T) {
	srv := newTestServer(t)

	rec, env := doJSON(t, srv, http.MethodPost, "/expenses", `{"amount": `)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)
	require.NotEmpty(t, env.Message)
}

func TestListFilterAndSort(t *testing.T) {
	srv := newTestServer(t)

	post := func(desc, category, date string) {
		body := fmt.Sprintf(`{"amount": 100, "category": %q, "description": %q, "date": %q}`, category, desc, date)
		rec, _ := doJSON(t, srv, http.MethodPost, "/expenses", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	post("older", "Food", "2024-01-10")
	post("newer", "Food", "2024-03-10")
	post("travel", "Transport", "2024-02-10")

	type item struct {
		Description string `json:"description"`
		Category    string `json:"category"`
		Date        string `json:"date"`
	}
	fetch := func(target string) []item {
		rec, env := doJSON(t, srv, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var items []item
		require.NoError(t, json.Unmarshal(env.Data, &items))
		return items
	}

	// Default sort is newest first.
	items := fetch("/expenses")
	require.Len(t, items, 3)
	require.Equal(t, "newer", items[0].Description)
	require.Equal(t, "older", items[2].Description)

	items = fetch("/expenses?sort=date_asc")
	require.Equal(t, "older", items[0].Description)

	// Unknown sort falls back to newest first.
	items = fetch("/expenses?sort=bogus")
	require.Equal(t, "newer", items[0].Description)

	items = fetch("/expenses?category=Transport")
	require.Len(t, items, 1)
	require.Equal(t, "travel", items[0].Description)

	// Category match is exact, not case-insensitive.
	require.Empty(t, fetch("/expenses?category=food"))
	require.Empty(t, fetch("/expenses?category=Groceries"))
}

func TestCategoriesEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec, env := doJSON(t, srv, http.MethodGet, "/categories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	var cats []string
	require.NoError(t, json.Unmarshal(env.Data, &cats))
	require.Equal(t, []string{"Food", "Transport", "Entertainment", "Shopping", "Utilities", "Health", "Education", "Other"}, cats)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := doJSON(t, srv, http.MethodPut, "/expenses", createBody(""))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "GET, POST", rec.Header().Get("Allow"))

	rec, _ = doJSON(t, srv, http.MethodDelete, "/categories", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/expenses", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestHealthAndReadiness(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "ok", health.Status)
	require.NotEmpty(t, health.Timestamp)

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", rec.Body.String())
}
