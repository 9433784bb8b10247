package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"budgettracker/internal/core"
	"budgettracker/internal/log"
	"budgettracker/internal/store"
	"budgettracker/internal/store/memory"
)

const testSecret = "server-test-secret"

var fixedNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type testServer struct {
	*Server
	budgets  *memory.Store[core.Budget]
	expenses *memory.Store[core.Expense]
}

func newTestServer(t *testing.T, modify func(*Config)) *testServer {
	t.Helper()
	budgets := memory.New[core.Budget]()
	expenses := memory.New[core.Expense]()
	seq := 0
	cfg := Config{
		Addr:          ":0",
		Budgets:       budgets,
		Expenses:      expenses,
		Logger:        log.New(log.Config{Level: log.ParseLevel("error"), Output: io.Discard}),
		Backend:       "memory",
		StoreTimeout:  time.Second,
		AuthJWTSecret: testSecret,
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
		Now: func() time.Time { return fixedNow },
	}
	if modify != nil {
		modify(&cfg)
	}
	srv := NewServer(cfg)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testServer{Server: srv, budgets: budgets, expenses: expenses}
}

func tokenFor(t *testing.T, owner string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": owner}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (ts *testServer) do(t *testing.T, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, owner))
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestGroceriesScenario(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/budgets", "u1", `{"name":"Groceries","amount":500}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	created := decode[core.Budget](t, rec)
	if created.ID != "id-1" || created.UserID != "u1" || !created.CreatedAt.Equal(fixedNow) || !created.UpdatedAt.Equal(fixedNow) {
		t.Errorf("created = %+v", created)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/budgets/id-1" {
		t.Errorf("Location = %q", loc)
	}

	rec = ts.do(t, http.MethodGet, "/api/budgets", "u1", "")
	list := decode[[]core.Budget](t, rec)
	if rec.Code != http.StatusOK || len(list) != 1 || list[0].Name != "Groceries" || !list[0].Amount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("u1 list = %d %+v", rec.Code, list)
	}

	rec = ts.do(t, http.MethodGet, "/api/budgets", "u2", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("u2 list = %d %s, want empty array", rec.Code, rec.Body)
	}
}

func TestCoffeeScenario(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/expenses", "u1", `{"description":"Coffee","amount":4.50}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	id := decode[core.Expense](t, rec).ID

	if rec := ts.do(t, http.MethodDelete, "/api/expenses/"+id, "u2", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign delete = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/expenses/"+id, "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get after foreign delete = %d", rec.Code)
	}
	got := decode[core.Expense](t, rec)
	if !got.Amount.Equal(decimal.RequireFromString("4.5")) || !got.Date.Equal(fixedNow) {
		t.Errorf("expense = %+v", got)
	}
}

func TestUpdateIsFullReplace(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/budgets", "u1", `{"name":"Food","amount":100,"category":"Home"}`)
	id := decode[core.Budget](t, rec).ID

	rec = ts.do(t, http.MethodPut, "/api/budgets/"+id, "u1", `{"id":"hijack","userId":"u9","name":"Food & Drink","amount":150}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body)
	}

	got, found, err := ts.budgets.GetByID(context.Background(), id, "u1")
	if err != nil || !found {
		t.Fatalf("GetByID after update: found=%v err=%v", found, err)
	}
	if got.Name != "Food & Drink" || got.Category != nil || !got.Amount.Equal(decimal.NewFromInt(150)) {
		t.Errorf("stored = %+v", got)
	}
	if got.ID != id || got.UserID != "u1" {
		t.Errorf("identity changed: %+v", got)
	}
	if ts.budgets.Len() != 1 {
		t.Errorf("store holds %d budgets, want 1", ts.budgets.Len())
	}
}

func TestStatusMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/expenses", "u1", `{"description":"Lunch","amount":12}`)
	id := decode[core.Expense](t, rec).ID

	tests := []struct {
		name   string
		method string
		path   string
		owner  string
		body   string
		want   int
	}{
		{"get missing", http.MethodGet, "/api/expenses/nope", "u1", "", http.StatusNotFound},
		{"get foreign", http.MethodGet, "/api/expenses/" + id, "u2", "", http.StatusNotFound},
		{"update missing", http.MethodPut, "/api/expenses/nope", "u1", `{"description":"x","amount":1}`, http.StatusNotFound},
		{"update foreign", http.MethodPut, "/api/expenses/" + id, "u2", `{"description":"x","amount":1}`, http.StatusNotFound},
		{"update missing with malformed body", http.MethodPut, "/api/expenses/nope", "u1", `{"description":`, http.StatusNotFound},
		{"update foreign with empty body", http.MethodPut, "/api/expenses/" + id, "u2", "", http.StatusNotFound},
		{"update own with malformed body", http.MethodPut, "/api/expenses/" + id, "u1", `{"description":`, http.StatusBadRequest},
		{"delete missing", http.MethodDelete, "/api/expenses/nope", "u1", "", http.StatusNotFound},
		{"malformed json", http.MethodPost, "/api/expenses", "u1", `{"description":`, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/api/expenses", "u1", "", http.StatusBadRequest},
		{"zero amount", http.MethodPost, "/api/expenses", "u1", `{"description":"x","amount":0}`, http.StatusUnprocessableEntity},
		{"blank name", http.MethodPost, "/api/budgets", "u1", `{"name":"  ","amount":10}`, http.StatusUnprocessableEntity},
		{"invalid replace", http.MethodPut, "/api/expenses/" + id, "u1", `{"description":"","amount":1}`, http.StatusUnprocessableEntity},
		{"method not allowed", http.MethodPatch, "/api/expenses/" + id, "u1", "", http.StatusMethodNotAllowed},
		{"delete own", http.MethodDelete, "/api/expenses/" + id, "u1", "", http.StatusNoContent},
		{"delete again", http.MethodDelete, "/api/expenses/" + id, "u1", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.owner, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("%s %s = %d, want %d (body %s)", tt.method, tt.path, rec.Code, tt.want, rec.Body)
			}
		})
	}
}

// scriptedStore fails every call with err.
type scriptedStore[T core.Record] struct {
	store.Store[T]
	err error
}

func (s scriptedStore[T]) ListByOwner(context.Context, string) ([]T, error) { return nil, s.err }
func (s scriptedStore[T]) Create(_ context.Context, r T) (T, error)        { return r, s.err }

func TestStoreFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"conflict", core.ErrConflict, http.StatusConflict, "Record already exists"},
		{"unavailable", fmt.Errorf("cosmos read: %w", core.ErrBackendUnavailable), http.StatusServiceUnavailable, "Service temporarily unavailable"},
		{"unknown", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, func(c *Config) {
				c.Budgets = scriptedStore[core.Budget]{Store: memory.New[core.Budget](), err: tt.err}
			})
			rec := ts.do(t, http.MethodPost, "/api/budgets", "u1", `{"name":"Food","amount":1}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if body := decode[errorBody](t, rec); body.Error != tt.wantBody {
				t.Errorf("error = %q, want %q", body.Error, tt.wantBody)
			}
			if tt.wantStatus == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "disk") {
				t.Error("internal error leaked to the client")
			}
		})
	}
}

// slowStore blocks until its context ends.
type slowStore struct {
	store.Store[core.Budget]
}

func (slowStore) ListByOwner(ctx context.Context, _ string) ([]core.Budget, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("list: %w: %w", core.ErrBackendUnavailable, ctx.Err())
}

func TestStoreCallsAreBounded(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.Budgets = slowStore{Store: memory.New[core.Budget]()}
		c.StoreTimeout = 20 * time.Millisecond
	})
	rec := ts.do(t, http.MethodGet, "/api/budgets", "u1", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestAnonymousAndRequiredAuth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/budgets", "", `{"name":"Shared","amount":5}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("anonymous create = %d", rec.Code)
	}
	if got := decode[core.Budget](t, rec).UserID; got != "anonymous" {
		t.Errorf("owner = %q, want anonymous", got)
	}

	strict := newTestServer(t, func(c *Config) { c.AuthRequired = true })
	if rec := strict.do(t, http.MethodGet, "/api/budgets", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("required auth without token = %d, want 401", rec.Code)
	}
	if rec := strict.do(t, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz behind auth: %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.Version = "1.2.3" })
	for _, path := range []string{"/healthz", "/readyz", "/api/health"} {
		rec := ts.do(t, http.MethodGet, path, "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("%s Content-Type = %q", path, ct)
		}
	}
	body := decode[map[string]any](t, ts.do(t, http.MethodGet, "/api/health", "", ""))
	if body["version"] != "1.2.3" || body["status"] != "healthy" {
		t.Errorf("api health = %v", body)
	}

	ts.do(t, http.MethodGet, "/.env", "", "")
	body = decode[map[string]any](t, ts.do(t, http.MethodGet, "/api/health", "", ""))
	requests, _ := body["requests"].(map[string]any)
	if requests["suspicious"] != float64(1) {
		t.Errorf("suspicious = %v, want 1", requests["suspicious"])
	}

	down := newTestServer(t, func(c *Config) {
		c.Budgets = scriptedStore[core.Budget]{Store: memory.New[core.Budget](), err: core.ErrBackendUnavailable}
	})
	if rec := down.do(t, http.MethodGet, "/readyz", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing store = %d, want 503", rec.Code)
	}
}

func TestMiddlewareChain(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/budgets", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}

	rec = ts.do(t, http.MethodGet, "/api/budgets", "u1", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestWriteRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.RateLimitPerMinute = 2 })
	body := `{"name":"Food","amount":1}`
	for i := 0; i < 2; i++ {
		if rec := ts.do(t, http.MethodPost, "/api/budgets", "u1", body); rec.Code != http.StatusCreated {
			t.Fatalf("create %d = %d", i+1, rec.Code)
		}
	}
	if rec := ts.do(t, http.MethodPost, "/api/budgets", "u1", body); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third create = %d, want 429", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/budgets", "u1", ""); rec.Code != http.StatusOK {
		t.Fatalf("read after limit = %d", rec.Code)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	ts := newTestServer(t, nil)
	big := `{"name":"` + strings.Repeat("a", maxBodyBytes) + `","amount":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/budgets", bytes.NewBufferString(big))
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "u1"))
	rec := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized body = %d, want 400", rec.Code)
	}
}
