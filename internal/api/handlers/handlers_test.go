package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnel-agent/backend/internal/nlq"
	"github.com/funnel-agent/backend/internal/query"
	"github.com/funnel-agent/backend/internal/storage/models"
	"github.com/funnel-agent/backend/internal/storage/sqlite"
)

type fakeEngine struct {
	last query.QueryRequest
	resp *query.QueryResponse
	err  error
}

func (f *fakeEngine) ProcessQuery(_ context.Context, req query.QueryRequest, _ func(query.Event)) (*query.QueryResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.NewClient(filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func doJSON(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestHandleQuery(t *testing.T) {
	engine := &fakeEngine{resp: &query.QueryResponse{
		ID:        "q1",
		SessionID: "s1",
		Query:     "how many leads mtd",
		Response:  "There were 42 leads.",
		Plan:      nlq.QueryPlan{Intent: nlq.IntentStageMetric},
	}}
	app := fiber.New()
	h := NewQueryHandler(engine, nil)
	app.Post("/query", h.HandleQuery)

	resp, body := doJSON(t, app, http.MethodPost, "/query",
		`{"query":"how many leads mtd","user_id":"u1","session_id":"s1"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, "There were 42 leads.", body["response"])
	assert.Equal(t, query.QueryRequest{Query: "how many leads mtd", UserID: "u1", SessionID: "s1"}, engine.last)

	resp, _ = doJSON(t, app, http.MethodPost, "/query", `{"query":`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleQuery_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{query.ErrEmptyQuery, fiber.StatusBadRequest},
		{sqlite.ErrNotFound, fiber.StatusNotFound},
		{errors.New("provider down"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		app := fiber.New()
		app.Post("/query", NewQueryHandler(&fakeEngine{err: tt.err}, nil).HandleQuery)

		resp, body := doJSON(t, app, http.MethodPost, "/query", `{"query":"x"}`)
		assert.Equal(t, tt.status, resp.StatusCode, tt.err.Error())
		assert.NotEmpty(t, body["error"])
	}
}

func TestGetQueryHistory(t *testing.T) {
	store := newStore(t)
	now := time.Now()
	require.NoError(t, store.CreateSession(&models.Session{ID: "s1", UserID: "u1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, store.InsertQueryRecord(&models.QueryRecord{
		ID:        "q1",
		SessionID: "s1",
		UserID:    "u1",
		QueryText: "leads this month",
		Response:  "42",
		Intent:    "STAGE_METRIC",
		CreatedAt: now,
	}))

	app := fiber.New()
	h := NewQueryHandler(&fakeEngine{}, store)
	app.Get("/history", h.GetQueryHistory)

	resp, _ := doJSON(t, app, http.MethodGet, "/history", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodGet, "/history?user_id=u1", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = doJSON(t, app, http.MethodGet, "/history?user_id=nobody", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["history"])
}

func TestSessionHandler(t *testing.T) {
	store := newStore(t)
	h := NewSessionHandler(store)
	app := fiber.New()
	app.Get("/sessions", h.ListSessions)
	app.Post("/sessions", h.CreateSession)
	app.Get("/sessions/:id", h.GetSession)
	app.Delete("/sessions/:id", h.DeleteSession)
	app.Get("/sessions/:id/messages", h.GetMessages)

	resp, created := doJSON(t, app, http.MethodPost, "/sessions", `{"user_id":"u1","title":"  Goa pipeline  "}`)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "Goa pipeline", created["title"])

	resp, body := doJSON(t, app, http.MethodGet, "/sessions?user_id=u1", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	require.NoError(t, store.AppendMessage(&models.Message{ID: "m1", SessionID: id, Role: models.RoleUser, Content: "hi", CreatedAt: time.Now()}))
	resp, body = doJSON(t, app, http.MethodGet, "/sessions/"+id+"/messages", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = doJSON(t, app, http.MethodDelete, "/sessions/"+id, "")
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/sessions/"+id, "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp, _ = doJSON(t, app, http.MethodGet, "/sessions/"+id+"/messages", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp, _ = doJSON(t, app, http.MethodDelete, "/sessions/"+id, "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestFeedbackHandler(t *testing.T) {
	store := newStore(t)
	now := time.Now()
	require.NoError(t, store.CreateSession(&models.Session{ID: "s1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, store.InsertQueryRecord(&models.QueryRecord{ID: "q1", SessionID: "s1", QueryText: "x", CreatedAt: now}))

	h := NewFeedbackHandler(store)
	app := fiber.New()
	app.Post("/feedback", h.SubmitFeedback)
	app.Get("/feedback/stats", h.GetStats)

	resp, _ := doJSON(t, app, http.MethodPost, "/feedback", `{"query_id":"q1"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/feedback", `{"query_id":"missing","helpful":true}`)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/feedback", `{"query_id":"q1","helpful":false,"issue_category":"wrong_dates"}`)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp, _ = doJSON(t, app, http.MethodPost, "/feedback", `{"query_id":"q1","helpful":true}`)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodGet, "/feedback/stats?days=7", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["helpful"])
	assert.EqualValues(t, 1, body["unhelpful"])
	assert.InDelta(t, 0.5, body["helpful_rate"], 1e-9)

	resp, _ = doJSON(t, app, http.MethodGet, "/feedback/stats?days=0", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler("test", map[string]Check{
		"sqlite": func(context.Context) error { return nil },
	})
	app := fiber.New()
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)

	resp, body := doJSON(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", body["version"])

	resp, body = doJSON(t, app, http.MethodGet, "/ready", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"sqlite": "ok"}, body["checks"])

	h.checks["postgres"] = func(context.Context) error { return errors.New("connection refused") }
	resp, body = doJSON(t, app, http.MethodGet, "/ready", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["postgres"])
}

func TestSplitIntoWords(t *testing.T) {
	assert.Equal(t, []string{"Leads:", "42", "\n", "Sales:", "3"}, splitIntoWords("Leads: 42\nSales:  3"))
	assert.Empty(t, splitIntoWords("   "))
}
