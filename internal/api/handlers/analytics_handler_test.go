package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnel-agent/backend/internal/timerange"
	"github.com/funnel-agent/backend/internal/tools"
)

func newAnalyticsApp(t *testing.T) *fiber.App {
	t.Helper()
	ist := time.FixedZone("IST", 5*3600+1800)
	registry := tools.NewRegistry(nil, 0, ist)
	tools.RegisterBuiltins(registry, tools.Deps{
		TimeRange: timerange.Config{
			Timezone: "Asia/Kolkata",
			Now:      time.Date(2026, 2, 9, 12, 0, 0, 0, ist),
		},
	})

	h := NewAnalyticsHandler(registry)
	app := fiber.New()
	app.Post("/nlq/resolve", h.ResolvePlan)
	app.Post("/timerange/resolve", h.ResolveTimeRange)
	app.Get("/funnel", h.SalesFunnel)
	app.Get("/funnel/chapter", h.ChapterFunnel)
	app.Get("/catalog", h.ListCatalog)
	return app
}

func TestAnalytics_ResolveEndpoints(t *testing.T) {
	app := newAnalyticsApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/nlq/resolve", `{"query":"show me the funnel for last month"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "FUNNEL_SNAPSHOT", body["intent"])
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	resp, body = doJSON(t, app, http.MethodPost, "/nlq/resolve", `{"query":"  "}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "query is required", body["error"])

	resp, body = doJSON(t, app, http.MethodPost, "/timerange/resolve", `{"expression":"FYTD"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "2025-04-01T00:00:00+05:30", body["start"])

	resp, _ = doJSON(t, app, http.MethodPost, "/timerange/resolve", `["FYTD"]`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAnalytics_SalesFunnel(t *testing.T) {
	app := newAnalyticsApp(t)

	resp, body := doJSON(t, app, http.MethodGet,
		"/funnel?vertical=lohono_stays&time_expression=last%20month&locations=Goa,%20Alibaug", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "lohono_stays", body["vertical"])
	assert.Equal(t, map[string]any{"start_date": "2026-01-01", "end_date": "2026-01-31"}, body["date_range"])
	assert.Equal(t, []any{"Goa", "Alibaug"}, body["locations"])

	q, ok := body["query"].(map[string]any)
	require.True(t, ok)
	params := q["params"].([]any)
	assert.Equal(t, "%Goa%", params[2])
	assert.Equal(t, "%Alibaug%", params[3])

	resp, body = doJSON(t, app, http.MethodGet, "/funnel?metric=revenue", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "Unknown funnel metric")

	resp, _ = doJSON(t, app, http.MethodGet, "/funnel?vertical=atlantis", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAnalytics_ChapterFunnel(t *testing.T) {
	app := newAnalyticsApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/funnel/chapter?start_date=2025-04-01&end_date=2025-06-30&metric=meeting", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "the_chapter", body["vertical"])
	assert.Equal(t, "meeting", body["metric"])
}

func TestAnalytics_CatalogUnavailable(t *testing.T) {
	app := newAnalyticsApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/catalog", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"Goa", "Alibaug"}, SplitList(" Goa, ,Alibaug ,"))
	assert.Nil(t, SplitList(""))
}

type fakeRefresher struct {
	refreshed int
	err       error
}

func (f *fakeRefresher) Refresh(context.Context) error {
	f.refreshed++
	return f.err
}

type fakeToolCache struct {
	tools []string
}

func (f *fakeToolCache) InvalidateToolCache(_ context.Context, tool string) (int, error) {
	f.tools = append(f.tools, tool)
	return 3, nil
}

func TestCatalogHandler_Invalidate(t *testing.T) {
	refresher := &fakeRefresher{}
	cache := &fakeToolCache{}
	app := fiber.New()
	app.Post("/catalog/invalidate", NewCatalogHandler(refresher, cache).Invalidate)

	resp, body := doJSON(t, app, http.MethodPost, "/catalog/invalidate", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["evicted_results"])
	assert.Equal(t, 1, refresher.refreshed)
	assert.Equal(t, []string{tools.RunPredefinedQuery}, cache.tools)

	refresher.err = errors.New("sheet unreachable")
	resp, _ = doJSON(t, app, http.MethodPost, "/catalog/invalidate", "")
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	app = fiber.New()
	app.Post("/catalog/invalidate", NewCatalogHandler(&fakeRefresher{}, nil).Invalidate)
	resp, body = doJSON(t, app, http.MethodPost, "/catalog/invalidate", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["evicted_results"])
}
