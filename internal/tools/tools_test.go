package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnel-agent/backend/internal/funnel"
	"github.com/funnel-agent/backend/internal/metrics"
	"github.com/funnel-agent/backend/internal/predefined"
	"github.com/funnel-agent/backend/internal/storage/postgres"
	"github.com/funnel-agent/backend/internal/timerange"
)

var ist = time.FixedZone("IST", 5*3600+1800)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]json.RawMessage
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]json.RawMessage{}}
}

func (m *memoryCache) GetToolResult(_ context.Context, tool, hash string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[tool+":"+hash]
	return v, ok, nil
}

func (m *memoryCache) SetToolResult(_ context.Context, tool, hash string, result json.RawMessage, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[tool+":"+hash] = result
	return nil
}

type fakeExecutor struct {
	calls   int
	lastSQL string
	params  []any
	err     error
}

func (f *fakeExecutor) Execute(_ context.Context, q funnel.ParameterizedQuery) (*postgres.Result, error) {
	f.calls++
	f.lastSQL = q.SQL
	f.params = q.Params
	if f.err != nil {
		return nil, f.err
	}
	return &postgres.Result{
		Columns:  []string{"metric", "count"},
		Rows:     []map[string]any{{"metric": "Leads", "count": int64(12)}},
		RowCount: 1,
	}, nil
}

func (f *fakeExecutor) ExecuteSQL(ctx context.Context, sql string) (*postgres.Result, error) {
	return f.Execute(ctx, funnel.ParameterizedQuery{SQL: sql})
}

func testDeps(exec QueryExecutor) Deps {
	return Deps{
		TimeRange: timerange.Config{
			Timezone: "Asia/Kolkata",
			Now:      time.Date(2026, 2, 9, 12, 0, 0, 0, ist),
		},
		Executor: exec,
	}
}

func newTestRegistry(deps Deps, cache Cache) *Registry {
	r := NewRegistry(cache, time.Minute, ist)
	RegisterBuiltins(r, deps)
	return r
}

func TestRegistry_UnknownAndInvalid(t *testing.T) {
	r := newTestRegistry(testDeps(nil), nil)
	ctx := context.Background()

	_, err := r.Execute(ctx, "drop_tables", "{}")
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = r.Execute(ctx, ResolveTimeRange, "[1,2]")
	var argError *ArgumentError
	assert.ErrorAs(t, err, &argError)

	_, err = r.Execute(ctx, ResolveQueryPlan, `{"query":"  "}`)
	assert.ErrorAs(t, err, &argError)
}

func TestRegistry_DefinitionsSorted(t *testing.T) {
	r := newTestRegistry(testDeps(nil), nil)
	defs := r.Definitions()
	require.Len(t, defs, 4)
	assert.Equal(t, GetChapterFunnel, defs[0].Name)
	assert.Equal(t, ResolveTimeRange, defs[3].Name)
	for _, d := range defs {
		assert.Equal(t, "object", d.Parameters["type"])
	}

	assert.Panics(t, func() { r.Register(Tool{Name: ResolveTimeRange}) })
}

func TestRegistry_CachesCacheableTools(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRegistry(testDeps(exec), newMemoryCache())
	ctx := context.Background()

	first, err := r.Execute(ctx, GetSalesFunnel, `{"vertical":"isprava","time_expression":"MTD"}`)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := r.Execute(ctx, GetSalesFunnel, `{"time_expression":"MTD","vertical":"isprava"}`)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.JSONEq(t, string(first.Content), string(second.Content))
	assert.Equal(t, 1, exec.calls)

	_, err = r.Execute(ctx, ResolveTimeRange, `{}`)
	require.NoError(t, err)
	_, err = r.Execute(ctx, ResolveTimeRange, `{}`)
	require.NoError(t, err)
}

func TestRegistry_ErrorsAreNotCached(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("connection refused")}
	r := newTestRegistry(testDeps(exec), newMemoryCache())
	ctx := context.Background()

	_, err := r.Execute(ctx, GetSalesFunnel, `{}`)
	require.Error(t, err)
	exec.err = nil
	res, err := r.Execute(ctx, GetSalesFunnel, `{}`)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, exec.calls)
}

func TestResolveQueryPlanTool(t *testing.T) {
	r := newTestRegistry(testDeps(nil), nil)
	res, err := r.Execute(context.Background(), ResolveQueryPlan, `{"query":"show me the funnel for last month"}`)
	require.NoError(t, err)

	var plan struct {
		Intent    string `json:"intent"`
		TimeRange struct {
			Start string `json:"start"`
		} `json:"time_range"`
	}
	require.NoError(t, json.Unmarshal(res.Content, &plan))
	assert.Equal(t, "FUNNEL_SNAPSHOT", plan.Intent)
	assert.Equal(t, "2026-01-01T00:00:00+05:30", plan.TimeRange.Start)
}

func TestResolveTimeRangeTool(t *testing.T) {
	r := newTestRegistry(testDeps(nil), nil)
	ctx := context.Background()

	res, err := r.Execute(ctx, ResolveTimeRange, `{"expression":"FYTD"}`)
	require.NoError(t, err)
	var tr struct {
		Start string `json:"start"`
		Mode  string `json:"mode"`
	}
	require.NoError(t, json.Unmarshal(res.Content, &tr))
	assert.Equal(t, "2025-04-01T00:00:00+05:30", tr.Start)

	res, err = r.Execute(ctx, ResolveTimeRange, `{"comparison":"MoM"}`)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(res.Content, &tr))
	assert.Equal(t, "comparison", tr.Mode)

	_, err = r.Execute(ctx, ResolveTimeRange, `{"comparison":"fortnightly"}`)
	var argError *ArgumentError
	assert.ErrorAs(t, err, &argError)
}

func TestSalesFunnelTool_DryRun(t *testing.T) {
	r := newTestRegistry(testDeps(nil), nil)
	res, err := r.Execute(context.Background(), GetSalesFunnel,
		`{"vertical":"lohono_stays","time_expression":"last month","locations":["Goa"]}`)
	require.NoError(t, err)

	var out FunnelResult
	require.NoError(t, json.Unmarshal(res.Content, &out))
	assert.Equal(t, funnel.VerticalLohonoStays, out.Vertical)
	assert.Equal(t, funnel.DateRange{Start: "2026-01-01", End: "2026-01-31"}, out.DateRange)
	require.NotNil(t, out.Query)
	assert.Contains(t, out.Query.SQL, "rental_opportunities")
	assert.Equal(t, "2026-01-01", out.Query.Params[0])
	assert.Equal(t, "%Goa%", out.Query.Params[2])
}

func TestSalesFunnelTool_Executes(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRegistry(testDeps(exec), nil)
	res, err := r.Execute(context.Background(), GetSalesFunnel,
		`{"start_date":"2025-04-01","end_date":"2025-06-30","metric":"sale"}`)
	require.NoError(t, err)

	var out FunnelResult
	require.NoError(t, json.Unmarshal(res.Content, &out))
	assert.Equal(t, funnel.VerticalIsprava, out.Vertical)
	assert.Nil(t, out.Query)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, []any{"2025-04-01", "2025-06-30"}, exec.params[:2])
	assert.Contains(t, exec.lastSQL, "development_opportunities")
}

func TestSalesFunnelTool_ArgumentErrors(t *testing.T) {
	r := newTestRegistry(testDeps(&fakeExecutor{}), nil)
	ctx := context.Background()

	for _, args := range []string{
		`{"vertical":"atlantis"}`,
		`{"metric":"revenue"}`,
		`{"start_date":"2025-04-01"}`,
		`{"start_date":"2025-06-01","end_date":"2025-04-01"}`,
		`{"start_date":"01/04/2025","end_date":"2025-06-01"}`,
	} {
		_, err := r.Execute(ctx, GetSalesFunnel, args)
		var argError *ArgumentError
		assert.ErrorAs(t, err, &argError, args)
	}
}

func TestChapterFunnelTool(t *testing.T) {
	r := newTestRegistry(testDeps(nil), nil)
	res, err := r.Execute(context.Background(), GetChapterFunnel, `{"metric":"viewing"}`)
	require.NoError(t, err)

	var out FunnelResult
	require.NoError(t, json.Unmarshal(res.Content, &out))
	assert.Equal(t, funnel.VerticalTheChapter, out.Vertical)
	assert.Equal(t, funnel.DateRange{Start: "2026-02-01", End: "2026-02-09"}, out.DateRange)
	assert.Contains(t, out.Query.SQL, "site_visit")
}

func newPredefinedDeps(exec *fakeExecutor) Deps {
	catalog := predefined.NewCatalog(predefined.LoaderFunc(func(context.Context) ([]predefined.Query, error) {
		return []predefined.Query{
			{Title: "Leads by Source", SQL: "SELECT source, COUNT(*) FROM leads WHERE d >= '2025-04-01' GROUP BY 1"},
			{Title: "Sales by Location", SQL: "SELECT 1"},
		}, nil
	}), time.Minute)
	deps := testDeps(exec)
	deps.Catalog = catalog
	deps.Runner = predefined.NewRunner(catalog, exec)
	return deps
}

func TestPredefinedTools(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRegistry(newPredefinedDeps(exec), nil)
	ctx := context.Background()
	require.Len(t, r.List(), 6)

	res, err := r.Execute(ctx, ListPredefinedQueries, `{"search":"source"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"titles":["Leads by Source"],"count":1}`, string(res.Content))

	res, err = r.Execute(ctx, RunPredefinedQuery, `{"title":"leads by source","start_date":"2024-04-01","end_date":"2024-09-30"}`)
	require.NoError(t, err)
	assert.Contains(t, exec.lastSQL, "'2024-04-01'")
	var out predefined.RunResult
	require.NoError(t, json.Unmarshal(res.Content, &out))
	assert.Equal(t, "Leads by Source", out.Title)

	_, err = r.Execute(ctx, RunPredefinedQuery, `{"title":"missing"}`)
	var argError *ArgumentError
	assert.ErrorAs(t, err, &argError)

	invalid := testutil.ToFloat64(metrics.ToolCalls.WithLabelValues(RunPredefinedQuery, "invalid"))
	for _, args := range []string{
		`{"title":"leads by source","start_date":"2024-13-01","end_date":"2024-12-31"}`,
		`{"title":"leads by source","start_date":"2024-09-30","end_date":"2024-04-01"}`,
	} {
		_, err = r.Execute(ctx, RunPredefinedQuery, args)
		require.ErrorAs(t, err, &argError, args)
		assert.Contains(t, argError.Msg, "date")
	}
	assert.Equal(t, invalid+2, testutil.ToFloat64(metrics.ToolCalls.WithLabelValues(RunPredefinedQuery, "invalid")))
}

func TestMCPServer(t *testing.T) {
	r := newTestRegistry(testDeps(nil), nil)
	s := NewMCPServer(r, "test")
	ctx := context.Background()

	listed, err := json.Marshal(s.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)))
	require.NoError(t, err)
	var list struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(listed, &list))
	assert.Len(t, list.Result.Tools, 4)

	called, err := json.Marshal(s.HandleMessage(ctx, []byte(
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"resolve_time_range","arguments":{"expression":"FYTD"}}}`)))
	require.NoError(t, err)
	var call struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(called, &call))
	require.Len(t, call.Result.Content, 1)
	assert.False(t, call.Result.IsError)
	assert.Contains(t, call.Result.Content[0].Text, "2025-04-01T00:00:00+05:30")

}
