package predefined

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnel-agent/backend/internal/storage/postgres"
)

func TestReplaceDatesInSQL_AnchorsNow(t *testing.T) {
	out := ReplaceDatesInSQL("SELECT NOW()", "2025-04-01", "2026-02-27")
	assert.Contains(t, out, "TIMESTAMP '2026-02-27 00:00:00'")
	assert.NotContains(t, out, "NOW(")

	out = ReplaceDatesInSQL("select now() - interval '1 day', Current_Timestamp, current_date", "2025-04-01", "2026-02-27")
	assert.Equal(t, "select TIMESTAMP '2026-02-27 00:00:00' - interval '1 day', TIMESTAMP '2026-02-27 00:00:00', DATE '2026-02-27'", out)
}

func TestReplaceDatesInSQL_FiscalLiterals(t *testing.T) {
	sql := "WHERE d BETWEEN '2025-04-01' AND '2026-03-31' OR d >= '2026-03-01' " +
		"OR d BETWEEN '2024-04-01' AND '2025-03-31' OR d >= '2023-04-01' OR d >= '2022-04-01' OR d = '2021-01-01'"

	out := ReplaceDatesInSQL(sql, "2026-04-01", "2026-06-15")
	assert.Equal(t, "WHERE d BETWEEN '2026-04-01' AND '2027-03-31' OR d >= '2027-03-01' "+
		"OR d BETWEEN '2025-04-01' AND '2025-06-15' OR d >= '2024-04-01' OR d >= '2023-04-01' OR d = '2021-01-01'", out)
}

func TestReplaceDatesInSQL_NoChainedSubstitution(t *testing.T) {
	// The new start equals an old literal; it must not be rewritten again.
	out := ReplaceDatesInSQL("'2025-04-01' '2024-04-01'", "2024-04-01", "2025-03-31")
	assert.Equal(t, "'2024-04-01' '2023-04-01'", out)
}

func TestReplaceDatesInSQL_LeapDay(t *testing.T) {
	out := ReplaceDatesInSQL("'2025-03-31'", "2023-04-01", "2024-02-29")
	assert.Equal(t, "'2023-02-28'", out)
}

func TestReplaceDatesInSQL_Tags(t *testing.T) {
	out := ReplaceDatesInSQL("BETWEEN '{{START_DATE}}' AND '{{END_DATE}}' AND d < '{{FY_END}}'", "2025-04-01", "2026-02-27")
	assert.Equal(t, "BETWEEN '2025-04-01' AND '2026-02-27' AND d < '2026-03-31'", out)
}

func TestReplaceDatesInSQL_InvalidDates(t *testing.T) {
	sql := "SELECT NOW()"
	assert.Equal(t, sql, ReplaceDatesInSQL(sql, "yesterday", "2026-02-27"))
	assert.Equal(t, sql, ReplaceDatesInSQL(sql, "2025-04-01", "2026-02-30"))
}

func TestComputeDefaultDates(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantStart string
		wantEnd   string
	}{
		{"february rolls back a year", time.Date(2026, 2, 9, 6, 0, 0, 0, time.UTC), "2025-04-01", "2026-02-09"},
		{"april starts a new year", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), "2026-04-01", "2026-04-01"},
		{"late UTC evening is the next IST day", time.Date(2026, 3, 31, 19, 0, 0, 0, time.UTC), "2026-04-01", "2026-04-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := ComputeDefaultDates(tt.now)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestValidateDate(t *testing.T) {
	assert.NoError(t, ValidateDate("2026-02-28"))
	assert.Error(t, ValidateDate("2026-02-30"))
	assert.Error(t, ValidateDate("2026-2-28"))
	assert.Error(t, ValidateDate("28/02/2026"))
	assert.Error(t, ValidateDate(""))
}

func staticLoader(queries []Query, calls *int32) Loader {
	return LoaderFunc(func(context.Context) ([]Query, error) {
		atomic.AddInt32(calls, 1)
		return queries, nil
	})
}

func TestCatalog_CachesUntilTTL(t *testing.T) {
	var calls int32
	c := NewCatalog(staticLoader([]Query{{Title: "Leads by Source", SQL: "SELECT 1"}}, &calls), time.Minute)
	now := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := c.List(ctx)
	require.NoError(t, err)
	_, err = c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	now = now.Add(2 * time.Minute)
	_, err = c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	c.Invalidate()
	_, err = c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCatalog_ServesStaleOnFailure(t *testing.T) {
	fail := false
	c := NewCatalog(LoaderFunc(func(context.Context) ([]Query, error) {
		if fail {
			return nil, errors.New("sheet unavailable")
		}
		return []Query{{Title: "A", SQL: "SELECT 1"}}, nil
	}), time.Minute)

	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	fail = true
	queries, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, queries, 1)
	assert.NoError(t, c.Refresh(ctx))

	empty := NewCatalog(LoaderFunc(func(context.Context) ([]Query, error) {
		return nil, errors.New("sheet unavailable")
	}), time.Minute)
	_, err = empty.List(ctx)
	assert.Error(t, err)
}

func TestCatalog_GetAndSearch(t *testing.T) {
	var calls int32
	c := NewCatalog(staticLoader([]Query{
		{Title: "Sales by Location", SQL: "SELECT 2"},
		{Title: "Leads by Source", SQL: "SELECT 1"},
		{Title: "Lead Aging", SQL: "SELECT 3"},
	}, &calls), time.Minute)
	ctx := context.Background()

	q, err := c.Get(ctx, "  leads BY source ")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", q.SQL)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrQueryNotFound)

	found, err := c.Search(ctx, "lead")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Lead Aging", found[0].Title)
	assert.Equal(t, "Leads by Source", found[1].Title)

	found, err = c.Search(ctx, "by location")
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestParseCSV(t *testing.T) {
	data := "Notes,,\nTitle,SQL,Owner\nLeads MTD,\"SELECT COUNT(*)\nFROM leads\",ops\n,SELECT 1,ops\nEmpty,,ops\n"
	queries, err := ParseCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "Leads MTD", queries[0].Title)
	assert.Equal(t, "SELECT COUNT(*)\nFROM leads", queries[0].SQL)

	_, err = ParseCSV(strings.NewReader("a,b\n1,2\n"))
	assert.Error(t, err)
}

func TestParseSheetHTML(t *testing.T) {
	html := `<html><body>
<table><tr><td>unrelated</td></tr></table>
<table>
  <tr><th>1</th><td>Title</td><td>SQL</td></tr>
  <tr><th>2</th><td>Sales FYTD</td><td>SELECT * FROM sales WHERE d &gt;= '2025-04-01'</td></tr>
  <tr><th>3</th><td></td><td></td></tr>
</table>
</body></html>`
	queries, err := ParseSheetHTML(strings.NewReader(html))
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, Query{Title: "Sales FYTD", SQL: "SELECT * FROM sales WHERE d >= '2025-04-01'"}, queries[0])
}

func TestFallbackLoader(t *testing.T) {
	var calls int32
	f := FallbackLoader{
		LoaderFunc(func(context.Context) ([]Query, error) { return nil, errors.New("down") }),
		staticLoader([]Query{{Title: "A", SQL: "SELECT 1"}}, &calls),
	}
	queries, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, queries, 1)

	_, err = FallbackLoader{}.Load(context.Background())
	assert.Error(t, err)
}

type fakeExecutor struct {
	lastSQL string
}

func (f *fakeExecutor) ExecuteSQL(_ context.Context, sql string) (*postgres.Result, error) {
	f.lastSQL = sql
	return &postgres.Result{Columns: []string{"n"}, Rows: []map[string]any{{"n": 1}}, RowCount: 1}, nil
}

func TestRunner_Run(t *testing.T) {
	var calls int32
	catalog := NewCatalog(staticLoader([]Query{
		{Title: "Leads FYTD", SQL: "SELECT COUNT(*) FROM leads WHERE d BETWEEN '2025-04-01' AND NOW()"},
	}, &calls), time.Minute)
	exec := &fakeExecutor{}
	r := NewRunner(catalog, exec)
	r.now = func() time.Time { return time.Date(2026, 2, 9, 6, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	res, err := r.Run(ctx, "leads fytd", "", "")
	require.NoError(t, err)
	assert.Equal(t, "2025-04-01", res.StartDate)
	assert.Equal(t, "2026-02-09", res.EndDate)
	assert.Equal(t, "SELECT COUNT(*) FROM leads WHERE d BETWEEN '2025-04-01' AND TIMESTAMP '2026-02-09 00:00:00'", exec.lastSQL)
	assert.Equal(t, 1, res.Result.RowCount)

	_, err = r.Run(ctx, "Leads FYTD", "2026-03-01", "2026-02-01")
	assert.ErrorIs(t, err, ErrInvalidDates)

	_, err = r.Run(ctx, "Leads FYTD", "2026/03/01", "")
	assert.ErrorIs(t, err, ErrInvalidDates)
	assert.ErrorContains(t, err, "start_date")

	_, err = r.Run(ctx, "nope", "", "")
	assert.ErrorIs(t, err, ErrQueryNotFound)
}
