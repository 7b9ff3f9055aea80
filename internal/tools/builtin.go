package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/funnel-agent/backend/internal/funnel"
	"github.com/funnel-agent/backend/internal/metrics"
	"github.com/funnel-agent/backend/internal/nlq"
	"github.com/funnel-agent/backend/internal/predefined"
	"github.com/funnel-agent/backend/internal/storage/postgres"
	"github.com/funnel-agent/backend/internal/timerange"
)

const (
	ResolveQueryPlan      = "resolve_query_plan"
	ResolveTimeRange      = "resolve_time_range"
	GetSalesFunnel        = "get_sales_funnel"
	GetChapterFunnel      = "get_chapter_funnel"
	ListPredefinedQueries = "list_predefined_queries"
	RunPredefinedQuery    = "run_predefined_query"
)

const defaultTimeExpression = "MTD"

// QueryExecutor runs parameterized funnel SQL.
type QueryExecutor interface {
	Execute(ctx context.Context, q funnel.ParameterizedQuery) (*postgres.Result, error)
}

// Deps are the collaborators the built-in tools need. A nil Executor
// limits the funnel tools to dry runs; a nil Runner or Catalog leaves the
// predefined-query tools unregistered.
type Deps struct {
	TimeRange timerange.Config
	Executor  QueryExecutor
	Catalog   *predefined.Catalog
	Runner    *predefined.Runner
}

// RegisterBuiltins adds every tool whose dependencies are available.
func RegisterBuiltins(r *Registry, deps Deps) {
	r.Register(queryPlanTool(deps))
	r.Register(timeRangeTool(deps))
	r.Register(salesFunnelTool(deps))
	r.Register(chapterFunnelTool(deps))
	if deps.Catalog != nil {
		r.Register(listPredefinedTool(deps))
	}
	if deps.Runner != nil {
		r.Register(runPredefinedTool(deps))
	}
}

func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func enum(description string, values []string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

func strList(description string) map[string]any {
	return map[string]any{"type": "array", "description": description, "items": map[string]any{"type": "string"}}
}

func queryPlanTool(deps Deps) Tool {
	return Tool{
		Name: ResolveQueryPlan,
		Description: "Parse a sales question into a structured plan: intent, funnel stages, metric ids, " +
			"resolved time range, grouping and intent-specific details. Deterministic and cheap; call it first.",
		Parameters: object([]string{"query"}, map[string]any{
			"query": str("The user's question, verbatim"),
		}),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[struct {
				Query string `json:"query"`
			}](raw)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(args.Query) == "" {
				return nil, argErr("query is required")
			}
			plan := nlq.Resolve(args.Query, deps.TimeRange)
			metrics.IntentsResolved.WithLabelValues(string(plan.Intent)).Inc()
			metrics.ConfidenceScore.Observe(plan.Confidence)
			return plan, nil
		},
	}
}

func timeRangeTool(deps Deps) Tool {
	comparisons := []string{
		string(timerange.ComparisonDoD), string(timerange.ComparisonWoW), string(timerange.ComparisonMoM),
		string(timerange.ComparisonQoQ), string(timerange.ComparisonYoY), string(timerange.ComparisonSPLY),
	}
	return Tool{
		Name: ResolveTimeRange,
		Description: "Resolve a time expression such as MTD, FYTD, last 7 days, Q3 FY25, march 2025 or " +
			"2025-01-01 to 2025-01-31 into concrete bounds in the business timezone. Optionally resolve a " +
			"period-over-period comparison instead.",
		Parameters: object(nil, map[string]any{
			"expression": str("Time expression; defaults to MTD"),
			"comparison": enum("Comparison type; when set the expression is ignored", comparisons),
		}),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[struct {
				Expression string `json:"expression"`
				Comparison string `json:"comparison"`
			}](raw)
			if err != nil {
				return nil, err
			}
			if args.Comparison != "" {
				kind, ok := timerange.ParseComparisonType(args.Comparison)
				if !ok {
					return nil, argErr("unknown comparison %q", args.Comparison)
				}
				return timerange.ResolveComparison(kind, deps.TimeRange), nil
			}
			expr := args.Expression
			if strings.TrimSpace(expr) == "" {
				expr = defaultTimeExpression
			}
			return timerange.Resolve(expr, deps.TimeRange), nil
		},
	}
}

type funnelArgs struct {
	Vertical       string   `json:"vertical"`
	TimeExpression string   `json:"time_expression"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	Locations      []string `json:"locations"`
	Metric         string   `json:"metric"`
	DryRun         bool     `json:"dry_run"`
}

// FunnelResult is the payload of both funnel tools.
type FunnelResult struct {
	Vertical  funnel.Vertical            `json:"vertical"`
	DateRange funnel.DateRange           `json:"date_range"`
	Locations []string                   `json:"locations,omitempty"`
	Metric    string                     `json:"metric,omitempty"`
	Query     *funnel.ParameterizedQuery `json:"query,omitempty"`
	Columns   []string                   `json:"columns,omitempty"`
	Rows      []map[string]any           `json:"rows,omitempty"`
	Truncated bool                       `json:"truncated,omitempty"`
}

func funnelParameters(withVertical bool, metricKeys []string) map[string]any {
	props := map[string]any{
		"time_expression": str("Time expression for the window; defaults to MTD. Ignored when start_date and end_date are set"),
		"start_date":      str("Inclusive start date, YYYY-MM-DD"),
		"end_date":        str("Inclusive end date, YYYY-MM-DD"),
		"locations":       strList("Location names to filter on; partial, case-insensitive matches"),
		"metric":          enum("Return a single metric instead of the full funnel", metricKeys),
		"dry_run":         map[string]any{"type": "boolean", "description": "Return the SQL without executing it"},
	}
	if withVertical {
		verticals := make([]string, len(funnel.Verticals))
		for i, v := range funnel.Verticals {
			verticals[i] = string(v)
		}
		props["vertical"] = enum("Business line; defaults to isprava", verticals)
	}
	return object(nil, props)
}

func salesFunnelTool(deps Deps) Tool {
	return Tool{
		Name: GetSalesFunnel,
		Description: "Count leads, prospects, accounts and sales for a vertical over a date window, " +
			"optionally filtered by location. Test and internal records are excluded.",
		Parameters: funnelParameters(true, funnel.SalesMetricKeys()),
		Cacheable:  true,
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[funnelArgs](raw)
			if err != nil {
				return nil, err
			}
			vertical := funnel.VerticalIsprava
			if args.Vertical != "" {
				if vertical, err = funnel.ParseVertical(args.Vertical); err != nil {
					return nil, argErr("%v", err)
				}
			}
			dr, err := resolveDateRange(args, deps.TimeRange)
			if err != nil {
				return nil, err
			}
			q, err := funnel.BuildSalesFunnelQuery(vertical, dr, args.Locations, args.Metric)
			if err != nil {
				return nil, builderErr(err)
			}
			return runFunnel(ctx, deps, "sales_funnel", vertical, dr, args, q)
		},
	}
}

func chapterFunnelTool(deps Deps) Tool {
	return Tool{
		Name: GetChapterFunnel,
		Description: "The Chapter funnel: leads, prospects, accounts, sales, viewings, meetings and the " +
			"average days between stages, over a date window and optional locations.",
		Parameters: funnelParameters(false, funnel.ChapterMetricKeys()),
		Cacheable:  true,
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[funnelArgs](raw)
			if err != nil {
				return nil, err
			}
			dr, err := resolveDateRange(args, deps.TimeRange)
			if err != nil {
				return nil, err
			}
			q, err := funnel.BuildChapterFunnelQuery(dr, args.Locations, args.Metric)
			if err != nil {
				return nil, builderErr(err)
			}
			return runFunnel(ctx, deps, "chapter_funnel", funnel.VerticalTheChapter, dr, args, q)
		},
	}
}

func builderErr(err error) error {
	if errors.Is(err, funnel.ErrUnknownMetric) {
		return argErr("%v", err)
	}
	return err
}

// resolveDateRange prefers explicit dates and otherwise resolves the time
// expression into inclusive calendar dates.
func resolveDateRange(args funnelArgs, cfg timerange.Config) (funnel.DateRange, error) {
	if args.StartDate != "" || args.EndDate != "" {
		if err := predefined.ValidateDate(args.StartDate); err != nil {
			return funnel.DateRange{}, argErr("start_date: %v", err)
		}
		if err := predefined.ValidateDate(args.EndDate); err != nil {
			return funnel.DateRange{}, argErr("end_date: %v", err)
		}
		if args.StartDate > args.EndDate {
			return funnel.DateRange{}, argErr("start_date %s is after end_date %s", args.StartDate, args.EndDate)
		}
		return funnel.DateRange{Start: args.StartDate, End: args.EndDate}, nil
	}

	expr := args.TimeExpression
	if strings.TrimSpace(expr) == "" {
		expr = defaultTimeExpression
	}
	tr := timerange.Resolve(expr, cfg)
	if tr.Start == nil || tr.End == nil {
		return funnel.DateRange{}, argErr("time expression %q is open-ended; give start_date and end_date", expr)
	}
	return funnel.DateRange{Start: tr.StartDate(), End: tr.EndDate()}, nil
}

func runFunnel(ctx context.Context, deps Deps, source string, v funnel.Vertical, dr funnel.DateRange, args funnelArgs, q funnel.ParameterizedQuery) (*FunnelResult, error) {
	out := &FunnelResult{
		Vertical:  v,
		DateRange: dr,
		Locations: args.Locations,
		Metric:    args.Metric,
	}
	if args.DryRun || deps.Executor == nil {
		out.Query = &q
		return out, nil
	}

	res, err := deps.Executor.Execute(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s query: %w", source, err)
	}
	metrics.SQLRowsReturned.WithLabelValues(source).Observe(float64(res.RowCount))

	out.Columns = res.Columns
	out.Rows = res.Rows
	out.Truncated = res.Truncated
	return out, nil
}

func listPredefinedTool(deps Deps) Tool {
	return Tool{
		Name:        ListPredefinedQueries,
		Description: "List the titles of saved analytics queries, optionally filtered by words in the title.",
		Parameters: object(nil, map[string]any{
			"search": str("Words that must all appear in the title"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[struct {
				Search string `json:"search"`
			}](raw)
			if err != nil {
				return nil, err
			}
			var queries []predefined.Query
			if strings.TrimSpace(args.Search) == "" {
				queries, err = deps.Catalog.List(ctx)
			} else {
				queries, err = deps.Catalog.Search(ctx, args.Search)
			}
			if err != nil {
				return nil, err
			}
			titles := make([]string, len(queries))
			for i, q := range queries {
				titles[i] = q.Title
			}
			return map[string]any{"titles": titles, "count": len(titles)}, nil
		},
	}
}

func runPredefinedTool(deps Deps) Tool {
	return Tool{
		Name: RunPredefinedQuery,
		Description: "Run a saved analytics query by exact title over a date window. Dates default to " +
			"fiscal-year-to-date.",
		Parameters: object([]string{"title"}, map[string]any{
			"title":      str("Exact title from list_predefined_queries"),
			"start_date": str("Inclusive start date, YYYY-MM-DD"),
			"end_date":   str("Inclusive end date, YYYY-MM-DD"),
		}),
		Cacheable: true,
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[struct {
				Title     string `json:"title"`
				StartDate string `json:"start_date"`
				EndDate   string `json:"end_date"`
			}](raw)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(args.Title) == "" {
				return nil, argErr("title is required")
			}
			res, err := deps.Runner.Run(ctx, args.Title, args.StartDate, args.EndDate)
			if errors.Is(err, predefined.ErrQueryNotFound) {
				return nil, argErr("no saved query titled %q; call %s to see the titles", args.Title, ListPredefinedQueries)
			}
			if errors.Is(err, predefined.ErrInvalidDates) {
				return nil, argErr("%v", err)
			}
			if err != nil {
				return nil, err
			}
			metrics.SQLRowsReturned.WithLabelValues("predefined").Observe(float64(res.Result.RowCount))
			return res, nil
		},
	}
}
