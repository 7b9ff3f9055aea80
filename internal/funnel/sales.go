package funnel

import (
	"fmt"
	"strings"
)

type metricDef struct {
	key   string
	label string
}

var salesMetrics = []metricDef{
	{"lead", "Leads"},
	{"prospect", "Prospects"},
	{"account", "Accounts"},
	{"sale", "Sales"},
}

// SalesMetricKeys lists the keys accepted by BuildMetricQuery in funnel order.
func SalesMetricKeys() []string {
	keys := make([]string, len(salesMetrics))
	for i, m := range salesMetrics {
		keys[i] = m.key
	}
	return keys
}

// BuildMetricQuery builds the query for one funnel stage of a vertical.
func BuildMetricQuery(key string, v Vertical, r DateRange, locations []string) (ParameterizedQuery, error) {
	s, ok := verticalSchemas[v]
	if !ok {
		return ParameterizedQuery{}, fmt.Errorf("unknown vertical %q", v)
	}
	return salesMetric(key, s, newParamLayout(r, locations))
}

// BuildSalesFunnelQuery builds all four stages as one ordered union, or a
// single stage when key is set.
func BuildSalesFunnelQuery(v Vertical, r DateRange, locations []string, key string) (ParameterizedQuery, error) {
	if key != "" {
		return BuildMetricQuery(key, v, r, locations)
	}
	s, ok := verticalSchemas[v]
	if !ok {
		return ParameterizedQuery{}, fmt.Errorf("unknown vertical %q", v)
	}

	l := newParamLayout(r, locations)
	queries := make([]ParameterizedQuery, 0, len(salesMetrics))
	for _, m := range salesMetrics {
		q, err := salesMetric(m.key, s, l)
		if err != nil {
			return ParameterizedQuery{}, err
		}
		queries = append(queries, q)
	}
	union, params := unionAll(queries)

	cases := make([]string, len(salesMetrics))
	for i, m := range salesMetrics {
		cases[i] = fmt.Sprintf("    WHEN metric = '%s' THEN %d", m.label, i+1)
	}
	sql := fmt.Sprintf("SELECT * FROM (\n%s\n) funnel\nORDER BY CASE\n%s\nEND", union, strings.Join(cases, "\n"))
	return ParameterizedQuery{SQL: sql, Params: params}, nil
}

func salesMetric(key string, s schema, l paramLayout) (ParameterizedQuery, error) {
	switch key {
	case "lead":
		return leadQuery(s, l), nil
	case "prospect":
		return stageQuery("Prospects", s.prospectColumn, s, l), nil
	case "account":
		return stageQuery("Accounts", s.accountColumn, s, l), nil
	case "sale":
		return stageQuery("Sales", s.saleColumn, s, l), nil
	}
	return ParameterizedQuery{}, &UnknownMetricError{Key: key}
}

// leadQuery counts opportunities and direct enquiries together; leads arrive
// through both intake paths.
func leadQuery(s schema, l paramLayout) ParameterizedQuery {
	sql := fmt.Sprintf(`SELECT 'Leads' AS metric, COUNT(*) AS count
FROM (
    SELECT o.name, o.slug, o.source, o.%s AS location, o.created_at
    FROM %s o
    UNION ALL
    SELECT e.name, e.slug, e.source, e.location, e.created_at
    FROM %s e
    WHERE e.vertical = '%s'
) leads
WHERE %s%s%s`,
		s.locationColumn, s.opportunities,
		enquiriesTable, s.enquirySource,
		l.dateFilter("leads.created_at"),
		l.exclusions("leads", true),
		l.locationFilter("leads.location"),
	)
	return ParameterizedQuery{SQL: sql, Params: l.params(true)}
}

func stageQuery(label, column string, s schema, l paramLayout) ParameterizedQuery {
	sql := fmt.Sprintf(`SELECT '%s' AS metric, COUNT(*) AS count
FROM (
    SELECT o.name, o.slug, o.source, o.%s AS location, o.%s AS stage_at
    FROM %s o
    WHERE o.%s IS NOT NULL
) stage
WHERE %s%s%s`,
		label,
		s.locationColumn, column,
		s.opportunities,
		column,
		l.dateFilter("stage.stage_at"),
		l.exclusions("stage", false),
		l.locationFilter("stage.location"),
	)
	return ParameterizedQuery{SQL: sql, Params: l.params(false)}
}
