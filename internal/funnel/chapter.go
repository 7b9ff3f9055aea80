package funnel

import (
	"fmt"
	"strings"
)

const chapterTasks = "chapter_tasks"

var chapterMetrics = []metricDef{
	{"lead", "Leads"},
	{"prospect", "Prospects"},
	{"account", "Accounts"},
	{"sale", "Sales"},
	{"viewing", "Viewings"},
	{"meeting", "Meetings"},
	{"lead_to_prospect_days", "Avg Days Lead to Prospect"},
	{"prospect_to_account_days", "Avg Days Prospect to Account"},
	{"account_to_sale_days", "Avg Days Account to Sale"},
}

// activityTypes maps activity metrics to chapter_tasks.task_type.
var activityTypes = map[string]string{
	"viewing": "site_visit",
	"meeting": "meeting",
}

// stageDurations maps duration metrics to the stage transitions they span.
// An empty from stage means the opportunity's creation time.
var stageDurations = map[string][2]string{
	"lead_to_prospect_days":    {"", "prospect"},
	"prospect_to_account_days": {"prospect", "account"},
	"account_to_sale_days":     {"account", "sale"},
}

// ChapterMetricKeys lists the keys accepted by BuildChapterMetricQuery in display order.
func ChapterMetricKeys() []string {
	keys := make([]string, len(chapterMetrics))
	for i, m := range chapterMetrics {
		keys[i] = m.key
	}
	return keys
}

// BuildChapterMetricQuery builds one of the nine Chapter funnel metrics.
func BuildChapterMetricQuery(key string, r DateRange, locations []string) (ParameterizedQuery, error) {
	return chapterMetric(key, newParamLayout(r, locations))
}

// BuildChapterFunnelQuery builds all nine Chapter metrics ordered by a sort
// table, or a single metric when key is set.
func BuildChapterFunnelQuery(r DateRange, locations []string, key string) (ParameterizedQuery, error) {
	if key != "" {
		return BuildChapterMetricQuery(key, r, locations)
	}

	l := newParamLayout(r, locations)
	queries := make([]ParameterizedQuery, 0, len(chapterMetrics))
	order := make([]string, 0, len(chapterMetrics))
	for i, m := range chapterMetrics {
		q, err := chapterMetric(m.key, l)
		if err != nil {
			return ParameterizedQuery{}, err
		}
		queries = append(queries, q)
		order = append(order, fmt.Sprintf("('%s', %d)", m.label, i+1))
	}
	union, params := unionAll(queries)

	sql := fmt.Sprintf(`SELECT f.metric, f.count
FROM (
%s
) f
JOIN (VALUES %s) AS sort_order(metric, position) ON sort_order.metric = f.metric
ORDER BY sort_order.position`, union, strings.Join(order, ", "))
	return ParameterizedQuery{SQL: sql, Params: params}, nil
}

func chapterMetric(key string, l paramLayout) (ParameterizedQuery, error) {
	s := verticalSchemas[VerticalTheChapter]
	if taskType, ok := activityTypes[key]; ok {
		return activityQuery(chapterLabel(key), taskType, s, l), nil
	}
	if stages, ok := stageDurations[key]; ok {
		return durationQuery(chapterLabel(key), stages[0], stages[1], s, l), nil
	}
	return salesMetric(key, s, l)
}

func chapterLabel(key string) string {
	for _, m := range chapterMetrics {
		if m.key == key {
			return m.label
		}
	}
	return key
}

func activityQuery(label, taskType string, s schema, l paramLayout) ParameterizedQuery {
	sql := fmt.Sprintf(`SELECT '%s' AS metric, COUNT(DISTINCT t.id) AS count
FROM %s t
JOIN %s o ON o.id = t.opportunity_id
WHERE t.task_type = '%s'
    AND t.status = 'completed'
    AND %s%s%s`,
		label,
		chapterTasks,
		s.opportunities,
		taskType,
		l.dateFilter("t.completed_at"),
		l.exclusions("o", false),
		l.locationFilter("o."+s.locationColumn),
	)
	return ParameterizedQuery{SQL: sql, Params: l.params(false)}
}

// transitionJoin selects the first time each opportunity reached a stage.
func transitionJoin(alias, stage string) string {
	return fmt.Sprintf(`JOIN (
    SELECT opportunity_id, MIN(completed_at) AS reached_at
    FROM %s
    WHERE task_type = 'stage_change' AND to_stage = '%s'
    GROUP BY opportunity_id
) %s ON %s.opportunity_id = o.id`, chapterTasks, stage, alias, alias)
}

func durationQuery(label, from, to string, s schema, l paramLayout) ParameterizedQuery {
	joins := []string{}
	fromExpr := "o.created_at"
	if from != "" {
		joins = append(joins, transitionJoin("tf", from))
		fromExpr = "tf.reached_at"
	}
	joins = append(joins, transitionJoin("tt", to))

	sql := fmt.Sprintf(`SELECT '%s' AS metric,
    ROUND(AVG(EXTRACT(EPOCH FROM (tt.reached_at - %s)) / 86400)::numeric, 1) AS count
FROM %s o
%s
WHERE %s%s%s`,
		label,
		fromExpr,
		s.opportunities,
		strings.Join(joins, "\n"),
		l.dateFilter("tt.reached_at"),
		l.exclusions("o", false),
		l.locationFilter("o."+s.locationColumn),
	)
	return ParameterizedQuery{SQL: sql, Params: l.params(false)}
}
