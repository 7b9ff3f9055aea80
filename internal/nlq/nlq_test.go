package nlq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnel-agent/backend/internal/timerange"
)

func fixedConfig() timerange.Config {
	return timerange.Config{Now: time.Date(2026, 2, 9, 12, 0, 0, 0, timerange.LoadLocation("Asia/Kolkata"))}
}

func TestValidateVocabulary(t *testing.T) {
	require.NoError(t, ValidateVocabulary())
}

func TestIntentRules_Order(t *testing.T) {
	var got []Intent
	for _, r := range IntentRules() {
		got = append(got, r.Intent)
	}
	assert.Equal(t, []Intent{
		IntentFunnelSnapshot, IntentConversion, IntentDropoff, IntentVelocity, IntentAging,
		IntentComparison, IntentRanking, IntentBreakdown, IntentTrend,
	}, got)
}

func TestTokenize(t *testing.T) {
	t.Run("stages dimensions and time", func(t *testing.T) {
		tok := Tokenize("Lead to prospect conversion by source last month")
		assert.Equal(t, []Stage{StageLead, StageProspect}, tok.Stages)
		assert.Equal(t, []Dimension{DimensionSource}, tok.Dimensions)
		assert.Equal(t, []string{"last month"}, tok.TimeExpressions)
	})

	t.Run("stages follow table order, mentions follow text", func(t *testing.T) {
		tok := Tokenize("Sales vs leads")
		assert.Equal(t, []Stage{StageLead, StageSale}, tok.Stages)
		require.Len(t, tok.StageMentions, 2)
		assert.Equal(t, StageSale, tok.StageMentions[0].Stage)
		assert.Equal(t, StageLead, tok.StageMentions[1].Stage)
		assert.Equal(t, []string{"vs"}, tok.ComparisonKeywords)
	})

	t.Run("synonyms", func(t *testing.T) {
		assert.Equal(t, []Stage{StageLead}, Tokenize("new enquiries today").Stages)
		assert.Equal(t, []Stage{StageSale}, Tokenize("maal laao this month").Stages)
		assert.Equal(t, []Stage{StageSale}, Tokenize("bookings QTD").Stages)
		assert.Empty(t, Tokenize("salesperson leaderboard").Stages)
	})

	t.Run("numbers in order", func(t *testing.T) {
		assert.Equal(t, []int{5, 2025}, Tokenize("top 5 agents in 2025").Numbers)
		assert.Empty(t, Tokenize("L30D").Numbers)
	})

	t.Run("overlapping time matches collapse", func(t *testing.T) {
		tok := Tokenize("leads between 2025-04-01 and 2025-06-30")
		assert.Equal(t, []string{"between 2025-04-01 and 2025-06-30"}, tok.TimeExpressions)
	})

	t.Run("multiple time expressions in text order", func(t *testing.T) {
		tok := Tokenize("leads this month vs last month")
		assert.Equal(t, []string{"this month", "last month"}, tok.TimeExpressions)
	})

	t.Run("aggregations", func(t *testing.T) {
		tok := Tokenize("average and p90 days from lead to sale")
		assert.Equal(t, []Aggregation{AggregationAvg, AggregationP90}, tok.AggregationKeywords)
	})

	t.Run("empty query", func(t *testing.T) {
		tok := Tokenize("")
		assert.Empty(t, tok.Stages)
		assert.Empty(t, tok.TimeExpressions)
		assert.Empty(t, tok.Numbers)
	})
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		query string
		want  Intent
	}{
		{"Leads MTD", IntentStageMetric},
		{"", IntentStageMetric},
		{"show me the funnel for this quarter", IntentFunnelSnapshot},
		{"pipeline overview FYTD", IntentFunnelSnapshot},
		{"lead to prospect conversion rate", IntentConversion},
		{"conversion rate for top 10 sources by agent", IntentConversion},
		{"leads to prospects last month", IntentConversion},
		{"where is the leakage in prospects", IntentDropoff},
		{"P90 days account to sale", IntentVelocity},
		{"how long from lead to sale", IntentVelocity},
		{"Prospects older than 14 days", IntentAging},
		{"accounts stuck for 30 days", IntentAging},
		{"leads this month vs last month", IntentComparison},
		{"sales WoW", IntentComparison},
		{"top 5 agents by sales", IntentRanking},
		{"worst performing sources", IntentRanking},
		{"leads by source", IntentBreakdown},
		{"prospect breakdown location wise", IntentBreakdown},
		{"weekly leads this quarter", IntentTrend},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectIntent(tt.query, Tokenize(tt.query)))
		})
	}
}

func TestResolve_TimeRange(t *testing.T) {
	mtd := Resolve("Leads MTD", fixedConfig())
	assert.Equal(t, IntentStageMetric, mtd.Intent)
	assert.Equal(t, []string{"FUNNEL.LEADS_ENTERED"}, mtd.MetricIDs)
	assert.Equal(t, "2026-02-01T00:00:00+05:30", mtd.TimeRange.StartString())
	assert.Equal(t, "2026-02-09T12:00:00+05:30", mtd.TimeRange.EndString())
	assert.Equal(t, "Leads MTD", mtd.OriginalQuery)

	fytd := Resolve("Leads FYTD", fixedConfig())
	assert.Equal(t, "2025-04-01T00:00:00+05:30", fytd.TimeRange.StartString())

	fallback := Resolve("how are things", fixedConfig())
	assert.Equal(t, timerange.ModeToDate, fallback.TimeRange.Mode)
	assert.Equal(t, "2026-02-01T00:00:00+05:30", fallback.TimeRange.StartString())
	assert.Equal(t, []string{"FUNNEL.LEADS_ENTERED"}, fallback.MetricIDs)
	assert.Empty(t, fallback.Stages)
}

func TestResolve_Aging(t *testing.T) {
	plan := Resolve("Prospects older than 14 days", fixedConfig())
	assert.Equal(t, IntentAging, plan.Intent)
	require.NotNil(t, plan.Aging)
	assert.Equal(t, AgingSpec{Stage: StageProspect, ThresholdDays: 14, Operator: ">"}, *plan.Aging)
	assert.Equal(t, []string{"FUNNEL.STAGE_AGING"}, plan.MetricIDs)

	less := Resolve("accounts idle for less than 7 days", fixedConfig())
	require.NotNil(t, less.Aging)
	assert.Equal(t, StageAccount, less.Aging.Stage)
	assert.Equal(t, "<", less.Aging.Operator)

	noStage := Resolve("anything stuck over 21 days", fixedConfig())
	require.NotNil(t, noStage.Aging)
	assert.Equal(t, StageProspect, noStage.Aging.Stage)

	windowed := Resolve("Prospects created in the last 30 days older than 14 days", fixedConfig())
	require.NotNil(t, windowed.Aging)
	assert.Equal(t, AgingSpec{Stage: StageProspect, ThresholdDays: 14, Operator: ">"}, *windowed.Aging)
	assert.Equal(t, "2026-01-10T12:00:00+05:30", windowed.TimeRange.StartString())

	const windowOnlyQuery = "prospects stuck in the last 30 days"
	windowOnly := ExtractAging(windowOnlyQuery, Tokenize(windowOnlyQuery))
	require.NotNil(t, windowOnly)
	assert.Equal(t, 30, windowOnly.ThresholdDays)

	incomplete := Resolve("which prospects are stuck", fixedConfig())
	assert.Equal(t, IntentAging, incomplete.Intent)
	assert.Nil(t, incomplete.Aging)
}

func TestResolve_Conversion(t *testing.T) {
	plan := Resolve("lead to prospect conversion rate", fixedConfig())
	assert.Equal(t, IntentConversion, plan.Intent)
	assert.Equal(t, []string{"FUNNEL.CONVERSION_RATE"}, plan.MetricIDs)
	require.NotNil(t, plan.Conversion)
	assert.Equal(t, StagePair{FromStage: StageLead, ToStage: StageProspect}, *plan.Conversion)
	assert.Nil(t, plan.Ranking)
	assert.Nil(t, plan.GroupBy)

	textual := Resolve("conversion from sales back to enquiries", fixedConfig())
	require.NotNil(t, textual.Conversion)
	assert.Equal(t, StageSale, textual.Conversion.FromStage)
	assert.Equal(t, StageLead, textual.Conversion.ToStage)

	assert.Nil(t, Resolve("conversion rate MTD", fixedConfig()).Conversion)
}

func TestResolve_Velocity(t *testing.T) {
	plan := Resolve("P90 days account to sale", fixedConfig())
	assert.Equal(t, IntentVelocity, plan.Intent)
	require.NotNil(t, plan.Velocity)
	assert.Equal(t, VelocitySpec{FromStage: StageAccount, ToStage: StageSale, Aggregation: AggregationP90}, *plan.Velocity)

	avg := Resolve("how long from lead to sale", fixedConfig())
	require.NotNil(t, avg.Velocity)
	assert.Equal(t, AggregationAvg, avg.Velocity.Aggregation)

	median := Resolve("average vs median days from prospect to account", fixedConfig())
	require.NotNil(t, median.Velocity)
	assert.Equal(t, AggregationMedian, median.Velocity.Aggregation)
}

func TestResolve_Ranking(t *testing.T) {
	plan := Resolve("top 5 sources by leads last 7 days", fixedConfig())
	assert.Equal(t, IntentRanking, plan.Intent)
	require.NotNil(t, plan.Ranking)
	assert.Equal(t, RankingSpec{OrderBy: "FUNNEL.LEADS_ENTERED", Direction: "desc", Limit: 5}, *plan.Ranking)
	assert.Equal(t, []Dimension{DimensionSource}, plan.GroupBy)
	assert.Equal(t, timerange.ModeRolling, plan.TimeRange.Mode)

	bottom := Resolve("bottom agents by sales last 7 days", fixedConfig())
	require.NotNil(t, bottom.Ranking)
	assert.Equal(t, "asc", bottom.Ranking.Direction)
	assert.Equal(t, 10, bottom.Ranking.Limit)
	assert.Equal(t, "FUNNEL.SALES_ENTERED", bottom.Ranking.OrderBy)
}

func TestResolve_Comparison(t *testing.T) {
	plan := Resolve("sales WoW", fixedConfig())
	assert.Equal(t, IntentComparison, plan.Intent)
	require.NotNil(t, plan.Comparison)
	assert.Equal(t, timerange.ComparisonWoW, plan.Comparison.Type)
	assert.Equal(t, "2026-02-09T00:00:00+05:30", plan.Comparison.BaseRange.StartString())
	assert.Equal(t, "2026-02-02T00:00:00+05:30", plan.Comparison.CompareRange.StartString())
	assert.Equal(t, []string{"FUNNEL.SALES_ENTERED"}, plan.MetricIDs)

	vs := Resolve("leads this month vs last month", fixedConfig())
	require.NotNil(t, vs.Comparison)
	assert.Equal(t, timerange.ComparisonMoM, vs.Comparison.Type)
	assert.Equal(t, "this month", Tokenize("leads this month vs last month").TimeExpressions[0])

	quarter := Resolve("accounts compared to last quarter", fixedConfig())
	require.NotNil(t, quarter.Comparison)
	assert.Equal(t, timerange.ComparisonQoQ, quarter.Comparison.Type)
}

func TestResolve_FunnelTrendBreakdown(t *testing.T) {
	funnel := Resolve("show me the funnel", fixedConfig())
	assert.Equal(t, CanonicalStages, funnel.Stages)
	assert.Equal(t, []string{
		"FUNNEL.LEADS_ENTERED", "FUNNEL.PROSPECTS_ENTERED", "FUNNEL.ACCOUNTS_ENTERED", "FUNNEL.SALES_ENTERED",
	}, funnel.MetricIDs)

	trend := Resolve("weekly leads this quarter", fixedConfig())
	assert.Equal(t, timerange.GranularityWeek, trend.TrendGranularity)
	assert.Equal(t, []string{"FUNNEL.TREND"}, trend.MetricIDs)
	assert.Equal(t, "2026-01-01T00:00:00+05:30", trend.TimeRange.StartString())

	breakdown := Resolve("prospects and accounts by source", fixedConfig())
	assert.Equal(t, IntentBreakdown, breakdown.Intent)
	assert.Equal(t, []Dimension{DimensionSource}, breakdown.GroupBy)
	assert.Equal(t, []string{"FUNNEL.PROSPECTS_ENTERED", "FUNNEL.ACCOUNTS_ENTERED"}, breakdown.MetricIDs)
	assert.Empty(t, breakdown.TrendGranularity)
}

func TestResolve_Confidence(t *testing.T) {
	assert.Equal(t, 0.9, Resolve("Leads MTD", fixedConfig()).Confidence)
	assert.Equal(t, 1.0, Resolve("how many leads MTD", fixedConfig()).Confidence)
	assert.Equal(t, 0.5, Resolve("hello", fixedConfig()).Confidence)
	assert.Equal(t, 0.6, Resolve("show me the funnel", fixedConfig()).Confidence)
}

func TestResolve_OutputMeta(t *testing.T) {
	scoped := Resolve("Isprava leads MTD", fixedConfig())
	assert.True(t, scoped.OutputMeta.ScopeExplicit)
	assert.Empty(t, scoped.OutputMeta.Disclaimer)

	implicit := Resolve("leads MTD", fixedConfig())
	assert.False(t, implicit.OutputMeta.ScopeExplicit)
	assert.Contains(t, implicit.OutputMeta.Disclaimer, "Isprava")
}

func TestQueryPlan_JSONOmitsIrrelevantFields(t *testing.T) {
	data, err := json.Marshal(Resolve("Leads MTD", fixedConfig()))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"intent", "metric_ids", "stages", "time_range", "original_query", "confidence", "output_meta"} {
		assert.Contains(t, fields, key)
	}
	for _, key := range []string{"group_by", "trend_granularity", "conversion", "velocity", "aging", "ranking", "comparison"} {
		assert.NotContains(t, fields, key)
	}
}
