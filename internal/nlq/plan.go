package nlq

import (
	"strings"

	"github.com/funnel-agent/backend/internal/timerange"
)

const (
	defaultTimeExpression = "MTD"
	scopedBusiness        = "isprava"
	scopeDisclaimer       = "Results are scoped to Isprava. Lohono Stays, The Chapter and Solene are not included unless asked for by name."
)

// OutputMeta carries the business-attribution annotation for a plan.
type OutputMeta struct {
	BusinessScope string `json:"business_scope"`
	ScopeExplicit bool   `json:"scope_explicit"`
	Disclaimer    string `json:"disclaimer,omitempty"`
}

// QueryPlan is the structured form of a natural-language question. Only the
// optional fields relevant to Intent are set.
type QueryPlan struct {
	Intent        Intent              `json:"intent"`
	MetricIDs     []string            `json:"metric_ids"`
	Stages        []Stage             `json:"stages"`
	TimeRange     timerange.TimeRange `json:"time_range"`
	OriginalQuery string              `json:"original_query"`
	Confidence    float64             `json:"confidence"`
	OutputMeta    OutputMeta          `json:"output_meta"`

	GroupBy          []Dimension           `json:"group_by,omitempty"`
	TrendGranularity timerange.Granularity `json:"trend_granularity,omitempty"`
	Conversion       *StagePair            `json:"conversion,omitempty"`
	Velocity         *VelocitySpec         `json:"velocity,omitempty"`
	Aging            *AgingSpec            `json:"aging,omitempty"`
	Ranking          *RankingSpec          `json:"ranking,omitempty"`
	Comparison       *timerange.Comparison `json:"comparison,omitempty"`
}

// Resolve turns a query into a plan. It never fails; a query with no
// recognizable signal becomes a month-to-date lead count.
func Resolve(query string, cfg timerange.Config) QueryPlan {
	tokens := Tokenize(query)
	intent := DetectIntent(query, tokens)

	stages := tokens.Stages
	if len(stages) == 0 && intent == IntentFunnelSnapshot {
		stages = append([]Stage{}, CanonicalStages...)
	}

	expr := defaultTimeExpression
	if len(tokens.TimeExpressions) > 0 {
		expr = tokens.TimeExpressions[0]
	}
	tr := timerange.Resolve(expr, cfg)

	plan := QueryPlan{
		Intent:        intent,
		MetricIDs:     MetricIDs(intent, stages),
		Stages:        stages,
		TimeRange:     tr,
		OriginalQuery: query,
		Confidence:    confidence(query, intent, tokens),
		OutputMeta:    outputMeta(query),
	}

	switch intent {
	case IntentConversion:
		plan.Conversion = ExtractConversionPair(query, tokens)
	case IntentVelocity:
		plan.Velocity = ExtractVelocity(query, tokens)
	case IntentAging:
		plan.Aging = ExtractAging(query, tokens)
	case IntentRanking:
		plan.Ranking = ExtractRanking(query, tokens, plan.MetricIDs[0])
		plan.GroupBy = tokens.Dimensions
	case IntentBreakdown:
		plan.GroupBy = tokens.Dimensions
	case IntentTrend:
		plan.TrendGranularity = TrendGranularity(query)
	case IntentComparison:
		plan.Comparison = ExtractComparison(query, tokens, cfg, tr)
	}
	return plan
}

// confidence is kept in tenths to avoid float drift: 0.5 base, +0.2 for
// stages, +0.2 for a time expression, +0.1 when the intent's own keywords
// appear.
func confidence(query string, intent Intent, tokens Tokens) float64 {
	tenths := 5
	if len(tokens.Stages) > 0 {
		tenths += 2
	}
	if len(tokens.TimeExpressions) > 0 {
		tenths += 2
	}
	if intentTerms[intent].match(timerange.Normalize(query)) {
		tenths++
	}
	if tenths > 10 {
		tenths = 10
	}
	return float64(tenths) / 10
}

func outputMeta(query string) OutputMeta {
	if strings.Contains(strings.ToLower(query), scopedBusiness) {
		return OutputMeta{BusinessScope: scopedBusiness, ScopeExplicit: true}
	}
	return OutputMeta{BusinessScope: scopedBusiness, Disclaimer: scopeDisclaimer}
}
