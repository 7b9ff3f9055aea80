package nlq

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/funnel-agent/backend/internal/timerange"
)

type StagePair struct {
	FromStage Stage `json:"from_stage"`
	ToStage   Stage `json:"to_stage"`
}

type VelocitySpec struct {
	FromStage   Stage       `json:"from_stage"`
	ToStage     Stage       `json:"to_stage"`
	Aggregation Aggregation `json:"aggregation"`
}

type AgingSpec struct {
	Stage         Stage  `json:"stage"`
	ThresholdDays int    `json:"threshold_days"`
	Operator      string `json:"operator"`
}

type RankingSpec struct {
	OrderBy   string `json:"order_by"`
	Direction string `json:"direction"`
	Limit     int    `json:"limit"`
}

const defaultRankingLimit = 10

var (
	conversionPairRe = regexp.MustCompile(`\b(lead|prospect|account|sale)s?\s+to\s+(prospect|account|sale)s?\b`)
	agingDaysRe      = regexp.MustCompile(`\b(\d+)\s*days?\b`)
	rankTopRe        = regexp.MustCompile(`\b(?:top|bottom)\s+(\d+)\b`)
	rankFirstRe      = regexp.MustCompile(`\b(?:first|last)\s+(\d+)\b`)
	ascendingRe      = regexp.MustCompile(`\b(?:bottom|worst|lowest|least|fewest)\b`)
	vsPeriodRe       = regexp.MustCompile(`\b(?:vs|versus|compared\s+to|against)\s+(?:the\s+)?(?:last|previous|prior)\s+(day|week|month|quarter|year)\b|\b(?:vs|versus|compared\s+to|against)\s+(yesterday)\b`)
)

var stageWords = map[string]Stage{
	"lead":     StageLead,
	"prospect": StageProspect,
	"account":  StageAccount,
	"sale":     StageSale,
}

var agingOperators = []struct {
	re *regexp.Regexp
	op string
}{
	{regexp.MustCompile(`\b(?:less|fewer)\s+than\b|\bunder\b|\bwithin\b|\bbelow\b`), "<"},
	{regexp.MustCompile(`\bat\s+least\b|\bor\s+more\b|\bminimum\b`), ">="},
	{regexp.MustCompile(`\bat\s+most\b|\bor\s+less\b|\bmaximum\b`), "<="},
}

var periodComparisons = map[string]timerange.ComparisonType{
	"day":       timerange.ComparisonDoD,
	"yesterday": timerange.ComparisonDoD,
	"week":      timerange.ComparisonWoW,
	"month":     timerange.ComparisonMoM,
	"quarter":   timerange.ComparisonQoQ,
	"year":      timerange.ComparisonYoY,
}

// ExtractConversionPair finds "<stage> to <stage>" in the query, falling
// back to the first two stages in the order they are mentioned.
func ExtractConversionPair(query string, tokens Tokens) *StagePair {
	text := timerange.Normalize(query)
	if m := conversionPairRe.FindStringSubmatch(text); m != nil {
		return &StagePair{FromStage: stageWords[m[1]], ToStage: stageWords[m[2]]}
	}
	if len(tokens.StageMentions) < 2 {
		return nil
	}
	return &StagePair{FromStage: tokens.StageMentions[0].Stage, ToStage: tokens.StageMentions[1].Stage}
}

func ExtractVelocity(query string, tokens Tokens) *VelocitySpec {
	pair := ExtractConversionPair(query, tokens)
	if pair == nil {
		return nil
	}
	agg := AggregationAvg
	for _, a := range tokens.AggregationKeywords {
		if a != AggregationAvg {
			agg = a
			break
		}
	}
	return &VelocitySpec{FromStage: pair.FromStage, ToStage: pair.ToStage, Aggregation: agg}
}

// ExtractAging returns nil when the query carries no day threshold. A day
// count outside the time expressions wins over one inside them, so "last 30
// days older than 14 days" ages at 14.
func ExtractAging(query string, tokens Tokens) *AgingSpec {
	text := timerange.Normalize(query)
	stripped := text
	for _, expr := range tokens.TimeExpressions {
		stripped = strings.Replace(stripped, expr, " ", 1)
	}
	m := agingDaysRe.FindStringSubmatch(stripped)
	if m == nil {
		m = agingDaysRe.FindStringSubmatch(text)
	}
	if m == nil {
		return nil
	}
	days, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}

	op := ">"
	for _, o := range agingOperators {
		if o.re.MatchString(text) {
			op = o.op
			break
		}
	}

	stage := StageProspect
	if len(tokens.StageMentions) > 0 {
		stage = tokens.StageMentions[0].Stage
	}
	return &AgingSpec{Stage: stage, ThresholdDays: days, Operator: op}
}

// ExtractRanking reads the limit and direction. Time expressions are removed
// first so "last 7 days" is never taken as a limit.
func ExtractRanking(query string, tokens Tokens, orderBy string) *RankingSpec {
	text := timerange.Normalize(query)
	for _, expr := range tokens.TimeExpressions {
		text = strings.Replace(text, expr, " ", 1)
	}

	limit := defaultRankingLimit
	if m := rankTopRe.FindStringSubmatch(text); m != nil {
		limit, _ = strconv.Atoi(m[1])
	} else if m := rankFirstRe.FindStringSubmatch(text); m != nil {
		limit, _ = strconv.Atoi(m[1])
	} else if m := numberRe.FindString(text); m != "" {
		limit, _ = strconv.Atoi(m)
	}
	if limit <= 0 {
		limit = defaultRankingLimit
	}

	direction := "desc"
	if ascendingRe.MatchString(text) {
		direction = "asc"
	}
	return &RankingSpec{OrderBy: orderBy, Direction: direction, Limit: limit}
}

// ComparisonTypeFor maps the query's comparison keywords to a canonical
// type. Bare "vs" defaults to month over month unless a period follows it.
func ComparisonTypeFor(query string, tokens Tokens) timerange.ComparisonType {
	for _, kw := range tokens.ComparisonKeywords {
		for _, c := range comparisonTerms {
			if c.term == kw && c.kind != "" {
				return c.kind
			}
		}
	}
	if m := vsPeriodRe.FindStringSubmatch(timerange.Normalize(query)); m != nil {
		unit := m[1]
		if unit == "" {
			unit = m[2]
		}
		return periodComparisons[unit]
	}
	return timerange.ComparisonMoM
}

// ExtractComparison resolves the comparison windows. When the resolver does
// not return a comparison structure, current becomes the base window and
// the resolved range the compare window.
func ExtractComparison(query string, tokens Tokens, cfg timerange.Config, current timerange.TimeRange) *timerange.Comparison {
	kind := ComparisonTypeFor(query, tokens)
	resolved := timerange.Resolve(timerange.ComparisonExpression(kind), cfg)
	if resolved.Comparison != nil {
		return resolved.Comparison
	}
	return &timerange.Comparison{Type: kind, BaseRange: current, CompareRange: resolved}
}

// TrendGranularity defaults to daily buckets.
func TrendGranularity(query string) timerange.Granularity {
	text := timerange.Normalize(query)
	for _, g := range trendGranularities {
		if g.term.match(text) {
			return g.granularity
		}
	}
	return timerange.GranularityDay
}
