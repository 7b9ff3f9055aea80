package nlq

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/funnel-agent/backend/internal/timerange"
)

type Stage string

const (
	StageLead     Stage = "LEAD"
	StageProspect Stage = "PROSPECT"
	StageAccount  Stage = "ACCOUNT"
	StageSale     Stage = "SALE"
)

// CanonicalStages is funnel display order.
var CanonicalStages = []Stage{StageLead, StageProspect, StageAccount, StageSale}

type Dimension string

const (
	DimensionSource       Dimension = "source"
	DimensionAgent        Dimension = "agent"
	DimensionLocation     Dimension = "location"
	DimensionPropertyType Dimension = "property_type"
	DimensionChannel      Dimension = "channel"
	DimensionCampaign     Dimension = "campaign"
	DimensionVertical     Dimension = "vertical"
)

var allDimensions = []Dimension{
	DimensionSource, DimensionAgent, DimensionLocation, DimensionPropertyType,
	DimensionChannel, DimensionCampaign, DimensionVertical,
}

type Intent string

const (
	IntentStageMetric    Intent = "STAGE_METRIC"
	IntentFunnelSnapshot Intent = "FUNNEL_SNAPSHOT"
	IntentTrend          Intent = "TREND"
	IntentBreakdown      Intent = "BREAKDOWN"
	IntentConversion     Intent = "CONVERSION"
	IntentDropoff        Intent = "DROPOFF"
	IntentVelocity       Intent = "VELOCITY"
	IntentAging          Intent = "AGING"
	IntentComparison     Intent = "COMPARISON"
	IntentRanking        Intent = "RANKING"
)

var allIntents = []Intent{
	IntentStageMetric, IntentFunnelSnapshot, IntentTrend, IntentBreakdown, IntentConversion,
	IntentDropoff, IntentVelocity, IntentAging, IntentComparison, IntentRanking,
}

type Aggregation string

const (
	AggregationAvg    Aggregation = "avg"
	AggregationMedian Aggregation = "median"
	AggregationP90    Aggregation = "p90"
	AggregationP95    Aggregation = "p95"
)

var allAggregations = []Aggregation{AggregationAvg, AggregationMedian, AggregationP90, AggregationP95}

// termSet is an ordered keyword list compiled into a single whole-word
// matcher. Plural "s" is accepted on every term.
type termSet struct {
	terms []string
	re    *regexp.Regexp
}

func newTermSet(terms ...string) termSet {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(t), " ", `\s+`)
	}
	return termSet{
		terms: terms,
		re:    regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)s?\b`),
	}
}

func (s termSet) match(text string) bool {
	return s.re.MatchString(text)
}

// firstIndex returns the position of the earliest match, or -1.
func (s termSet) firstIndex(text string) int {
	if loc := s.re.FindStringIndex(text); loc != nil {
		return loc[0]
	}
	return -1
}

var stageTerms = map[Stage]termSet{
	StageLead:     newTermSet("lead", "enquiry", "enquiries", "inquiry", "inquiries"),
	StageProspect: newTermSet("prospect"),
	StageAccount:  newTermSet("account"),
	StageSale:     newTermSet("sale", "booking", "maal laao", "closed won", "closure"),
}

var dimensionTerms = map[Dimension]termSet{
	DimensionSource:       newTermSet("source", "lead source", "utm source"),
	DimensionAgent:        newTermSet("agent", "rm", "salesperson", "sales person", "owner", "executive"),
	DimensionLocation:     newTermSet("location", "city", "region", "destination"),
	DimensionPropertyType: newTermSet("property type", "villa type", "bhk", "unit type"),
	DimensionChannel:      newTermSet("channel", "medium"),
	DimensionCampaign:     newTermSet("campaign"),
	DimensionVertical:     newTermSet("vertical", "business line", "brand"),
}

// intentTerms feed both the classifier predicates and the confidence bonus.
var intentTerms = map[Intent]termSet{
	IntentStageMetric:    newTermSet("how many", "count", "number of", "total"),
	IntentFunnelSnapshot: newTermSet("funnel", "pipeline overview", "pipeline summary", "full pipeline"),
	IntentConversion:     newTermSet("conversion", "convert", "converted", "conversion rate"),
	IntentDropoff:        newTermSet("dropoff", "drop off", "dropped", "leakage", "fall off", "fallout"),
	IntentVelocity: newTermSet("how long", "time to", "time taken", "duration", "velocity", "cycle time",
		"days to", "days from", "days between", "median", "p90", "p95"),
	IntentAging:      newTermSet("aging", "ageing", "older than", "stuck", "idle", "stale"),
	IntentComparison: newTermSet("compare", "compared", "comparison", "vs", "versus"),
	IntentRanking:    newTermSet("top", "bottom", "highest", "lowest", "best", "worst", "rank", "ranking", "leaderboard"),
	IntentBreakdown:  newTermSet("breakdown", "break down", "split by", "segment", "segmented", "distribution"),
	IntentTrend:      newTermSet("daily", "weekly", "monthly", "quarterly", "yearly", "trend", "over time"),
}

// comparisonTerms maps comparison keywords to the comparison type they
// imply. An empty type means "some comparison" without a period.
var comparisonTerms = []struct {
	term string
	kind timerange.ComparisonType
}{
	{"vs", ""},
	{"versus", ""},
	{"compare", ""},
	{"compared", ""},
	{"comparison", ""},
	{"dod", timerange.ComparisonDoD},
	{"day over day", timerange.ComparisonDoD},
	{"wow", timerange.ComparisonWoW},
	{"week over week", timerange.ComparisonWoW},
	{"mom", timerange.ComparisonMoM},
	{"month over month", timerange.ComparisonMoM},
	{"qoq", timerange.ComparisonQoQ},
	{"quarter over quarter", timerange.ComparisonQoQ},
	{"yoy", timerange.ComparisonYoY},
	{"year over year", timerange.ComparisonYoY},
	{"sply", timerange.ComparisonSPLY},
	{"same period last year", timerange.ComparisonSPLY},
}

var comparisonTermSets = func() []termSet {
	out := make([]termSet, len(comparisonTerms))
	for i, c := range comparisonTerms {
		out[i] = newTermSet(c.term)
	}
	return out
}()

var aggregationTerms = map[Aggregation]termSet{
	AggregationAvg:    newTermSet("avg", "average", "mean"),
	AggregationMedian: newTermSet("median", "p50"),
	AggregationP90:    newTermSet("p90", "90th percentile"),
	AggregationP95:    newTermSet("p95", "95th percentile"),
}

var trendGranularities = []struct {
	term        termSet
	granularity timerange.Granularity
}{
	{newTermSet("daily", "by day", "per day"), timerange.GranularityDay},
	{newTermSet("weekly", "by week", "per week"), timerange.GranularityWeek},
	{newTermSet("monthly", "by month", "per month"), timerange.GranularityMonth},
	{newTermSet("quarterly", "by quarter", "per quarter"), timerange.GranularityQuarter},
	{newTermSet("yearly", "annual", "annually", "by year", "per year"), timerange.GranularityYear},
}

var stageMetricIDs = map[Stage]string{
	StageLead:     "FUNNEL.LEADS_ENTERED",
	StageProspect: "FUNNEL.PROSPECTS_ENTERED",
	StageAccount:  "FUNNEL.ACCOUNTS_ENTERED",
	StageSale:     "FUNNEL.SALES_ENTERED",
}

var intentMetricIDs = map[Intent]string{
	IntentConversion: "FUNNEL.CONVERSION_RATE",
	IntentDropoff:    "FUNNEL.DROPOFF_RATE",
	IntentVelocity:   "FUNNEL.STAGE_VELOCITY",
	IntentAging:      "FUNNEL.STAGE_AGING",
	IntentTrend:      "FUNNEL.TREND",
}

// ValidateVocabulary reports any enum variant with no lookup entry.
func ValidateVocabulary() error {
	for _, s := range CanonicalStages {
		if len(stageTerms[s].terms) == 0 {
			return fmt.Errorf("stage %s has no terms", s)
		}
		if stageMetricIDs[s] == "" {
			return fmt.Errorf("stage %s has no metric id", s)
		}
	}
	for _, d := range allDimensions {
		if len(dimensionTerms[d].terms) == 0 {
			return fmt.Errorf("dimension %s has no terms", d)
		}
	}
	for _, i := range allIntents {
		if len(intentTerms[i].terms) == 0 {
			return fmt.Errorf("intent %s has no terms", i)
		}
	}
	for _, a := range allAggregations {
		if len(aggregationTerms[a].terms) == 0 {
			return fmt.Errorf("aggregation %s has no terms", a)
		}
	}
	ruled := map[Intent]bool{IntentStageMetric: true}
	for _, r := range intentRules {
		ruled[r.Intent] = true
	}
	for _, i := range allIntents {
		if !ruled[i] {
			return fmt.Errorf("intent %s has no classification rule", i)
		}
	}
	return nil
}

func init() {
	if err := ValidateVocabulary(); err != nil {
		panic(fmt.Sprintf("nlq vocabulary: %v", err))
	}
}
