package nlq

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/funnel-agent/backend/internal/timerange"
)

// StageMention records where a stage was first mentioned in the normalized text.
type StageMention struct {
	Stage    Stage `json:"stage"`
	Position int   `json:"position"`
}

// Tokens is everything the tokenizer pulls out of a query. Time expressions
// are returned as raw substrings; resolution happens later.
type Tokens struct {
	Stages              []Stage        `json:"stages"`
	StageMentions       []StageMention `json:"stage_mentions"`
	TimeExpressions     []string       `json:"time_expressions"`
	Dimensions          []Dimension    `json:"dimensions"`
	Numbers             []int          `json:"numbers"`
	ComparisonKeywords  []string       `json:"comparison_keywords"`
	AggregationKeywords []Aggregation  `json:"aggregation_keywords"`
}

var numberRe = regexp.MustCompile(`\b\d+\b`)

// Tokenize extracts stages, time expressions, dimensions, numbers and
// comparison/aggregation keywords from a query.
func Tokenize(query string) Tokens {
	text := timerange.Normalize(query)
	t := Tokens{
		Stages:              []Stage{},
		StageMentions:       []StageMention{},
		TimeExpressions:     timeExpressions(text),
		Dimensions:          []Dimension{},
		Numbers:             []int{},
		ComparisonKeywords:  []string{},
		AggregationKeywords: []Aggregation{},
	}

	for _, s := range CanonicalStages {
		if pos := stageTerms[s].firstIndex(text); pos >= 0 {
			t.Stages = append(t.Stages, s)
			t.StageMentions = append(t.StageMentions, StageMention{Stage: s, Position: pos})
		}
	}
	sort.SliceStable(t.StageMentions, func(i, j int) bool {
		return t.StageMentions[i].Position < t.StageMentions[j].Position
	})

	for _, d := range allDimensions {
		if dimensionTerms[d].match(text) {
			t.Dimensions = append(t.Dimensions, d)
		}
	}

	for _, m := range numberRe.FindAllString(text, -1) {
		if n, err := strconv.Atoi(m); err == nil {
			t.Numbers = append(t.Numbers, n)
		}
	}

	for i, set := range comparisonTermSets {
		if set.match(text) {
			t.ComparisonKeywords = append(t.ComparisonKeywords, comparisonTerms[i].term)
		}
	}

	for _, a := range allAggregations {
		if aggregationTerms[a].match(text) {
			t.AggregationKeywords = append(t.AggregationKeywords, a)
		}
	}

	return t
}

type match struct {
	start, end int
}

// timeExpressions runs every resolver pattern over text and returns the
// non-overlapping matches in textual order. Where matches overlap the
// earlier one wins, then the longer one.
func timeExpressions(text string) []string {
	var found []match
	for _, p := range timerange.Patterns {
		for _, loc := range p.Re.FindAllStringIndex(text, -1) {
			found = append(found, match{start: loc[0], end: loc[1]})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].start != found[j].start {
			return found[i].start < found[j].start
		}
		return found[i].end > found[j].end
	})

	out := []string{}
	last := -1
	for _, m := range found {
		if m.start < last {
			continue
		}
		out = append(out, text[m.start:m.end])
		last = m.end
	}
	return out
}
