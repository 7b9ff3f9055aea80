package nlq

import (
	"regexp"

	"github.com/funnel-agent/backend/internal/timerange"
)

// IntentRule pairs a predicate with the intent it selects. Rules are
// evaluated in slice order and the first match wins.
type IntentRule struct {
	Intent Intent
	Match  func(text string, tokens Tokens) bool
}

var (
	stageToStageRe = regexp.MustCompile(`\b(?:lead|prospect|account|sale|enquiry|enquirie|booking)s?\s+to\s+(?:prospect|account|sale|booking)s?\b`)
	connectiveRe   = regexp.MustCompile(`\b(?:to|between)\b`)
	agingPhraseRe  = regexp.MustCompile(`\b(?:older|stuck|idle|aged|pending|sitting)\s+(?:than|for|over|beyond|more\s+than)\b`)
	topNRe         = regexp.MustCompile(`\b(?:top|bottom)\s+\d+\b`)
	byRe           = regexp.MustCompile(`\b(?:by|per|across|wise)\b`)
)

var intentRules = []IntentRule{
	{IntentFunnelSnapshot, func(text string, _ Tokens) bool {
		return intentTerms[IntentFunnelSnapshot].match(text)
	}},
	{IntentConversion, func(text string, _ Tokens) bool {
		if intentTerms[IntentConversion].match(text) {
			return true
		}
		// "P90 days account to sale" is a duration question, not a rate.
		return stageToStageRe.MatchString(text) && !intentTerms[IntentVelocity].match(text)
	}},
	{IntentDropoff, func(text string, _ Tokens) bool {
		return intentTerms[IntentDropoff].match(text)
	}},
	{IntentVelocity, func(text string, _ Tokens) bool {
		return intentTerms[IntentVelocity].match(text) && connectiveRe.MatchString(text)
	}},
	{IntentAging, func(text string, _ Tokens) bool {
		return intentTerms[IntentAging].match(text) || agingPhraseRe.MatchString(text)
	}},
	{IntentComparison, func(_ string, tokens Tokens) bool {
		return len(tokens.ComparisonKeywords) > 0
	}},
	{IntentRanking, func(text string, _ Tokens) bool {
		return topNRe.MatchString(text) || intentTerms[IntentRanking].match(text)
	}},
	{IntentBreakdown, func(text string, tokens Tokens) bool {
		if len(tokens.Dimensions) == 0 {
			return false
		}
		return byRe.MatchString(text) || intentTerms[IntentBreakdown].match(text)
	}},
	{IntentTrend, func(text string, _ Tokens) bool {
		return intentTerms[IntentTrend].match(text)
	}},
}

// IntentRules returns the classification rules in priority order.
func IntentRules() []IntentRule {
	out := make([]IntentRule, len(intentRules))
	copy(out, intentRules)
	return out
}

// DetectIntent classifies a query. It always returns an intent, falling
// back to STAGE_METRIC.
func DetectIntent(query string, tokens Tokens) Intent {
	text := timerange.Normalize(query)
	for _, r := range intentRules {
		if r.Match(text, tokens) {
			return r.Intent
		}
	}
	return IntentStageMetric
}
