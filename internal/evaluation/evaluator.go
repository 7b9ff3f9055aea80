package evaluation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/nlq"
	"github.com/funnel-agent/backend/internal/timerange"
	"github.com/funnel-agent/backend/pkg/logger"
)

const (
	ClassWrongIntent = "wrong_intent"
	ClassPartial     = "partial"
	ClassExact       = "exact"
)

// Evaluator scores the query planner against a labelled set of questions.
type Evaluator struct {
	cfg timerange.Config
}

type EvaluationDataset struct {
	// ReferenceTime pins "now" so relative expressions resolve reproducibly.
	ReferenceTime string        `json:"reference_time"`
	Items         []DatasetItem `json:"items"`
}

type DatasetItem struct {
	Query          string   `json:"query"`
	Category       string   `json:"category"`
	ExpectedIntent string   `json:"expected_intent"`
	ExpectedStages []string `json:"expected_stages,omitempty"`
	ExpectedStart  string   `json:"expected_start,omitempty"`
	ExpectedEnd    string   `json:"expected_end,omitempty"`
	ExpectedScope  string   `json:"expected_scope,omitempty"`
}

type ItemResult struct {
	Query          string  `json:"query"`
	Category       string  `json:"category"`
	ExpectedIntent string  `json:"expected_intent"`
	ActualIntent   string  `json:"actual_intent"`
	IntentMatch    bool    `json:"intent_match"`
	StagesMatch    bool    `json:"stages_match"`
	TimeRangeMatch bool    `json:"time_range_match"`
	ScopeMatch     bool    `json:"scope_match"`
	Confidence     float64 `json:"confidence"`
	Classification string  `json:"classification"`
	Detail         string  `json:"detail,omitempty"`
}

type CategoryScore struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

type EvaluationReport struct {
	TotalQueries      int                       `json:"total_queries"`
	WrongIntentCount  int                       `json:"wrong_intent_count"`
	PartialCount      int                       `json:"partial_count"`
	ExactCount        int                       `json:"exact_count"`
	IntentAccuracy    float64                   `json:"intent_accuracy"`
	StageAccuracy     float64                   `json:"stage_accuracy"`
	TimeRangeAccuracy float64                   `json:"time_range_accuracy"`
	ExactPercentage   float64                   `json:"exact_percentage"`
	AvgConfidence     float64                   `json:"avg_confidence"`
	ByCategory        map[string]*CategoryScore `json:"by_category"`
	Failures          []ItemResult              `json:"failures"`
}

func NewEvaluator(cfg timerange.Config) *Evaluator {
	return &Evaluator{cfg: cfg.Merge()}
}

// EvaluateItem resolves one labelled question and compares the plan with the
// expectations it carries. Unset expectations always match.
func (e *Evaluator) EvaluateItem(item DatasetItem) ItemResult {
	plan := nlq.Resolve(item.Query, e.cfg)

	result := ItemResult{
		Query:          item.Query,
		Category:       item.Category,
		ExpectedIntent: item.ExpectedIntent,
		ActualIntent:   string(plan.Intent),
		Confidence:     plan.Confidence,
	}

	var detail []string
	result.IntentMatch = strings.EqualFold(item.ExpectedIntent, string(plan.Intent))
	if !result.IntentMatch {
		detail = append(detail, fmt.Sprintf("intent %s, want %s", plan.Intent, item.ExpectedIntent))
	}

	result.StagesMatch = true
	if len(item.ExpectedStages) > 0 {
		got := make([]string, len(plan.Stages))
		for i, s := range plan.Stages {
			got[i] = string(s)
		}
		result.StagesMatch = sameStages(item.ExpectedStages, got)
		if !result.StagesMatch {
			detail = append(detail, fmt.Sprintf("stages %v, want %v", got, item.ExpectedStages))
		}
	}

	result.TimeRangeMatch = true
	if item.ExpectedStart != "" && !boundMatches(item.ExpectedStart, plan.TimeRange.Start) {
		result.TimeRangeMatch = false
		detail = append(detail, fmt.Sprintf("start %s, want %s", formatBound(plan.TimeRange.Start), item.ExpectedStart))
	}
	if item.ExpectedEnd != "" && !boundMatches(item.ExpectedEnd, plan.TimeRange.End) {
		result.TimeRangeMatch = false
		detail = append(detail, fmt.Sprintf("end %s, want %s", formatBound(plan.TimeRange.End), item.ExpectedEnd))
	}

	result.ScopeMatch = item.ExpectedScope == "" || strings.EqualFold(item.ExpectedScope, plan.OutputMeta.BusinessScope)
	if !result.ScopeMatch {
		detail = append(detail, fmt.Sprintf("scope %s, want %s", plan.OutputMeta.BusinessScope, item.ExpectedScope))
	}

	switch {
	case !result.IntentMatch:
		result.Classification = ClassWrongIntent
	case result.StagesMatch && result.TimeRangeMatch && result.ScopeMatch:
		result.Classification = ClassExact
	default:
		result.Classification = ClassPartial
	}
	result.Detail = strings.Join(detail, "; ")
	return result
}

func (e *Evaluator) RunDatasetEvaluation(dataset *EvaluationDataset) (*EvaluationReport, error) {
	if dataset.ReferenceTime != "" {
		now, err := time.Parse(time.RFC3339, dataset.ReferenceTime)
		if err != nil {
			return nil, fmt.Errorf("failed to parse reference_time: %w", err)
		}
		e.cfg.Now = now
	}

	logger.Info("Running planner evaluation", zap.Int("items", len(dataset.Items)))

	report := &EvaluationReport{
		TotalQueries: len(dataset.Items),
		ByCategory:   make(map[string]*CategoryScore),
	}

	var intentOK, stagesOK, rangeOK int
	var totalConfidence float64

	for _, item := range dataset.Items {
		result := e.EvaluateItem(item)

		switch result.Classification {
		case ClassWrongIntent:
			report.WrongIntentCount++
		case ClassPartial:
			report.PartialCount++
		case ClassExact:
			report.ExactCount++
		}
		if result.Classification != ClassExact {
			report.Failures = append(report.Failures, result)
		}

		if result.IntentMatch {
			intentOK++
		}
		if result.StagesMatch {
			stagesOK++
		}
		if result.TimeRangeMatch {
			rangeOK++
		}
		totalConfidence += result.Confidence

		category := item.Category
		if category == "" {
			category = "uncategorized"
		}
		score, ok := report.ByCategory[category]
		if !ok {
			score = &CategoryScore{}
			report.ByCategory[category] = score
		}
		score.Total++
		if result.Classification == ClassExact {
			score.Correct++
		}
	}

	if report.TotalQueries > 0 {
		n := float64(report.TotalQueries)
		report.IntentAccuracy = float64(intentOK) / n * 100
		report.StageAccuracy = float64(stagesOK) / n * 100
		report.TimeRangeAccuracy = float64(rangeOK) / n * 100
		report.ExactPercentage = float64(report.ExactCount) / n * 100
		report.AvgConfidence = totalConfidence / n
	}

	logger.Info("Planner evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("wrong_intent", report.WrongIntentCount),
		zap.Int("partial", report.PartialCount),
		zap.Int("exact", report.ExactCount),
	)

	return report, nil
}

func LoadDatasetFromJSON(data []byte) (*EvaluationDataset, error) {
	var dataset EvaluationDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	if len(dataset.Items) == 0 {
		return nil, fmt.Errorf("dataset has no items")
	}
	return &dataset, nil
}

func GenerateReport(report *EvaluationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, `
Planner Evaluation Report
=========================

Total Queries: %d

Classifications:
- Wrong intent: %d
- Partial: %d
- Exact: %d (%.1f%%)

Accuracy:
- Intent: %.1f%%
- Stages: %.1f%%
- Time range: %.1f%%

Average Confidence: %.2f
`,
		report.TotalQueries,
		report.WrongIntentCount,
		report.PartialCount,
		report.ExactCount, report.ExactPercentage,
		report.IntentAccuracy,
		report.StageAccuracy,
		report.TimeRangeAccuracy,
		report.AvgConfidence,
	)

	categories := make([]string, 0, len(report.ByCategory))
	for name := range report.ByCategory {
		categories = append(categories, name)
	}
	sort.Strings(categories)
	if len(categories) > 0 {
		b.WriteString("\nBy Category:\n")
		for _, name := range categories {
			score := report.ByCategory[name]
			fmt.Fprintf(&b, "- %s: %d/%d\n", name, score.Correct, score.Total)
		}
	}

	if len(report.Failures) > 0 {
		b.WriteString("\nFailures:\n")
		for _, f := range report.Failures {
			fmt.Fprintf(&b, "- [%s] %q: %s\n", f.Classification, f.Query, f.Detail)
		}
	}
	return b.String()
}

func sameStages(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if !strings.EqualFold(want[i], got[i]) {
			return false
		}
	}
	return true
}

// boundMatches accepts a full instant or a bare YYYY-MM-DD date.
func boundMatches(want string, got *time.Time) bool {
	if got == nil {
		return false
	}
	if len(want) == len("2006-01-02") {
		return got.Format("2006-01-02") == want
	}
	parsed, err := time.Parse(time.RFC3339, want)
	if err != nil {
		return false
	}
	return parsed.Equal(*got)
}

func formatBound(t *time.Time) string {
	if t == nil {
		return "open"
	}
	return t.Format(timerange.InstantLayout)
}
