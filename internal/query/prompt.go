package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/funnel-agent/backend/internal/nlq"
	"github.com/funnel-agent/backend/internal/timerange"
	"github.com/funnel-agent/backend/internal/tools"
)

const basePrompt = `You are a sales analytics assistant for a luxury hospitality and real-estate group.
Business lines: Isprava (villa development sales), Lohono Stays (villa rentals), The Chapter (branded residences) and Solene.

Rules:
1. Numbers must come from tool results. Never estimate or invent figures.
2. Use %s or %s for funnel counts and %s for saved reports.
3. Resolve relative dates with %s instead of computing them yourself.
4. State the exact date window you used in every answer.
5. When a tool returns an error, fix the arguments and retry once, or explain what is missing.
6. Keep answers short: a sentence of context, then the figures.`

// systemPrompt grounds the model in the business calendar and hands it the
// deterministic plan for the current question.
func (e *Engine) systemPrompt(plan nlq.QueryPlan) (string, error) {
	cfg := e.cfg.TimeRange.Merge()
	now := e.now().In(timerange.LoadLocation(cfg.Timezone))

	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode query plan: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, basePrompt, tools.GetSalesFunnel, tools.GetChapterFunnel, tools.RunPredefinedQuery, tools.ResolveTimeRange)
	fmt.Fprintf(&b, "\n\nCurrent time: %s (%s). Fiscal year starts in month %d; weeks start on %s.",
		timerange.FormatInstant(now), cfg.Timezone, cfg.Fiscal.FiscalYearStartMonth, cfg.WeekStart)
	fmt.Fprintf(&b, "\n\nParsed plan for the latest question:\n%s", planJSON)
	if plan.OutputMeta.Disclaimer != "" {
		fmt.Fprintf(&b, "\n\nScope: %s Mention this when the answer covers Isprava only.", plan.OutputMeta.Disclaimer)
	}
	return b.String(), nil
}
