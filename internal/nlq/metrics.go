package nlq

// MetricIDs maps an intent and its stages to canonical metric identifiers.
func MetricIDs(intent Intent, stages []Stage) []string {
	switch intent {
	case IntentFunnelSnapshot:
		return stageMetrics(CanonicalStages)
	case IntentConversion, IntentDropoff, IntentVelocity, IntentAging, IntentTrend:
		return []string{intentMetricIDs[intent]}
	default:
		// Stages stay as detected; only the metric falls back to leads.
		if len(stages) == 0 {
			return []string{stageMetricIDs[StageLead]}
		}
		return stageMetrics(stages)
	}
}

func stageMetrics(stages []Stage) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, stageMetricIDs[s])
	}
	return out
}
