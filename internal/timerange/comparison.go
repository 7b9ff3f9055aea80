package timerange

import "time"

// ResolveComparison builds the two adjacent windows for a comparison type.
// The base window is the to-date window of the type's period; the compare
// window starts one period earlier and spans the same duration, ending no
// later than one second before the base start.
func ResolveComparison(kind ComparisonType, cfg Config) TimeRange {
	return newResolver(cfg).comparison(kind)
}

func (r resolver) comparison(kind ComparisonType) TimeRange {
	rule, ok := comparisonRules[kind]
	if !ok {
		rule = comparisonRules[ComparisonMoM]
		kind = ComparisonMoM
	}

	base := r.toDate(rule.basePeriod)
	length := base.End.Sub(*base.Start)

	compareStart := base.Start.AddDate(rule.years, rule.months, rule.days)
	compareEnd := compareStart.Add(length)
	if !compareEnd.Before(*base.Start) {
		compareEnd = base.Start.Add(-time.Second)
	}
	compare := r.bounded(ModeExplicit, base.Granularity, compareStart, compareEnd)

	out := r.base(ModeComparison, base.Granularity)
	out.Start = base.Start
	out.End = base.End
	out.Comparison = &Comparison{
		Type:         kind,
		BaseRange:    base,
		CompareRange: compare,
	}
	return out
}

// ParseComparisonType accepts either the abbreviation ("wow") or the
// canonical type name ("WoW").
func ParseComparisonType(s string) (ComparisonType, bool) {
	return comparisonFromPhrase(Normalize(s))
}
