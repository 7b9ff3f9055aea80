package timerange

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

var (
	hyphenWords = regexp.MustCompile(`([a-z])-([a-z])`)
	spaces      = regexp.MustCompile(`\s+`)
	offsetZone  = regexp.MustCompile(`^(?:utc|gmt)?\s*([+-])(\d{1,2})(?::?(\d{2}))?$`)
)

// Normalize lowercases and trims an expression, folds hyphenated words
// ("month-to-date") and collapses whitespace.
func Normalize(expression string) string {
	s := strings.ToLower(strings.TrimSpace(expression))
	s = hyphenWords.ReplaceAllString(s, "$1 $2")
	return spaces.ReplaceAllString(s, " ")
}

// LoadLocation accepts an IANA name or a fixed offset such as "+05:30" or
// "UTC+5:30". Anything unrecognized falls back to IST.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
		if m := offsetZone.FindStringSubmatch(strings.ToLower(name)); m != nil {
			hours, _ := strconv.Atoi(m[2])
			minutes, _ := strconv.Atoi(m[3])
			offset := hours*3600 + minutes*60
			if m[1] == "-" {
				offset = -offset
			}
			return time.FixedZone(name, offset)
		}
	}
	return time.FixedZone("IST", 5*3600+30*60)
}

type resolver struct {
	cfg Config
	loc *time.Location
	now time.Time
}

func newResolver(cfg Config) resolver {
	cfg = cfg.Merge()
	loc := LoadLocation(cfg.Timezone)
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	return resolver{cfg: cfg, loc: loc, now: now.In(loc)}
}

// Resolve maps a natural-language or abbreviated time expression to a
// TimeRange. It never fails: unrecognized input resolves to month-to-date.
func Resolve(expression string, cfg Config) TimeRange {
	r := newResolver(cfg)
	expr := Normalize(expression)
	if expr != "" {
		for _, p := range Patterns {
			m := p.Re.FindStringSubmatch(expr)
			if m == nil {
				continue
			}
			if tr, ok := r.dispatch(p.Name, m); ok {
				return tr
			}
		}
	}
	return r.toDate(periodMonth)
}

func (r resolver) dispatch(name string, m []string) (TimeRange, bool) {
	switch name {
	case "explicit_range":
		return r.explicit(m[1], m[2])
	case "since":
		return r.since(m[1], m[2])
	case "until":
		return r.until(m[1], m[2])
	case "comparison_abbrev", "comparison_phrase":
		kind, ok := comparisonFromPhrase(m[0])
		if !ok {
			return TimeRange{}, false
		}
		return r.comparison(kind), true
	case "to_date_abbrev", "to_date_phrase":
		p, ok := toDateFromPhrase(m[0])
		if !ok {
			return TimeRange{}, false
		}
		return r.toDate(p), true
	case "rolling_abbrev":
		n, _ := strconv.Atoi(m[1])
		return r.rolling(n, rollingUnits[m[2]])
	case "rolling_count":
		n, _ := strconv.Atoi(m[1])
		return r.rolling(n, rollingUnits[m[2]])
	case "rolling_single":
		return r.rolling(1, rollingUnits[m[1]])
	case "rolling_malformed":
		return r.rolling(malformedRollingDays, GranularityDay)
	case "calendar_day":
		if m[1] == "today" {
			return r.calendar(periodDay, 0), true
		}
		return r.calendar(periodDay, -1), true
	case "calendar_relative":
		unit := spaces.ReplaceAllString(m[2], " ")
		return r.calendar(calendarUnits[unit], relativeOffsets[m[1]]), true
	case "calendar_quarter":
		return r.quarter(m)
	case "calendar_month":
		return r.month(m)
	}
	return TimeRange{}, false
}

func comparisonFromPhrase(phrase string) (ComparisonType, bool) {
	phrase = spaces.ReplaceAllString(phrase, " ")
	for _, e := range comparisonTable {
		if phrase == e.Short || phrase == e.Phrase {
			return e.kind, true
		}
	}
	// "month over month" style phrases with mismatched halves still use the left unit.
	if i := strings.Index(phrase, " over "); i > 0 {
		switch phrase[:i] {
		case "day":
			return ComparisonDoD, true
		case "week":
			return ComparisonWoW, true
		case "month":
			return ComparisonMoM, true
		case "quarter":
			return ComparisonQoQ, true
		case "year":
			return ComparisonYoY, true
		}
	}
	return "", false
}

func toDateFromPhrase(phrase string) (period, bool) {
	phrase = strings.Replace(spaces.ReplaceAllString(phrase, " "), " till ", " to ", 1)
	for _, e := range toDateTable {
		if phrase == e.Short || phrase == e.Phrase {
			return e.period, true
		}
	}
	return 0, false
}

func (r resolver) base(mode Mode, g Granularity) TimeRange {
	return TimeRange{
		Mode:                 mode,
		Timezone:             r.cfg.Timezone,
		Granularity:          g,
		CalendarWeekStart:    r.cfg.WeekStart,
		FiscalYearStartMonth: r.cfg.Fiscal.FiscalYearStartMonth,
	}
}

func (r resolver) bounded(mode Mode, g Granularity, start, end time.Time) TimeRange {
	if end.Before(start) {
		start, end = end, start
	}
	tr := r.base(mode, g)
	tr.Start = &start
	tr.End = &end
	return tr
}

func (r resolver) toDate(p period) TimeRange {
	return r.bounded(ModeToDate, p.granularity(), r.periodStart(r.now, p), r.now)
}

func (r resolver) calendar(p period, offset int) TimeRange {
	current := r.periodStart(r.now, p)
	if offset == 0 {
		return r.bounded(ModeCalendar, p.granularity(), current, r.now)
	}
	start := addPeriods(current, p, offset)
	end := addPeriods(start, p, 1).Add(-time.Second)
	return r.bounded(ModeCalendar, p.granularity(), start, end)
}

func (r resolver) rolling(n int, g Granularity) (TimeRange, bool) {
	if g == "" {
		return TimeRange{}, false
	}
	if n <= 0 {
		n = malformedRollingDays
		g = GranularityDay
	}
	var start time.Time
	switch g {
	case GranularityMinute:
		start = r.now.Add(-time.Duration(n) * time.Minute)
	case GranularityHour:
		start = r.now.Add(-time.Duration(n) * time.Hour)
	case GranularityDay:
		start = r.now.AddDate(0, 0, -n)
	case GranularityWeek:
		start = r.now.AddDate(0, 0, -7*n)
	case GranularityMonth:
		start = shiftMonths(r.now, -n)
	case GranularityQuarter:
		start = shiftMonths(r.now, -3*n)
	case GranularityYear:
		start = shiftMonths(r.now, -12*n)
	}
	return r.bounded(ModeRolling, g, start, r.now), true
}

// shiftMonths moves t by n calendar months, clamping the day to the end of
// the target month so Mar 31 minus one month is Feb 28, not Mar 3.
func shiftMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	if last := time.Date(y, m+time.Month(n)+1, 0, 0, 0, 0, 0, t.Location()).Day(); d > last {
		d = last
	}
	return time.Date(y, m+time.Month(n), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func (r resolver) explicit(from, to string) (TimeRange, bool) {
	a, ok := parseSpan(from, r.loc, r.now)
	if !ok {
		return TimeRange{}, false
	}
	b, ok := parseSpan(to, r.loc, r.now)
	if !ok {
		return TimeRange{}, false
	}
	return r.bounded(ModeExplicit, GranularityDay, a.start, b.end), true
}

func (r resolver) since(keyword, token string) (TimeRange, bool) {
	s, ok := parseSpan(token, r.loc, r.now)
	if !ok {
		return TimeRange{}, false
	}
	start := s.start
	if keyword == "after" {
		start = s.end.Add(time.Second)
	}
	tr := r.base(ModeSince, GranularityDay)
	tr.Start = &start
	return tr, true
}

func (r resolver) until(keyword, token string) (TimeRange, bool) {
	s, ok := parseSpan(token, r.loc, r.now)
	if !ok {
		return TimeRange{}, false
	}
	end := s.end
	if keyword == "before" {
		end = s.start.Add(-time.Second)
	}
	tr := r.base(ModeUntil, GranularityDay)
	tr.End = &end
	return tr, true
}

// clampToNow ends a period that contains now at now, matching "this <period>".
func (r resolver) clampToNow(start, end time.Time) (time.Time, time.Time) {
	if !r.now.Before(start) && r.now.Before(end) {
		end = r.now
	}
	return start, end
}

func (r resolver) quarter(m []string) (TimeRange, bool) {
	q, _ := strconv.Atoi(m[1])
	var start time.Time
	var p period
	switch {
	case m[2] == "fy":
		fy, _ := strconv.Atoi(m[3])
		if fy < 100 {
			fy += 2000
		}
		p = periodFiscalQuarter
		start = r.fiscalYearStartFor(fy).AddDate(0, 3*(q-1), 0)
	case m[4] != "":
		year, _ := strconv.Atoi(m[4])
		p = periodQuarter
		start = time.Date(year, quarterStartMonths[q], 1, 0, 0, 0, 0, r.loc)
	default:
		p = periodQuarter
		start = time.Date(r.now.Year(), quarterStartMonths[q], 1, 0, 0, 0, 0, r.loc)
		if start.After(r.now) {
			start = start.AddDate(-1, 0, 0)
		}
	}
	end := addPeriods(start, p, 1).Add(-time.Second)
	start, end = r.clampToNow(start, end)
	return r.bounded(ModeCalendar, GranularityQuarter, start, end), true
}

func (r resolver) month(m []string) (TimeRange, bool) {
	name, yearText := m[1], m[2]
	if name == "" {
		name, yearText = m[3], m[4]
	}
	mon, ok := months[name]
	if !ok {
		return TimeRange{}, false
	}
	start := monthStart(mon, yearText, r.loc, r.now)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	start, end = r.clampToNow(start, end)
	return r.bounded(ModeCalendar, GranularityMonth, start, end), true
}

// fiscalYearStartFor returns the first instant of the fiscal year labelled
// by its ending calendar year (FY26 ends in 2026).
func (r resolver) fiscalYearStartFor(fy int) time.Time {
	fs := r.cfg.Fiscal.FiscalYearStartMonth
	year := fy
	if fs > 1 {
		year = fy - 1
	}
	return time.Date(year, time.Month(fs), 1, 0, 0, 0, 0, r.loc)
}

func (r resolver) periodStart(t time.Time, p period) time.Time {
	y, m, d := t.Date()
	switch p {
	case periodDay:
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	case periodWeek:
		first := time.Monday
		if r.cfg.WeekStart == WeekStartSunday {
			first = time.Sunday
		}
		back := (int(t.Weekday()) - int(first) + 7) % 7
		return time.Date(y, m, d-back, 0, 0, 0, 0, t.Location())
	case periodMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	case periodQuarter:
		qm := time.Month((int(m)-1)/3*3 + 1)
		return time.Date(y, qm, 1, 0, 0, 0, 0, t.Location())
	case periodFiscalQuarter:
		fs := r.cfg.Fiscal.FiscalYearStartMonth
		back := ((int(m) - fs + 12) % 12) % 3
		return time.Date(y, m-time.Month(back), 1, 0, 0, 0, 0, t.Location())
	case periodYear:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, t.Location())
	default:
		fs := time.Month(r.cfg.Fiscal.FiscalYearStartMonth)
		if m < fs {
			y--
		}
		return time.Date(y, fs, 1, 0, 0, 0, 0, t.Location())
	}
}

func addPeriods(t time.Time, p period, n int) time.Time {
	switch p {
	case periodDay:
		return t.AddDate(0, 0, n)
	case periodWeek:
		return t.AddDate(0, 0, 7*n)
	case periodMonth:
		return t.AddDate(0, n, 0)
	case periodQuarter, periodFiscalQuarter:
		return t.AddDate(0, 3*n, 0)
	default:
		return t.AddDate(n, 0, 0)
	}
}
