package timerange

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

type span struct {
	start time.Time
	end   time.Time
}

var (
	isoInstantRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}t\d{2}:\d{2}(?::\d{2})?(?:z|[+-]\d{2}:?\d{2})?$`)
	isoDateRe    = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	slashDateRe  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	dayMonthRe   = regexp.MustCompile(`^(\d{1,2})` + ordinalSuffix + `\s+(` + monthPattern + `),?\s+(\d{4})$`)
	monthDayRe   = regexp.MustCompile(`^(` + monthPattern + `)\s+(\d{1,2})` + ordinalSuffix + `,?\s+(\d{4})$`)
	monthYearRe  = regexp.MustCompile(`^(` + monthPattern + `)(?:\s+(\d{4}))?$`)
)

var instantLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseDate reads a single date token (ISO date or instant, DD/MM/YYYY,
// "1 April 2025", "April 1, 2025", "april 2025") and returns the first
// instant it denotes in cfg's timezone.
func ParseDate(token string, cfg Config) (time.Time, bool) {
	r := newResolver(cfg)
	s, ok := parseSpan(Normalize(token), r.loc, r.now)
	return s.start, ok
}

// parseSpan returns the span a date token covers: a whole day for dates, a
// whole month for month names, a single instant for ISO timestamps.
func parseSpan(token string, loc *time.Location, now time.Time) (span, bool) {
	token = strings.TrimSpace(token)

	if isoInstantRe.MatchString(token) {
		upper := strings.ToUpper(token)
		for _, layout := range instantLayouts {
			if t, err := time.ParseInLocation(layout, upper, loc); err == nil {
				t = t.In(loc)
				return span{start: t, end: t}, true
			}
		}
		return span{}, false
	}

	if m := isoDateRe.FindStringSubmatch(token); m != nil {
		return daySpan(atoi(m[1]), atoi(m[2]), atoi(m[3]), loc)
	}
	if m := slashDateRe.FindStringSubmatch(token); m != nil {
		return daySpan(atoi(m[3]), atoi(m[2]), atoi(m[1]), loc)
	}
	if m := dayMonthRe.FindStringSubmatch(token); m != nil {
		return daySpan(atoi(m[3]), int(months[m[2]]), atoi(m[1]), loc)
	}
	if m := monthDayRe.FindStringSubmatch(token); m != nil {
		return daySpan(atoi(m[3]), int(months[m[1]]), atoi(m[2]), loc)
	}
	if m := monthYearRe.FindStringSubmatch(token); m != nil {
		start := monthStart(months[m[1]], m[2], loc, now)
		return span{start: start, end: start.AddDate(0, 1, 0).Add(-time.Second)}, true
	}
	return span{}, false
}

func daySpan(year, month, day int, loc *time.Location) (span, bool) {
	if month < 1 || month > 12 || day < 1 {
		return span{}, false
	}
	start := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	// time.Date normalizes overflow (31/02 becomes 03/03); reject it.
	if start.Day() != day {
		return span{}, false
	}
	return span{start: start, end: start.AddDate(0, 0, 1).Add(-time.Second)}, true
}

// monthStart picks the named month in yearText, or when no year is given
// the most recent occurrence that has already started.
func monthStart(mon time.Month, yearText string, loc *time.Location, now time.Time) time.Time {
	if yearText != "" {
		return time.Date(atoi(yearText), mon, 1, 0, 0, 0, 0, loc)
	}
	start := time.Date(now.Year(), mon, 1, 0, 0, 0, 0, loc)
	if start.After(now) {
		start = start.AddDate(-1, 0, 0)
	}
	return start
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
