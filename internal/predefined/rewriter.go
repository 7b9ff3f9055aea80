package predefined

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/funnel-agent/backend/internal/timerange"
)

const dateLayout = "2006-01-02"

var (
	nowCallRe          = regexp.MustCompile(`(?i)\bnow\s*\(\s*\)`)
	currentTimestampRe = regexp.MustCompile(`(?i)\bcurrent_timestamp\b(?:\s*\(\s*\d*\s*\))?`)
	currentDateRe      = regexp.MustCompile(`(?i)\bcurrent_date\b`)
	strictDateRe       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// dateRole is a semantic slot in a catalog query. Each role has the literal
// the FY25-26 catalog hardcodes and an optional {{TAG}} form.
type dateRole struct {
	tag     string
	literal string
	value   func(start, end time.Time) time.Time
}

var dateRoles = []dateRole{
	{"FY_START", "2025-04-01", func(start, _ time.Time) time.Time { return start }},
	{"FY_END", "2026-03-31", func(start, _ time.Time) time.Time {
		return time.Date(start.Year()+1, time.March, 31, 0, 0, 0, 0, time.UTC)
	}},
	{"FY_END_MONTH_START", "2026-03-01", func(start, _ time.Time) time.Time {
		return time.Date(start.Year()+1, time.March, 1, 0, 0, 0, 0, time.UTC)
	}},
	{"PREV_FY_START", "2024-04-01", func(start, _ time.Time) time.Time { return shiftYears(start, -1) }},
	{"PREV_FY_END", "2025-03-31", func(_, end time.Time) time.Time { return shiftYears(end, -1) }},
	{"FY_START_2Y_AGO", "2023-04-01", func(start, _ time.Time) time.Time { return shiftYears(start, -2) }},
	{"FY_START_3Y_AGO", "2022-04-01", func(start, _ time.Time) time.Time { return shiftYears(start, -3) }},
}

// ValidateDate accepts only real calendar dates in YYYY-MM-DD form.
func ValidateDate(s string) error {
	if !strictDateRe.MatchString(s) {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	return nil
}

// ReplaceDatesInSQL anchors a catalog query to [startDate, endDate]. Known
// fiscal-year literals and {{TAG}} placeholders are substituted in one pass,
// then NOW(), CURRENT_TIMESTAMP and CURRENT_DATE are pinned to endDate.
// Unknown literals are left alone. Invalid dates leave sql unchanged.
func ReplaceDatesInSQL(sql, startDate, endDate string) string {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return sql
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return sql
	}

	pairs := make([]string, 0, 4*len(dateRoles)+4)
	pairs = append(pairs, "{{START_DATE}}", startDate, "{{END_DATE}}", endDate)
	for _, r := range dateRoles {
		v := r.value(start, end).Format(dateLayout)
		pairs = append(pairs, "'"+r.literal+"'", "'"+v+"'", "{{"+r.tag+"}}", v)
	}
	out := strings.NewReplacer(pairs...).Replace(sql)

	anchor := "TIMESTAMP '" + endDate + " 00:00:00'"
	out = nowCallRe.ReplaceAllLiteralString(out, anchor)
	out = currentTimestampRe.ReplaceAllLiteralString(out, anchor)
	out = currentDateRe.ReplaceAllLiteralString(out, "DATE '"+endDate+"'")
	return out
}

// ComputeDefaultDates returns today in IST as the end date and the start of
// the current fiscal year as the start date.
func ComputeDefaultDates(now time.Time) (startDate, endDate string) {
	ist := timerange.LoadLocation(timerange.DefaultTimezone)
	today := now.In(ist)

	fyStart := time.Month(timerange.DefaultFiscalYearStartMonth)
	year := today.Year()
	if today.Month() < fyStart {
		year--
	}
	return time.Date(year, fyStart, 1, 0, 0, 0, 0, ist).Format(dateLayout), today.Format(dateLayout)
}

// shiftYears moves t by whole calendar years, clamping Feb 29 to Feb 28.
func shiftYears(t time.Time, years int) time.Time {
	y, m, d := t.Date()
	shifted := time.Date(y+years, m, d, 0, 0, 0, 0, t.Location())
	if shifted.Month() != m {
		shifted = time.Date(y+years, m+1, 0, 0, 0, 0, 0, t.Location())
	}
	return shifted
}
