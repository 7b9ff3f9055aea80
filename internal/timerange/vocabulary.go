package timerange

import (
	"regexp"
	"time"
)

type period int

const (
	periodDay period = iota
	periodWeek
	periodMonth
	periodQuarter
	periodYear
	periodFiscalQuarter
	periodFiscalYear
)

func (p period) granularity() Granularity {
	switch p {
	case periodDay:
		return GranularityDay
	case periodWeek:
		return GranularityWeek
	case periodMonth:
		return GranularityMonth
	case periodQuarter, periodFiscalQuarter:
		return GranularityQuarter
	default:
		return GranularityYear
	}
}

// Abbreviation pairs a short form with the phrase it expands to.
type Abbreviation struct {
	Short  string
	Phrase string
}

type toDateEntry struct {
	Abbreviation
	period period
}

var toDateTable = []toDateEntry{
	{Abbreviation{"wtd", "week to date"}, periodWeek},
	{Abbreviation{"mtd", "month to date"}, periodMonth},
	{Abbreviation{"qtd", "quarter to date"}, periodQuarter},
	{Abbreviation{"ytd", "year to date"}, periodYear},
	{Abbreviation{"fytd", "fiscal year to date"}, periodFiscalYear},
	{Abbreviation{"fqtd", "fiscal quarter to date"}, periodFiscalQuarter},
	{Abbreviation{"ptd", "period to date"}, periodMonth},
}

type rollingEntry struct {
	Abbreviation
	n    int
	unit string
}

var rollingTable = []rollingEntry{
	{Abbreviation{"l7d", "last 7 days"}, 7, "day"},
	{Abbreviation{"l30d", "last 30 days"}, 30, "day"},
	{Abbreviation{"l90d", "last 90 days"}, 90, "day"},
	{Abbreviation{"l4w", "last 4 weeks"}, 4, "week"},
	{Abbreviation{"l12m", "last 12 months"}, 12, "month"},
}

type comparisonEntry struct {
	Abbreviation
	kind ComparisonType
}

var comparisonTable = []comparisonEntry{
	{Abbreviation{"dod", "day over day"}, ComparisonDoD},
	{Abbreviation{"wow", "week over week"}, ComparisonWoW},
	{Abbreviation{"mom", "month over month"}, ComparisonMoM},
	{Abbreviation{"qoq", "quarter over quarter"}, ComparisonQoQ},
	{Abbreviation{"yoy", "year over year"}, ComparisonYoY},
	{Abbreviation{"sply", "same period last year"}, ComparisonSPLY},
}

// comparisonRule describes how a comparison derives its two windows: the
// base is the to-date window of basePeriod, the compare window starts at
// the base start shifted by (years, months, days).
type comparisonRule struct {
	basePeriod          period
	years, months, days int
}

var comparisonRules = map[ComparisonType]comparisonRule{
	ComparisonDoD:  {basePeriod: periodDay, days: -1},
	ComparisonWoW:  {basePeriod: periodWeek, days: -7},
	ComparisonMoM:  {basePeriod: periodMonth, months: -1},
	ComparisonQoQ:  {basePeriod: periodQuarter, months: -3},
	ComparisonYoY:  {basePeriod: periodYear, years: -1},
	ComparisonSPLY: {basePeriod: periodMonth, years: -1},
}

// Abbreviations lists every short form the resolver understands with its expansion.
func Abbreviations() []Abbreviation {
	out := make([]Abbreviation, 0, len(toDateTable)+len(rollingTable)+len(comparisonTable))
	for _, e := range toDateTable {
		out = append(out, e.Abbreviation)
	}
	for _, e := range rollingTable {
		out = append(out, e.Abbreviation)
	}
	for _, e := range comparisonTable {
		out = append(out, e.Abbreviation)
	}
	return out
}

// ComparisonExpression returns the abbreviation that resolves to t.
func ComparisonExpression(t ComparisonType) string {
	for _, e := range comparisonTable {
		if e.kind == t {
			return e.Short
		}
	}
	return ""
}

var calendarUnits = map[string]period{
	"day":            periodDay,
	"week":           periodWeek,
	"month":          periodMonth,
	"quarter":        periodQuarter,
	"year":           periodYear,
	"fy":             periodFiscalYear,
	"fiscal year":    periodFiscalYear,
	"fiscal quarter": periodFiscalQuarter,
}

var relativeOffsets = map[string]int{
	"this":     0,
	"current":  0,
	"last":     -1,
	"previous": -1,
	"next":     1,
}

var rollingUnits = map[string]Granularity{
	"min":     GranularityMinute,
	"minute":  GranularityMinute,
	"hr":      GranularityHour,
	"hour":    GranularityHour,
	"day":     GranularityDay,
	"d":       GranularityDay,
	"week":    GranularityWeek,
	"w":       GranularityWeek,
	"month":   GranularityMonth,
	"m":       GranularityMonth,
	"quarter": GranularityQuarter,
	"q":       GranularityQuarter,
	"year":    GranularityYear,
	"y":       GranularityYear,
}

var months = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// quarterStartMonths holds the calendar quarter boundaries.
var quarterStartMonths = map[int]time.Month{
	1: time.January,
	2: time.April,
	3: time.July,
	4: time.October,
}

// malformedRollingDays is the window used for "last days" style phrases with no count.
const malformedRollingDays = 30

const (
	monthPattern     = `(?:january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)`
	monthFullNoMay   = `(?:january|february|march|april|june|july|august|september|october|november|december)`
	unitPattern      = `(?:minute|min|hour|hr|day|week|month|quarter|year)`
	ordinalSuffix    = `(?:st|nd|rd|th)?`
	isoDatePattern   = `\d{4}-\d{2}-\d{2}(?:t\d{2}:\d{2}(?::\d{2})?(?:z|[+-]\d{2}:?\d{2})?)?`
	slashDatePattern = `\d{1,2}/\d{1,2}/\d{4}`
)

// DatePattern matches a single date token inside a normalized expression.
const DatePattern = `(?:` + isoDatePattern +
	`|` + slashDatePattern +
	`|\d{1,2}` + ordinalSuffix + `\s+` + monthPattern + `,?\s+\d{4}` +
	`|` + monthPattern + `\s+\d{1,2}` + ordinalSuffix + `,?\s+\d{4}` +
	`|` + monthPattern + `(?:\s+\d{4})?` +
	`)\b`

// Pattern is one entry of the expression vocabulary. Patterns are tried in
// slice order by the resolver; the tokenizer uses all of them to find
// time-expression substrings.
type Pattern struct {
	Name string
	Mode Mode
	Re   *regexp.Regexp
}

var Patterns = []Pattern{
	{"explicit_range", ModeExplicit, regexp.MustCompile(`\b(?:between|from)\s+(` + DatePattern + `)\s+(?:and|to|till|until|-)\s+(` + DatePattern + `)`)},
	{"since", ModeSince, regexp.MustCompile(`\b(since|after|starting)\s+(` + DatePattern + `)`)},
	{"until", ModeUntil, regexp.MustCompile(`\b(until|till|upto|up to|before)\s+(` + DatePattern + `)`)},
	{"comparison_abbrev", ModeComparison, regexp.MustCompile(`\b(dod|wow|mom|qoq|yoy|sply)\b`)},
	{"comparison_phrase", ModeComparison, regexp.MustCompile(`\b(day|week|month|quarter|year)\s+over\s+(day|week|month|quarter|year)\b|\bsame\s+period\s+last\s+year\b`)},
	{"to_date_abbrev", ModeToDate, regexp.MustCompile(`\b(fytd|fqtd|wtd|mtd|qtd|ytd|ptd)\b`)},
	{"to_date_phrase", ModeToDate, regexp.MustCompile(`\b(fiscal\s+year|fiscal\s+quarter|week|month|quarter|year|period)\s+(?:to|till)\s+date\b`)},
	{"rolling_abbrev", ModeRolling, regexp.MustCompile(`\bl(\d+)([dwmqy])\b`)},
	{"rolling_count", ModeRolling, regexp.MustCompile(`\b(?:last|past|trailing|previous)\s+(\d+)\s+(` + unitPattern + `)s?\b`)},
	{"rolling_single", ModeRolling, regexp.MustCompile(`\b(?:past|trailing)\s+(` + unitPattern + `)\b`)},
	{"rolling_malformed", ModeRolling, regexp.MustCompile(`\b(?:last|past|trailing|previous)\s+` + unitPattern + `s\b`)},
	{"calendar_day", ModeCalendar, regexp.MustCompile(`\b(today|yesterday)\b`)},
	{"calendar_relative", ModeCalendar, regexp.MustCompile(`\b(this|current|last|previous|next)\s+(fiscal\s+year|fiscal\s+quarter|fy|day|week|month|quarter|year)\b`)},
	{"calendar_quarter", ModeCalendar, regexp.MustCompile(`\bq([1-4])(?:\s*(fy)\s*'?(\d{4}|\d{2})|\s+(\d{4}))?\b`)},
	{"calendar_month", ModeCalendar, regexp.MustCompile(`\b(` + monthFullNoMay + `)(?:\s+(\d{4}))?\b|\b(may|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\s+(\d{4})\b`)},
}
