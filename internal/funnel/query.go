package funnel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParameterizedQuery is SQL with positional placeholders and their values.
// Params[i] binds $(i+1).
type ParameterizedQuery struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

// DateRange holds inclusive IST calendar dates in YYYY-MM-DD form.
type DateRange struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

var ErrUnknownMetric = errors.New("unknown funnel metric")

type UnknownMetricError struct {
	Key string
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf("Unknown funnel metric: %q", e.Key)
}

func (e *UnknownMetricError) Is(target error) bool {
	return target == ErrUnknownMetric
}

const (
	// istShift converts stored timezone-less UTC timestamps to IST before truncating to a date.
	istShift = "interval '330 minutes'"

	testNamePattern = "%test%"
	excludedSource  = "DnB"
)

// excludedSlugs are internal tracking records that never count toward the funnel.
var excludedSlugs = []string{
	"internal-test",
	"qa-automation",
	"dummy-opportunity",
	"sales-training",
}

// paramLayout is the shared positional parameter list for one request:
//
//	$1 start, $2 end, location patterns, test-name pattern, slugs, excluded source.
//
// Every metric references a prefix of it, so the longest metric list is the
// list for the whole union.
type paramLayout struct {
	values    []any
	locations []string
	testName  string
	slugs     []string
	source    string
}

func newParamLayout(r DateRange, locations []string) paramLayout {
	var l paramLayout
	next := func(v any) string {
		l.values = append(l.values, v)
		return "$" + strconv.Itoa(len(l.values))
	}
	next(r.Start)
	next(r.End)
	for _, loc := range cleanLocations(locations) {
		l.locations = append(l.locations, next("%"+escapeLike(loc)+"%"))
	}
	l.testName = next(testNamePattern)
	for _, s := range excludedSlugs {
		l.slugs = append(l.slugs, next(s))
	}
	l.source = next(excludedSource)
	return l
}

// params returns the values a metric needs. Only metrics that exclude the
// source reference the final slot.
func (l paramLayout) params(withSource bool) []any {
	n := len(l.values)
	if !withSource {
		n--
	}
	out := make([]any, n)
	copy(out, l.values[:n])
	return out
}

func (l paramLayout) dateFilter(col string) string {
	return fmt.Sprintf("date(%s + %s) BETWEEN $1 AND $2", col, istShift)
}

func (l paramLayout) locationFilter(col string) string {
	if len(l.locations) == 0 {
		return ""
	}
	parts := make([]string, len(l.locations))
	for i, p := range l.locations {
		parts[i] = fmt.Sprintf("%s ILIKE %s", col, p)
	}
	return "\n    AND (" + strings.Join(parts, " OR ") + ")"
}

// exclusions filters test records and internal slugs, plus the excluded
// source when withSource is set.
func (l paramLayout) exclusions(alias string, withSource bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n    AND COALESCE(%s.name, '') NOT ILIKE %s", alias, l.testName)
	fmt.Fprintf(&b, "\n    AND COALESCE(%s.slug, '') NOT IN (%s)", alias, strings.Join(l.slugs, ", "))
	if withSource {
		fmt.Fprintf(&b, "\n    AND COALESCE(%s.source, '') <> %s", alias, l.source)
	}
	return b.String()
}

func cleanLocations(locations []string) []string {
	out := make([]string, 0, len(locations))
	for _, loc := range locations {
		if loc = strings.TrimSpace(loc); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// unionAll joins sub-queries and returns the longest parameter list.
func unionAll(queries []ParameterizedQuery) (string, []any) {
	parts := make([]string, len(queries))
	var params []any
	for i, q := range queries {
		parts[i] = q.SQL
		if len(q.Params) > len(params) {
			params = q.Params
		}
	}
	return strings.Join(parts, "\nUNION ALL\n"), params
}
