package timerange

import (
	"encoding/json"
	"time"
)

type Mode string

const (
	ModeCalendar   Mode = "calendar"
	ModeRolling    Mode = "rolling"
	ModeExplicit   Mode = "explicit"
	ModeToDate     Mode = "to_date"
	ModeSince      Mode = "since"
	ModeUntil      Mode = "until"
	ModeComparison Mode = "comparison"
)

type Granularity string

const (
	GranularityMinute  Granularity = "minute"
	GranularityHour    Granularity = "hour"
	GranularityDay     Granularity = "day"
	GranularityWeek    Granularity = "week"
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
	GranularityYear    Granularity = "year"
)

type WeekStart string

const (
	WeekStartMonday WeekStart = "monday"
	WeekStartSunday WeekStart = "sunday"
)

type ComparisonType string

const (
	ComparisonDoD  ComparisonType = "DoD"
	ComparisonWoW  ComparisonType = "WoW"
	ComparisonMoM  ComparisonType = "MoM"
	ComparisonQoQ  ComparisonType = "QoQ"
	ComparisonYoY  ComparisonType = "YoY"
	ComparisonSPLY ComparisonType = "SPLY"
)

// InstantLayout always renders a numeric offset, never "Z".
const InstantLayout = "2006-01-02T15:04:05-07:00"

// TimeRange is a resolved window. A nil Start or End is an open bound.
type TimeRange struct {
	Mode                 Mode
	Start                *time.Time
	End                  *time.Time
	Timezone             string
	Granularity          Granularity
	CalendarWeekStart    WeekStart
	FiscalYearStartMonth int
	Comparison           *Comparison
}

type Comparison struct {
	Type         ComparisonType `json:"type"`
	BaseRange    TimeRange      `json:"base_range"`
	CompareRange TimeRange      `json:"compare_range"`
}

type FiscalConfig struct {
	FiscalYearStartMonth int `json:"fiscal_year_start_month"`
}

// Config holds partial overrides; zero fields take the defaults from DefaultConfig.
type Config struct {
	Timezone  string       `json:"timezone,omitempty"`
	Fiscal    FiscalConfig `json:"fiscal_config"`
	WeekStart WeekStart    `json:"week_start,omitempty"`
	// Now pins the clock. Zero means wall-clock time read once per call.
	Now time.Time `json:"now,omitempty"`
}

const (
	DefaultTimezone             = "Asia/Kolkata"
	DefaultFiscalYearStartMonth = 4
)

func DefaultConfig() Config {
	return Config{
		Timezone:  DefaultTimezone,
		Fiscal:    FiscalConfig{FiscalYearStartMonth: DefaultFiscalYearStartMonth},
		WeekStart: WeekStartMonday,
	}
}

// Merge returns c with every zero field filled from DefaultConfig.
func (c Config) Merge() Config {
	d := DefaultConfig()
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.Fiscal.FiscalYearStartMonth < 1 || c.Fiscal.FiscalYearStartMonth > 12 {
		c.Fiscal.FiscalYearStartMonth = d.Fiscal.FiscalYearStartMonth
	}
	if c.WeekStart != WeekStartSunday {
		c.WeekStart = WeekStartMonday
	}
	return c
}

func FormatInstant(t time.Time) string {
	return t.Format(InstantLayout)
}

// StartString returns the formatted start bound, or "" when open.
func (r TimeRange) StartString() string {
	if r.Start == nil {
		return ""
	}
	return FormatInstant(*r.Start)
}

func (r TimeRange) EndString() string {
	if r.End == nil {
		return ""
	}
	return FormatInstant(*r.End)
}

// StartDate returns the start bound as YYYY-MM-DD in the range's own zone.
func (r TimeRange) StartDate() string {
	if r.Start == nil {
		return ""
	}
	return r.Start.Format("2006-01-02")
}

func (r TimeRange) EndDate() string {
	if r.End == nil {
		return ""
	}
	return r.End.Format("2006-01-02")
}

type timeRangeJSON struct {
	Mode                 Mode        `json:"mode"`
	Start                *string     `json:"start"`
	End                  *string     `json:"end"`
	Timezone             string      `json:"timezone"`
	Granularity          Granularity `json:"granularity"`
	CalendarWeekStart    WeekStart   `json:"calendar_week_start"`
	FiscalYearStartMonth int         `json:"fiscal_year_start_month"`
	Comparison           *Comparison `json:"comparison,omitempty"`
}

func (r TimeRange) MarshalJSON() ([]byte, error) {
	out := timeRangeJSON{
		Mode:                 r.Mode,
		Timezone:             r.Timezone,
		Granularity:          r.Granularity,
		CalendarWeekStart:    r.CalendarWeekStart,
		FiscalYearStartMonth: r.FiscalYearStartMonth,
		Comparison:           r.Comparison,
	}
	if r.Start != nil {
		s := FormatInstant(*r.Start)
		out.Start = &s
	}
	if r.End != nil {
		e := FormatInstant(*r.End)
		out.End = &e
	}
	return json.Marshal(out)
}

func (r *TimeRange) UnmarshalJSON(data []byte) error {
	var in timeRangeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = TimeRange{
		Mode:                 in.Mode,
		Timezone:             in.Timezone,
		Granularity:          in.Granularity,
		CalendarWeekStart:    in.CalendarWeekStart,
		FiscalYearStartMonth: in.FiscalYearStartMonth,
		Comparison:           in.Comparison,
	}
	if in.Start != nil {
		t, err := time.Parse(InstantLayout, *in.Start)
		if err != nil {
			return err
		}
		r.Start = &t
	}
	if in.End != nil {
		t, err := time.Parse(InstantLayout, *in.End)
		if err != nil {
			return err
		}
		r.End = &t
	}
	return nil
}
