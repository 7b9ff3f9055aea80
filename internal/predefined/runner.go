package predefined

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/storage/postgres"
	"github.com/funnel-agent/backend/pkg/logger"
)

// ErrInvalidDates marks a malformed or reversed date window.
var ErrInvalidDates = errors.New("invalid date window")

// Executor runs a fully literal SQL statement.
type Executor interface {
	ExecuteSQL(ctx context.Context, sql string) (*postgres.Result, error)
}

type RunResult struct {
	Title     string           `json:"title"`
	StartDate string           `json:"start_date"`
	EndDate   string           `json:"end_date"`
	SQL       string           `json:"sql"`
	Result    *postgres.Result `json:"result"`
}

// Runner looks up a catalog query, anchors its dates and executes it.
type Runner struct {
	catalog *Catalog
	exec    Executor
	now     func() time.Time
}

func NewRunner(catalog *Catalog, exec Executor) *Runner {
	return &Runner{catalog: catalog, exec: exec, now: time.Now}
}

// Run executes the titled query over [startDate, endDate]. Empty dates
// default to fiscal-year-to-date in IST.
func (r *Runner) Run(ctx context.Context, title, startDate, endDate string) (*RunResult, error) {
	q, err := r.catalog.Get(ctx, title)
	if err != nil {
		return nil, err
	}

	startDate, endDate, err = r.dates(startDate, endDate)
	if err != nil {
		return nil, err
	}

	sql := ReplaceDatesInSQL(q.SQL, startDate, endDate)
	res, err := r.exec.ExecuteSQL(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to run predefined query %q: %w", q.Title, err)
	}

	logger.Info("Predefined query executed",
		zap.String("title", q.Title),
		zap.String("start_date", startDate),
		zap.String("end_date", endDate),
		zap.Int("rows", res.RowCount),
	)
	return &RunResult{Title: q.Title, StartDate: startDate, EndDate: endDate, SQL: sql, Result: res}, nil
}

func (r *Runner) dates(startDate, endDate string) (string, string, error) {
	defStart, defEnd := ComputeDefaultDates(r.now())
	if startDate == "" {
		startDate = defStart
	}
	if endDate == "" {
		endDate = defEnd
	}
	if err := ValidateDate(startDate); err != nil {
		return "", "", fmt.Errorf("%w: start_date: %v", ErrInvalidDates, err)
	}
	if err := ValidateDate(endDate); err != nil {
		return "", "", fmt.Errorf("%w: end_date: %v", ErrInvalidDates, err)
	}
	if startDate > endDate {
		return "", "", fmt.Errorf("%w: start_date %s is after end_date %s", ErrInvalidDates, startDate, endDate)
	}
	return startDate, endDate, nil
}
