package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/funnel"
	"github.com/funnel-agent/backend/internal/metrics"
	"github.com/funnel-agent/backend/pkg/circuitbreaker"
	"github.com/funnel-agent/backend/pkg/logger"
	"github.com/funnel-agent/backend/pkg/retry"
)

var errTransient = errors.New("transient database error")

type Config struct {
	URL              string
	MaxConnections   int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	StatementTimeout time.Duration
	MaxRows          int
}

// Result is a fully materialized row set.
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
}

// Executor runs caller-built SQL against the sales database. Every query
// runs in its own read-only transaction with a statement timeout.
type Executor struct {
	pool     *pgxpool.Pool
	timeout  time.Duration
	maxRows  int
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg retry.Config
}

func NewExecutor(ctx context.Context, cfg Config) (*Executor, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	timeout := cfg.StatementTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRows := cfg.MaxRows
	if maxRows == 0 {
		maxRows = 1000
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.RetryableErrors = []error{errTransient}
	retryCfg.Logger = logger.Named("postgres")

	logger.Info("Postgres executor initialized",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Duration("statement_timeout", timeout),
	)

	return &Executor{
		pool:    pool,
		timeout: timeout,
		maxRows: maxRows,
		breaker: circuitbreaker.NewCircuitBreaker("postgres", circuitbreaker.Config{
			MaxRequests:      2,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OnStateChange:    metrics.BreakerStateChanged,
			Logger:           logger.GetLogger(),
		}),
		retryCfg: retryCfg,
	}, nil
}

func (e *Executor) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

func (e *Executor) Close() {
	e.pool.Close()
}

// Execute binds q.Params positionally and returns at most the configured
// number of rows.
func (e *Executor) Execute(ctx context.Context, q funnel.ParameterizedQuery) (*Result, error) {
	start := time.Now()

	var result *Result
	err := e.breaker.Execute(ctx, func() error {
		var err error
		result, err = retry.DoWithResult(ctx, e.retryCfg, func() (*Result, error) {
			return e.run(ctx, q)
		})
		return err
	})
	if err != nil {
		logger.Error("Query execution failed", zap.Error(err), zap.Int("params", len(q.Params)))
		return nil, err
	}

	logger.Debug("Query executed",
		zap.Int("rows", result.RowCount),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// ExecuteSQL runs a statement that carries no bind parameters.
func (e *Executor) ExecuteSQL(ctx context.Context, sql string) (*Result, error) {
	return e.Execute(ctx, funnel.ParameterizedQuery{SQL: sql, Params: []any{}})
}

func (e *Executor) run(ctx context.Context, q funnel.ParameterizedQuery) (*Result, error) {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to begin read-only transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, statementTimeoutSQL(e.timeout)); err != nil {
		return nil, classify(fmt.Errorf("failed to set statement timeout: %w", err))
	}

	rows, err := tx.Query(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	return collect(rows, e.maxRows)
}

func collect(rows pgx.Rows, maxRows int) (*Result, error) {
	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	result := &Result{Columns: columns, Rows: make([]map[string]any, 0)}
	for rows.Next() {
		if len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("error iterating rows: %w", err))
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// statementTimeoutSQL is scoped to the transaction so pooled connections
// keep their default.
func statementTimeoutSQL(d time.Duration) string {
	return fmt.Sprintf("SET LOCAL statement_timeout = %d", d.Milliseconds())
}

// classify marks errors that are safe to retry. Query errors such as a
// statement timeout or a syntax error are not.
func classify(err error) error {
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", errTransient, err)
	}
	return err
}
