package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/metrics"
	"github.com/funnel-agent/backend/internal/predefined"
	"github.com/funnel-agent/backend/pkg/logger"
)

const (
	CatalogRefresh = "catalog_refresh"
	SessionPrune   = "session_prune"
)

type CatalogSource interface {
	Refresh(ctx context.Context) error
	List(ctx context.Context) ([]predefined.Query, error)
}

// RefreshCatalog reloads the predefined-query catalog and publishes its size.
func RefreshCatalog(catalog CatalogSource) Job {
	return func(ctx context.Context) error {
		if err := catalog.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to refresh catalog: %w", err)
		}
		queries, err := catalog.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list catalog: %w", err)
		}
		metrics.CatalogQueries.Set(float64(len(queries)))
		return nil
	}
}

type SessionPruner interface {
	DeleteSessionsBefore(cutoff time.Time) (int64, error)
}

// PruneSessions deletes sessions idle for longer than retention.
func PruneSessions(store SessionPruner, retention time.Duration, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return func(_ context.Context) error {
		cutoff := now().Add(-retention)
		n, err := store.DeleteSessionsBefore(cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("Pruned idle sessions", zap.Int64("sessions", n), zap.Time("cutoff", cutoff))
		}
		return nil
	}
}
