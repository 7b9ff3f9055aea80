package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/tools"
	"github.com/funnel-agent/backend/pkg/logger"
)

type CatalogRefresher interface {
	Refresh(ctx context.Context) error
}

type ToolCacheInvalidator interface {
	InvalidateToolCache(ctx context.Context, tool string) (int, error)
}

type CatalogHandler struct {
	catalog CatalogRefresher
	cache   ToolCacheInvalidator
}

// NewCatalogHandler builds the catalog admin handler. cache may be nil when
// tool results are not cached.
func NewCatalogHandler(catalog CatalogRefresher, cache ToolCacheInvalidator) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, cache: cache}
}

// Invalidate evicts cached predefined-query results and reloads the
// catalog from its source. When the source is down the previous copy
// stays in service.
func (h *CatalogHandler) Invalidate(c *fiber.Ctx) error {
	evicted := 0
	if h.cache != nil {
		n, err := h.cache.InvalidateToolCache(c.Context(), tools.RunPredefinedQuery)
		if err != nil {
			logger.Warn("Failed to evict cached predefined results", zap.Error(err))
		}
		evicted = n
	}

	if err := h.catalog.Refresh(c.Context()); err != nil {
		logger.Error("Failed to reload catalog", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":           "Catalog invalidated but reload failed",
			"evicted_results": evicted,
		})
	}

	return c.JSON(fiber.Map{
		"message":         "Catalog reloaded",
		"evicted_results": evicted,
	})
}
