package handlers

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/pkg/logger"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]Check
	version string
	started time.Time
}

func NewHealthHandler(version string, checks map[string]Check) *HealthHandler {
	return &HealthHandler{checks: checks, version: version, started: time.Now()}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":         "healthy",
		"version":        h.version,
		"time":           time.Now().Unix(),
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// Ready runs every dependency check and answers 503 if any fails.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(fiber.Map, len(names))
	ready := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not ready",
			"checks": results,
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
		"checks": results,
	})
}
