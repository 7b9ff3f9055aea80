package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/tools"
	"github.com/funnel-agent/backend/pkg/circuitbreaker"
	"github.com/funnel-agent/backend/pkg/logger"
)

type ToolExecutor interface {
	Execute(ctx context.Context, name, arguments string) (*tools.Result, error)
}

// AnalyticsHandler exposes the agent's tools as plain REST endpoints so
// dashboards get the same cached, validated results the model sees.
type AnalyticsHandler struct {
	tools ToolExecutor
}

func NewAnalyticsHandler(toolExecutor ToolExecutor) *AnalyticsHandler {
	return &AnalyticsHandler{tools: toolExecutor}
}

func (h *AnalyticsHandler) ResolvePlan(c *fiber.Ctx) error {
	return h.run(c, tools.ResolveQueryPlan, c.Body())
}

func (h *AnalyticsHandler) ResolveTimeRange(c *fiber.Ctx) error {
	return h.run(c, tools.ResolveTimeRange, c.Body())
}

func (h *AnalyticsHandler) SalesFunnel(c *fiber.Ctx) error {
	args := funnelArgsFromQuery(c)
	if v := c.Query("vertical"); v != "" {
		args["vertical"] = v
	}
	return h.runArgs(c, tools.GetSalesFunnel, args)
}

func (h *AnalyticsHandler) ChapterFunnel(c *fiber.Ctx) error {
	return h.runArgs(c, tools.GetChapterFunnel, funnelArgsFromQuery(c))
}

func (h *AnalyticsHandler) ListCatalog(c *fiber.Ctx) error {
	args := map[string]any{}
	if s := c.Query("search"); s != "" {
		args["search"] = s
	}
	return h.runArgs(c, tools.ListPredefinedQueries, args)
}

func (h *AnalyticsHandler) RunCatalogQuery(c *fiber.Ctx) error {
	return h.run(c, tools.RunPredefinedQuery, c.Body())
}

func funnelArgsFromQuery(c *fiber.Ctx) map[string]any {
	args := map[string]any{}
	for _, key := range []string{"time_expression", "start_date", "end_date", "metric"} {
		if v := c.Query(key); v != "" {
			args[key] = v
		}
	}
	if locs := SplitList(c.Query("locations")); len(locs) > 0 {
		args["locations"] = locs
	}
	if c.QueryBool("dry_run", false) {
		args["dry_run"] = true
	}
	return args
}

// SplitList splits a comma-separated query value, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (h *AnalyticsHandler) runArgs(c *fiber.Ctx, tool string, args map[string]any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid arguments",
		})
	}
	return h.run(c, tool, raw)
}

func (h *AnalyticsHandler) run(c *fiber.Ctx, tool string, args []byte) error {
	result, err := h.tools.Execute(c.Context(), tool, string(args))
	if err != nil {
		return toolError(c, tool, err)
	}

	if result.Cached {
		c.Set("X-Cache", "HIT")
	} else {
		c.Set("X-Cache", "MISS")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(result.Content)
}

func toolError(c *fiber.Ctx, tool string, err error) error {
	var argErr *tools.ArgumentError
	switch {
	case errors.As(err, &argErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": argErr.Msg,
		})
	case errors.Is(err, tools.ErrUnknownTool):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Not available on this server",
		})
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Database temporarily unavailable",
		})
	}
	logger.Error("Tool request failed", zap.String("tool", tool), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to run " + tool,
	})
}
