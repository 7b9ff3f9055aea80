package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/metrics"
	"github.com/funnel-agent/backend/internal/storage/models"
	"github.com/funnel-agent/backend/internal/storage/sqlite"
	"github.com/funnel-agent/backend/pkg/logger"
	"github.com/funnel-agent/backend/pkg/utils"
)

type FeedbackStore interface {
	StoreFeedback(feedback *models.Feedback) error
	FeedbackStats(since time.Time) (helpful, unhelpful int, err error)
}

type FeedbackHandler struct {
	store FeedbackStore
}

func NewFeedbackHandler(store FeedbackStore) *FeedbackHandler {
	return &FeedbackHandler{store: store}
}

func (h *FeedbackHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		QueryID       string `json:"query_id"`
		Helpful       *bool  `json:"helpful"`
		IssueCategory string `json:"issue_category"`
		Comment       string `json:"comment"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.QueryID == "" || req.Helpful == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query_id and helpful are required",
		})
	}

	feedback := &models.Feedback{
		QueryID:       req.QueryID,
		Helpful:       *req.Helpful,
		IssueCategory: req.IssueCategory,
		Comment:       utils.Truncate(req.Comment, 2000),
	}
	if err := h.store.StoreFeedback(feedback); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Query not found",
			})
		}
		logger.Error("Failed to store feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store feedback",
		})
	}

	metrics.FeedbackTotal.WithLabelValues(strconv.FormatBool(feedback.Helpful)).Inc()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Feedback recorded",
	})
}

// GetStats reports feedback counts over the trailing window given in days.
func (h *FeedbackHandler) GetStats(c *fiber.Ctx) error {
	days := c.QueryInt("days", 30)
	if days <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "days must be positive",
		})
	}

	helpful, unhelpful, err := h.store.FeedbackStats(time.Now().AddDate(0, 0, -days))
	if err != nil {
		logger.Error("Failed to load feedback stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load feedback stats",
		})
	}

	rate := 0.0
	if total := helpful + unhelpful; total > 0 {
		rate = float64(helpful) / float64(total)
	}
	return c.JSON(fiber.Map{
		"days":         days,
		"helpful":      helpful,
		"unhelpful":    unhelpful,
		"helpful_rate": rate,
	})
}
