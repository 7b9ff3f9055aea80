package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/query"
	"github.com/funnel-agent/backend/internal/storage/models"
	"github.com/funnel-agent/backend/internal/storage/sqlite"
	"github.com/funnel-agent/backend/pkg/logger"
)

type QueryProcessor interface {
	ProcessQuery(ctx context.Context, req query.QueryRequest, onEvent func(query.Event)) (*query.QueryResponse, error)
}

type HistoryStore interface {
	GetQueryHistory(userID, sessionID string, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	queryEngine QueryProcessor
	history     HistoryStore
}

func NewQueryHandler(queryEngine QueryProcessor, history HistoryStore) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
		history:     history,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query     string `json:"query"`
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	queryReq := query.QueryRequest{
		Query:     req.Query,
		UserID:    req.UserID,
		SessionID: req.SessionID,
	}

	response, err := h.queryEngine.ProcessQuery(c.Context(), queryReq, nil)
	if err != nil {
		return queryError(c, err)
	}

	return c.JSON(response)
}

func queryError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, query.ErrEmptyQuery):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	case errors.Is(err, sqlite.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}
	logger.Error("Failed to process query", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to process query",
	})
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	sessionID := c.Query("session_id")
	if userID == "" && sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id or session_id is required",
		})
	}

	records, err := h.history.GetQueryHistory(userID, sessionID, c.QueryInt("limit", 50))
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load query history",
		})
	}
	if records == nil {
		records = []models.QueryRecord{}
	}

	return c.JSON(fiber.Map{
		"history": records,
		"count":   len(records),
	})
}
