package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/storage/models"
	"github.com/funnel-agent/backend/internal/storage/sqlite"
	"github.com/funnel-agent/backend/pkg/logger"
	"github.com/funnel-agent/backend/pkg/utils"
)

type SessionStore interface {
	CreateSession(session *models.Session) error
	GetSession(id string) (*models.Session, error)
	ListSessions(userID string, limit int) ([]models.Session, error)
	DeleteSession(id string) error
	GetMessages(sessionID string, limit int) ([]models.Message, error)
}

type SessionHandler struct {
	store SessionStore
}

func NewSessionHandler(store SessionStore) *SessionHandler {
	return &SessionHandler{store: store}
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	sessions, err := h.store.ListSessions(c.Query("user_id"), c.QueryInt("limit", 50))
	if err != nil {
		logger.Error("Failed to list sessions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sessions",
		})
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	return c.JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}

func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	var req struct {
		UserID string `json:"user_id"`
		Title  string `json:"title"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New conversation"
	}
	now := time.Now()
	session := &models.Session{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Title:     utils.Truncate(title, 120),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateSession(session); err != nil {
		logger.Error("Failed to create session", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create session",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.store.GetSession(c.Params("id"))
	if err != nil {
		return sessionError(c, err, "Failed to load session")
	}
	return c.JSON(session)
}

func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	if err := h.store.DeleteSession(c.Params("id")); err != nil {
		return sessionError(c, err, "Failed to delete session")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SessionHandler) GetMessages(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.store.GetSession(id); err != nil {
		return sessionError(c, err, "Failed to load session")
	}

	messages, err := h.store.GetMessages(id, c.QueryInt("limit", 0))
	if err != nil {
		return sessionError(c, err, "Failed to load messages")
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return c.JSON(fiber.Map{"session_id": id, "messages": messages, "count": len(messages)})
}

func sessionError(c *fiber.Ctx, err error, msg string) error {
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}
	logger.Error(msg, zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": msg,
	})
}
