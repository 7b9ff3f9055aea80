package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/query"
	"github.com/funnel-agent/backend/internal/storage/sqlite"
	"github.com/funnel-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	queryEngine QueryProcessor
}

func NewWebSocketHandler(queryEngine QueryProcessor) *WebSocketHandler {
	return &WebSocketHandler{
		queryEngine: queryEngine,
	}
}

type wsRequest struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// HandleConnection serves one chat socket. Each "query" message is answered
// in turn; the session id from the first answer is reused when later
// messages omit it.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	sessionID := ""
	for {
		var msg wsRequest
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if msg.Type == "ping" {
			if err := c.WriteJSON(map[string]any{"type": "pong"}); err != nil {
				return
			}
			continue
		}
		if msg.Type != "query" {
			continue
		}
		if msg.SessionID == "" {
			msg.SessionID = sessionID
		}

		logger.Info("Processing WebSocket query", zap.String("session_id", msg.SessionID))

		response, err := h.streamResponse(ctx, c, msg)
		if err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, wsErrorMessage(err))
			continue
		}
		sessionID = response.SessionID
	}
}

func (h *WebSocketHandler) streamResponse(ctx context.Context, c *websocket.Conn, msg wsRequest) (*query.QueryResponse, error) {
	if err := h.sendChunk(c, "status", "Processing query..."); err != nil {
		return nil, err
	}

	var writeErr error
	onEvent := func(ev query.Event) {
		if writeErr != nil || ev.Type == query.EventAnswer {
			return
		}
		writeErr = c.WriteJSON(map[string]any{
			"type": string(ev.Type),
			"data": ev.Data,
		})
	}

	req := query.QueryRequest{
		Query:     msg.Content,
		UserID:    msg.UserID,
		SessionID: msg.SessionID,
	}
	response, err := h.queryEngine.ProcessQuery(ctx, req, onEvent)
	if err != nil {
		return nil, err
	}
	if writeErr != nil {
		return nil, writeErr
	}

	words := splitIntoWords(response.Response)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return nil, err
		}
	}

	if err := h.sendComplete(c, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]any{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, response *query.QueryResponse) error {
	return c.WriteJSON(map[string]any{
		"type":       "complete",
		"message_id": response.ID,
		"session_id": response.SessionID,
		"intent":     response.Plan.Intent,
		"disclaimer": response.Disclaimer,
		"tool_calls": response.ToolCalls,
		"confidence": response.Confidence,
		"latency_ms": response.LatencyMS,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	if err := c.WriteJSON(map[string]any{
		"type":  "error",
		"error": errorMsg,
	}); err != nil {
		logger.Debug("Failed to send WebSocket error", zap.Error(err))
	}
}

func wsErrorMessage(err error) string {
	switch {
	case errors.Is(err, query.ErrEmptyQuery):
		return "Query is required"
	case errors.Is(err, sqlite.ErrNotFound):
		return "Session not found"
	}
	return "Failed to process query"
}

// splitIntoWords splits on spaces and keeps line breaks as their own
// tokens so the client can rebuild the layout.
func splitIntoWords(text string) []string {
	words := []string{}
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, char := range text {
		switch char {
		case ' ':
			flush()
		case '\n':
			flush()
			words = append(words, "\n")
		default:
			current.WriteRune(char)
		}
	}
	flush()

	return words
}
