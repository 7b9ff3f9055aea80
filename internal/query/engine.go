package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/llm"
	"github.com/funnel-agent/backend/internal/metrics"
	"github.com/funnel-agent/backend/internal/nlq"
	"github.com/funnel-agent/backend/internal/storage/models"
	"github.com/funnel-agent/backend/internal/timerange"
	"github.com/funnel-agent/backend/internal/tools"
	"github.com/funnel-agent/backend/pkg/logger"
	"github.com/funnel-agent/backend/pkg/utils"
)

var ErrEmptyQuery = errors.New("query is empty")

// ChatModel produces one assistant turn per call.
type ChatModel interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
	Model() string
}

type ToolRunner interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name, arguments string) (*tools.Result, error)
}

// Store persists conversations and their audit trail.
type Store interface {
	CreateSession(session *models.Session) error
	GetSession(id string) (*models.Session, error)
	AppendMessage(msg *models.Message) error
	GetMessages(sessionID string, limit int) ([]models.Message, error)
	InsertQueryRecord(record *models.QueryRecord) error
	InsertToolInvocation(inv *models.ToolInvocation) error
}

type Config struct {
	TimeRange         timerange.Config
	MaxToolIterations int
	HistoryLimit      int
}

type Engine struct {
	store Store
	model ChatModel
	tools ToolRunner
	cfg   Config
	now   func() time.Time
	newID func() string
}

type QueryRequest struct {
	Query     string
	UserID    string
	SessionID string
}

type QueryResponse struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Query      string          `json:"query"`
	Response   string          `json:"response"`
	Plan       nlq.QueryPlan   `json:"plan"`
	Disclaimer string          `json:"disclaimer,omitempty"`
	ToolCalls  []ToolCallTrace `json:"tool_calls"`
	Confidence float64         `json:"confidence"`
	LatencyMS  int             `json:"latency_ms"`
}

type ToolCallTrace struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Status    string `json:"status"`
	Cached    bool   `json:"cached"`
	LatencyMS int    `json:"latency_ms"`
}

type EventType string

const (
	EventPlan       EventType = "plan"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventAnswer     EventType = "answer"
)

// Event reports progress while a query is being answered.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

func NewEngine(store Store, model ChatModel, toolRunner ToolRunner, cfg Config) *Engine {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 6
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Engine{
		store: store,
		model: model,
		tools: toolRunner,
		cfg:   cfg,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// ProcessQuery answers one user turn. onEvent, when set, is called
// synchronously as the plan is resolved and tools run.
func (e *Engine) ProcessQuery(ctx context.Context, req QueryRequest, onEvent func(Event)) (*QueryResponse, error) {
	startTime := e.now()
	queryText := strings.TrimSpace(req.Query)
	if queryText == "" {
		return nil, ErrEmptyQuery
	}
	emit := func(ev Event) {
		if onEvent != nil {
			onEvent(ev)
		}
	}

	session, err := e.session(req, queryText)
	if err != nil {
		return nil, err
	}
	queryID := e.newID()

	logger.Info("Processing query",
		zap.String("query_id", queryID),
		zap.String("session_id", session.ID),
		zap.String("query", utils.Truncate(queryText, 200)),
	)

	plan := nlq.Resolve(queryText, e.cfg.TimeRange)
	metrics.IntentsResolved.WithLabelValues(string(plan.Intent)).Inc()
	metrics.ConfidenceScore.Observe(plan.Confidence)
	emit(Event{Type: EventPlan, Data: plan})

	history, err := e.history(session.ID)
	if err != nil {
		return nil, err
	}

	userMsg := llm.Message{Role: llm.RoleUser, Content: queryText}
	if err := e.persist(session.ID, userMsg); err != nil {
		return nil, err
	}
	messages := append(history, userMsg)

	systemPrompt, err := e.systemPrompt(plan)
	if err != nil {
		return nil, err
	}

	answer, traces, err := e.converse(ctx, session.ID, systemPrompt, messages, emit)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	latency := int(e.now().Sub(startTime).Milliseconds())
	e.record(queryID, session.ID, req.UserID, queryText, answer, plan, traces, latency)

	metrics.QueryTotal.WithLabelValues("success").Inc()
	metrics.QueryDuration.WithLabelValues(string(plan.Intent)).Observe(float64(latency) / 1000)

	resp := &QueryResponse{
		ID:         queryID,
		SessionID:  session.ID,
		Query:      queryText,
		Response:   answer,
		Plan:       plan,
		Disclaimer: plan.OutputMeta.Disclaimer,
		ToolCalls:  traces,
		Confidence: plan.Confidence,
		LatencyMS:  latency,
	}
	emit(Event{Type: EventAnswer, Data: resp})

	logger.Info("Query processed successfully",
		zap.String("query_id", queryID),
		zap.String("intent", string(plan.Intent)),
		zap.Int("tool_calls", len(traces)),
		zap.Int("latency_ms", latency),
	)
	return resp, nil
}

// converse runs the tool-calling loop. Once the iteration budget is spent
// the model is asked once more without tools so it must answer in text.
func (e *Engine) converse(ctx context.Context, sessionID, systemPrompt string, messages []llm.Message, emit func(Event)) (string, []ToolCallTrace, error) {
	traces := []ToolCallTrace{}
	defs := e.tools.Definitions()

	for iteration := 0; ; iteration++ {
		req := llm.ChatRequest{SystemPrompt: systemPrompt, Messages: messages}
		final := iteration >= e.cfg.MaxToolIterations
		if !final {
			req.Tools = defs
		}

		resp, err := e.model.Chat(ctx, req)
		if err != nil {
			return "", traces, fmt.Errorf("failed to generate response: %w", err)
		}
		metrics.LLMTokensUsed.WithLabelValues(e.model.Model(), "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(e.model.Model(), "completion").Add(float64(resp.Usage.CompletionTokens))

		assistant := resp.Message
		assistant.Role = llm.RoleAssistant
		if final || len(assistant.ToolCalls) == 0 {
			assistant.ToolCalls = nil
			if err := e.persist(sessionID, assistant); err != nil {
				return "", traces, err
			}
			return assistant.Content, traces, nil
		}

		if err := e.persist(sessionID, assistant); err != nil {
			return "", traces, err
		}
		messages = append(messages, assistant)

		for _, call := range assistant.ToolCalls {
			emit(Event{Type: EventToolCall, Data: call})
			toolMsg, trace := e.runTool(ctx, call)
			traces = append(traces, trace)
			emit(Event{Type: EventToolResult, Data: trace})

			if err := e.persist(sessionID, toolMsg); err != nil {
				return "", traces, err
			}
			messages = append(messages, toolMsg)
		}
	}
}

// runTool never fails the turn; errors are reported back to the model as
// the tool's output so it can correct its arguments.
func (e *Engine) runTool(ctx context.Context, call llm.ToolCall) (llm.Message, ToolCallTrace) {
	start := e.now()
	trace := ToolCallTrace{Name: call.Name, Arguments: call.Arguments, Status: "ok"}
	msg := llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Name: call.Name}

	res, err := e.tools.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		trace.Status = "error"
		var argError *tools.ArgumentError
		if errors.As(err, &argError) || errors.Is(err, tools.ErrUnknownTool) {
			trace.Status = "invalid"
		}
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		msg.Content = string(payload)
	} else {
		trace.Cached = res.Cached
		msg.Content = string(res.Content)
	}

	trace.LatencyMS = int(e.now().Sub(start).Milliseconds())
	return msg, trace
}

func (e *Engine) session(req QueryRequest, queryText string) (*models.Session, error) {
	if req.SessionID != "" {
		s, err := e.store.GetSession(req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", req.SessionID, err)
		}
		return s, nil
	}

	now := e.now()
	s := &models.Session{
		ID:        e.newID(),
		UserID:    req.UserID,
		Title:     utils.Truncate(queryText, 60),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateSession(s); err != nil {
		return nil, err
	}
	return s, nil
}

// history loads recent turns, dropping any leading tool traffic whose
// originating user turn fell outside the window.
func (e *Engine) history(sessionID string) ([]llm.Message, error) {
	stored, err := e.store.GetMessages(sessionID, e.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}

	for len(stored) > 0 && stored[0].Role != models.RoleUser {
		stored = stored[1:]
	}

	out := make([]llm.Message, 0, len(stored)+1)
	for _, m := range stored {
		msg := llm.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.ToolName,
		}
		if len(m.ToolCalls) > 0 {
			if err := json.Unmarshal(m.ToolCalls, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode stored tool calls: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

func (e *Engine) persist(sessionID string, msg llm.Message) error {
	stored := &models.Message{
		ID:         e.newID(),
		SessionID:  sessionID,
		Role:       models.Role(msg.Role),
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		ToolName:   msg.Name,
		CreatedAt:  e.now(),
	}
	if len(msg.ToolCalls) > 0 {
		calls, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to encode tool calls: %w", err)
		}
		stored.ToolCalls = calls
	}
	if err := e.store.AppendMessage(stored); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}
	return nil
}

// record writes the audit trail. Failures are logged, not returned, since
// the answer has already been produced.
func (e *Engine) record(queryID, sessionID, userID, queryText, answer string, plan nlq.QueryPlan, traces []ToolCallTrace, latency int) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		logger.Warn("Failed to encode query plan", zap.Error(err))
	}

	err = e.store.InsertQueryRecord(&models.QueryRecord{
		ID:         queryID,
		SessionID:  sessionID,
		UserID:     userID,
		QueryText:  queryText,
		Response:   answer,
		Intent:     string(plan.Intent),
		Plan:       planJSON,
		Confidence: plan.Confidence,
		ToolCalls:  len(traces),
		LatencyMS:  latency,
		CreatedAt:  e.now(),
	})
	if err != nil {
		logger.Error("Failed to record query", zap.String("query_id", queryID), zap.Error(err))
		return
	}

	for _, t := range traces {
		err := e.store.InsertToolInvocation(&models.ToolInvocation{
			QueryID:   queryID,
			ToolName:  t.Name,
			Arguments: t.Arguments,
			Status:    t.Status,
			Cached:    t.Cached,
			LatencyMS: t.LatencyMS,
		})
		if err != nil {
			logger.Warn("Failed to record tool invocation", zap.String("tool", t.Name), zap.Error(err))
		}
	}
}
