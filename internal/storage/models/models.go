package models

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Session is one conversation thread.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single turn. Assistant turns that request tools carry the
// raw tool calls; tool turns carry the id of the call they answer.
type Message struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Role       Role            `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type QueryRecord struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	UserID     string          `json:"user_id,omitempty"`
	QueryText  string          `json:"query_text"`
	Response   string          `json:"response"`
	Intent     string          `json:"intent"`
	Plan       json.RawMessage `json:"plan,omitempty"`
	Confidence float64         `json:"confidence"`
	ToolCalls  int             `json:"tool_calls"`
	LatencyMS  int             `json:"latency_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ToolInvocation audits one tool execution made while answering a query.
type ToolInvocation struct {
	ID        int    `json:"id"`
	QueryID   string `json:"query_id"`
	ToolName  string `json:"tool_name"`
	Arguments string `json:"arguments"`
	Status    string `json:"status"`
	Cached    bool   `json:"cached"`
	LatencyMS int    `json:"latency_ms"`
}

type Feedback struct {
	ID            int       `json:"id"`
	QueryID       string    `json:"query_id"`
	Helpful       bool      `json:"helpful"`
	IssueCategory string    `json:"issue_category,omitempty"`
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
