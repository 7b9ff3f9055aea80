package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnel-agent/backend/pkg/retry"
)

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages("system prompt", []Message{
		{Role: RoleUser, Content: "leads mtd"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "get_sales_funnel", Arguments: `{"vertical":"isprava"}`}}},
		{Role: RoleTool, Content: `{"rows":[]}`, ToolCallID: "call_1", Name: "get_sales_funnel"},
	})

	require.Len(t, msgs, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, openai.ToolTypeFunction, msgs[2].ToolCalls[0].Type)
	assert.Equal(t, "get_sales_funnel", msgs[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
	assert.Equal(t, "get_sales_funnel", msgs[3].Name)

	assert.Len(t, BuildMessages("", []Message{{Role: RoleUser, Content: "x"}}), 1)
}

func TestBuildTools(t *testing.T) {
	assert.Nil(t, BuildTools(nil))

	tools := BuildTools([]ToolDefinition{{
		Name:        "resolve_time_range",
		Description: "Resolve a time expression",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"expression": map[string]any{"type": "string"}},
		},
	}})
	require.Len(t, tools, 1)
	assert.Equal(t, "resolve_time_range", tools[0].Function.Name)
	assert.JSONEq(t, `{"type":"object","properties":{"expression":{"type":"string"}}}`, string(tools[0].Function.Parameters.(json.RawMessage)))
}

func TestFromOpenAIMessage(t *testing.T) {
	msg := fromOpenAIMessage(openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleAssistant,
		ToolCalls: []openai.ToolCall{{
			ID:       "call_9",
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: "run_predefined_query", Arguments: `{"title":"x"}`},
		}},
	})
	assert.Equal(t, []ToolCall{{ID: "call_9", Name: "run_predefined_query", Arguments: `{"title":"x"}`}}, msg.ToolCalls)
}

func TestClassify_StopsRetryOnClientErrors(t *testing.T) {
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.JitterFraction = 0

	tests := []struct {
		name     string
		err      error
		attempts int
	}{
		{"bad request", &openai.APIError{HTTPStatusCode: 400, Message: "bad"}, 1},
		{"rate limited", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, 3},
		{"server error", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, 3},
		{"cancelled", context.Canceled, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := retry.Do(context.Background(), cfg, func() error {
				attempts++
				return classify(fmt.Errorf("failed to create chat completion: %w", tt.err))
			})
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.attempts, attempts)
		})
	}
}
