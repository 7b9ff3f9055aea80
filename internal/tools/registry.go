package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/llm"
	"github.com/funnel-agent/backend/internal/metrics"
	"github.com/funnel-agent/backend/pkg/logger"
	"github.com/funnel-agent/backend/pkg/utils"
)

var ErrUnknownTool = errors.New("unknown tool")

// ArgumentError reports tool arguments the caller must fix. Its message is
// safe to hand back to the model.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string {
	return e.Msg
}

func argErr(format string, args ...any) error {
	return &ArgumentError{Msg: fmt.Sprintf(format, args...)}
}

// Handler executes a tool against raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	// Cacheable results are stored per argument set for the cache TTL.
	Cacheable bool
	Handler   Handler
}

// Cache stores serialized tool results.
type Cache interface {
	GetToolResult(ctx context.Context, tool, argsHash string) (json.RawMessage, bool, error)
	SetToolResult(ctx context.Context, tool, argsHash string, result json.RawMessage, ttl time.Duration) error
}

type Result struct {
	Content json.RawMessage
	Cached  bool
}

type Registry struct {
	tools    map[string]Tool
	cache    Cache
	cacheTTL time.Duration
	// cacheScope is mixed into cache keys so relative time expressions do
	// not outlive the business day they were resolved on.
	cacheScope func() string
}

// NewRegistry creates an empty registry. A nil cache disables result
// caching; loc is the business timezone that bounds cached entries.
func NewRegistry(cache Cache, cacheTTL time.Duration, loc *time.Location) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	return &Registry{
		tools:      make(map[string]Tool),
		cache:      cache,
		cacheTTL:   cacheTTL,
		cacheScope: func() string { return time.Now().In(loc).Format("2006-01-02") },
	}
}

func (r *Registry) Register(tool Tool) {
	if _, exists := r.tools[tool.Name]; exists {
		panic(fmt.Sprintf("tool %q registered twice", tool.Name))
	}
	r.tools[tool.Name] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Definitions() []llm.ToolDefinition {
	tools := r.List()
	defs := make([]llm.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = llm.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return defs
}

// Execute runs the named tool. Arguments are parsed from JSON; an empty
// string is treated as an empty object.
func (r *Registry) Execute(ctx context.Context, name, arguments string) (*Result, error) {
	tool, ok := r.tools[name]
	if !ok {
		metrics.ToolCalls.WithLabelValues(name, "unknown").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	args, err := normalizeArgs(arguments)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "invalid").Inc()
		return nil, err
	}

	var key string
	if tool.Cacheable && r.cache != nil {
		key = utils.HashKey(string(args), r.cacheScope())
		if cached, hit := r.lookup(ctx, name, key); hit {
			metrics.ToolCalls.WithLabelValues(name, "cached").Inc()
			return &Result{Content: cached, Cached: true}, nil
		}
	}

	start := time.Now()
	out, err := tool.Handler(ctx, args)
	metrics.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		status := "error"
		var argError *ArgumentError
		if errors.As(err, &argError) {
			status = "invalid"
		}
		metrics.ToolCalls.WithLabelValues(name, status).Inc()
		logger.Warn("Tool execution failed", zap.String("tool", name), zap.Error(err))
		return nil, err
	}

	content, err := json.Marshal(out)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return nil, fmt.Errorf("failed to marshal %s result: %w", name, err)
	}
	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()

	if key != "" {
		if err := r.cache.SetToolResult(ctx, name, key, content, r.cacheTTL); err != nil {
			logger.Warn("Failed to cache tool result", zap.String("tool", name), zap.Error(err))
		}
	}

	logger.Debug("Tool executed",
		zap.String("tool", name),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("bytes", len(content)),
	)
	return &Result{Content: content}, nil
}

func (r *Registry) lookup(ctx context.Context, name, key string) (json.RawMessage, bool) {
	cached, hit, err := r.cache.GetToolResult(ctx, name, key)
	if err != nil {
		logger.Warn("Tool cache lookup failed", zap.String("tool", name), zap.Error(err))
		metrics.CacheMisses.WithLabelValues("tool").Inc()
		return nil, false
	}
	if !hit {
		metrics.CacheMisses.WithLabelValues("tool").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("tool").Inc()
	return cached, true
}

// normalizeArgs validates the arguments as a JSON object and re-encodes
// them so equivalent argument sets share a cache key.
func normalizeArgs(arguments string) (json.RawMessage, error) {
	if arguments == "" {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(arguments), &obj); err != nil {
		return nil, argErr("arguments must be a JSON object: %v", err)
	}
	if obj == nil {
		obj = map[string]any{}
	}
	canonical, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize arguments: %w", err)
	}
	return canonical, nil
}

func decode[T any](args json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(args, &v); err != nil {
		return v, argErr("invalid arguments: %v", err)
	}
	return v, nil
}
