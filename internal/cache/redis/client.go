package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/pkg/logger"
)

const toolPrefix = "tool:"

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// ToolKey namespaces a cached tool result by tool name and argument hash so
// a single tool's entries can be dropped together.
func ToolKey(tool, argsHash string) string {
	return toolPrefix + tool + ":" + argsHash
}

// ToolPattern matches every cached result of tool, or of all tools when
// tool is empty.
func ToolPattern(tool string) string {
	if tool == "" {
		return toolPrefix + "*"
	}
	return toolPrefix + tool + ":*"
}

func (c *Client) SetToolResult(ctx context.Context, tool, argsHash string, result json.RawMessage, ttl time.Duration) error {
	err := c.client.Set(ctx, ToolKey(tool, argsHash), []byte(result), ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set tool cache: %w", err)
	}

	logger.Debug("Tool result cached", zap.String("tool", tool), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetToolResult(ctx context.Context, tool, argsHash string) (json.RawMessage, bool, error) {
	data, err := c.client.Get(ctx, ToolKey(tool, argsHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get tool cache: %w", err)
	}

	logger.Debug("Tool cache hit", zap.String("tool", tool))
	return data, true, nil
}

// InvalidateToolCache drops cached results for tool, or for every tool when
// tool is empty, and reports how many keys were removed.
func (c *Client) InvalidateToolCache(ctx context.Context, tool string) (int, error) {
	removed := 0
	iter := c.client.Scan(ctx, 0, ToolPattern(tool), 100).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		removed++
	}

	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Tool cache invalidated", zap.String("tool", tool), zap.Int("removed", removed))
	return removed, nil
}
