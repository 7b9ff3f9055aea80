package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/pkg/logger"
)

// NewMCPServer exposes every registered tool over the Model Context
// Protocol so external agents share the chat assistant's tool surface.
func NewMCPServer(r *Registry, version string) *server.MCPServer {
	s := server.NewMCPServer("funnel-agent", version, server.WithToolCapabilities(false))
	RegisterMCP(s, r)
	return s
}

// NewMCPHTTPServer serves s over streamable HTTP. Requests carry no session
// state, so any replica can answer.
func NewMCPHTTPServer(s *server.MCPServer) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s, server.WithStateLess(true))
}

func RegisterMCP(s *server.MCPServer, r *Registry) {
	for _, t := range r.List() {
		schema, err := json.Marshal(t.Parameters)
		if err != nil {
			logger.Warn("Skipping MCP tool with unencodable schema", zap.String("tool", t.Name), zap.Error(err))
			continue
		}

		name := t.Name
		s.AddTool(mcp.NewToolWithRawSchema(name, t.Description, schema),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				args, err := json.Marshal(req.GetArguments())
				if err != nil {
					return mcp.NewToolResultError("arguments must be a JSON object"), nil
				}
				res, err := r.Execute(ctx, name, string(args))
				if err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				return mcp.NewToolResultText(string(res.Content)), nil
			})
	}
	logger.Info("MCP tools registered", zap.Int("count", len(r.tools)))
}
