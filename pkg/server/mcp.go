package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adrianliechti/wingman-gateway/pkg/tool"
)

// newMCPHandler publishes the tool registry as a stateless MCP server, so
// MCP clients get the same tools and failure policies as the agent.
func newMCPHandler(tools *tool.Registry, version string) http.Handler {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "wingman-gateway",
		Version: version,
	}, nil)

	for _, t := range tools.Tools() {
		addTool(server, tools, t)
	}

	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{
		Stateless: true,
	})
}

func addTool(s *mcp.Server, tools *tool.Registry, t tool.Tool) {
	mcpTool := &mcp.Tool{
		Name:        t.Name,
		Description: t.Description,

		InputSchema: t.Parameters(),
	}

	s.AddTool(mcpTool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := ""

		if req.Params.Arguments != nil {
			args = string(req.Params.Arguments)
		}

		result := tools.Invoke(ctx, tool.Call{
			ID:   "mcp_" + uuid.NewString(),
			Name: t.Name,
			Args: args,
		})

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: result.Content}},
			IsError: result.IsError,
		}, nil
	})
}
