package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adrianliechti/wingman-gateway/pkg/tool"
)

var (
	_ tool.Provider = (*Manager)(nil)
)

// Manager holds client sessions to the configured MCP servers and exposes
// their tools to the registry.
type Manager struct {
	*Config

	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*mcp.ClientSession
}

func New(cfg *Config, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Manager{
		Config: cfg,

		logger: logger,

		sessions: make(map[string]*mcp.ClientSession),
	}
}

func Load(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := loadConfig(path)

	if err != nil {
		return nil, err
	}

	return New(cfg, logger), nil
}

func (m *Manager) Connect(ctx context.Context) error {
	var errs []error

	for name, server := range m.Servers {
		if err := m.connect(ctx, name, server); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, s := range m.sessions {
		s.Close()
		delete(m.sessions, name)
	}
}

func (m *Manager) connect(ctx context.Context, name string, server ServerConfig) error {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "wingman-gateway",
		Version: "1.0.0",
	}, nil)

	transport, err := createTransport(server)

	if err != nil {
		return fmt.Errorf("MCP server %s: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	session, err := client.Connect(ctx, transport, nil)

	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	m.mu.Lock()
	m.sessions[name] = session
	m.mu.Unlock()

	return nil
}

func createTransport(server ServerConfig) (mcp.Transport, error) {
	if server.Command != "" {
		cmd := exec.Command(server.Command, server.Args...)

		if len(server.Env) > 0 {
			cmd.Env = os.Environ()

			for k, v := range server.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}

		return &mcp.CommandTransport{
			Command: cmd,
		}, nil
	}

	if server.URL != "" {
		httpClient := http.DefaultClient

		if len(server.Headers) > 0 {
			httpClient = &http.Client{
				Transport: &headerTransport{
					base:    http.DefaultTransport,
					headers: server.Headers,
				},
			}
		}

		return &mcp.StreamableClientTransport{
			Endpoint: server.URL,

			HTTPClient: httpClient,
		}, nil
	}

	return nil, fmt.Errorf("no command or url configured")
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	return t.base.RoundTrip(req)
}

func (m *Manager) Tools(ctx context.Context) ([]tool.Tool, error) {
	var tools []tool.Tool

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	m.mu.Lock()
	sessions := make(map[string]*mcp.ClientSession, len(m.sessions))

	for name, s := range m.sessions {
		sessions[name] = s
	}
	m.mu.Unlock()

	for _, serverName := range slices.Sorted(maps.Keys(sessions)) {
		session := sessions[serverName]

		result, err := session.ListTools(ctx, nil)

		if err != nil {
			m.logger.Warn("failed to list tools from MCP server", slog.String("server", serverName), slog.Any("error", err))
			continue
		}

		server := m.Servers[serverName]

		for _, mcpTool := range result.Tools {
			if !server.allows(mcpTool.Name) {
				continue
			}

			tools = append(tools, convertTool(serverName, session, mcpTool))
		}
	}

	return tools, nil
}

func convertTool(serverName string, session *mcp.ClientSession, mcpTool *mcp.Tool) tool.Tool {
	name := mcpTool.Name

	return tool.Tool{
		Name:        fmt.Sprintf("%s_%s", serverName, name),
		Description: mcpTool.Description,

		Schema: convertSchema(mcpTool.InputSchema),
		Policy: tool.PolicyPropagate,

		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return callTool(ctx, session, name, args)
		},
	}
}

func convertSchema(input any) *tool.Schema {
	schema := &tool.Schema{
		Type: "object",
	}

	if input == nil {
		return schema
	}

	data, err := json.Marshal(input)

	if err != nil {
		return schema
	}

	if err := json.Unmarshal(data, schema); err != nil {
		return &tool.Schema{Type: "object"}
	}

	return schema
}

func callTool(ctx context.Context, session *mcp.ClientSession, name string, args map[string]any) (string, error) {
	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})

	if err != nil {
		return "", fmt.Errorf("MCP tool call failed: %w", err)
	}

	if result.IsError {
		return "", fmt.Errorf("MCP tool returned error: %s", extractText(result.Content))
	}

	return extractText(result.Content), nil
}

func extractText(content []mcp.Content) string {
	var parts []string

	for _, c := range content {
		if text, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}

	return strings.Join(parts, "\n")
}
