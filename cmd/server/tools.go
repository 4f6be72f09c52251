package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/adrianliechti/wingman-gateway/pkg/config"
	"github.com/adrianliechti/wingman-gateway/pkg/tool"
	"github.com/adrianliechti/wingman-gateway/pkg/tool/currency"
	"github.com/adrianliechti/wingman-gateway/pkg/tool/duckduckgo"
	"github.com/adrianliechti/wingman-gateway/pkg/tool/mcp"
	"github.com/adrianliechti/wingman-gateway/pkg/tool/tavily"
)

// buildTools returns the deployment tool set: the enabled built-in tools
// followed by every tool of the configured MCP servers.
func buildTools(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]tool.Tool, func(), error) {
	providers := []tool.Provider{
		duckduckgo.New(),
		tavily.New(cfg.Tools.TavilyToken),
		currency.New(cfg.Tools.AlphaVantageToken),
	}

	tools, err := selectTools(ctx, providers, cfg.Tools.Enabled)

	if err != nil {
		return nil, nil, err
	}

	if cfg.Tools.MCP == "" {
		return tools, func() {}, nil
	}

	manager, err := mcp.Load(cfg.Tools.MCP, logger.With(slog.String("component", "mcp")))

	if err != nil {
		return nil, nil, err
	}

	if err := manager.Connect(ctx); err != nil {
		logger.Warn("some mcp servers are unavailable", slog.Any("error", err))
	}

	mcpTools, err := manager.Tools(ctx)

	if err != nil {
		manager.Close()
		return nil, nil, err
	}

	return append(tools, mcpTools...), manager.Close, nil
}

func selectTools(ctx context.Context, providers []tool.Provider, enabled []string) ([]tool.Tool, error) {
	available := make(map[string]tool.Tool)

	for _, p := range providers {
		tools, err := p.Tools(ctx)

		if err != nil {
			return nil, err
		}

		for _, t := range tools {
			available[t.Name] = t
		}
	}

	var result []tool.Tool

	for _, name := range enabled {
		t, ok := available[name]

		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}

		if slices.ContainsFunc(result, func(t tool.Tool) bool { return t.Name == name }) {
			continue
		}

		result = append(result, t)
	}

	return result, nil
}

func toolNames(tools []tool.Tool) []string {
	names := make([]string, 0, len(tools))

	for _, t := range tools {
		names = append(names, t.Name)
	}

	return names
}
