package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adrianliechti/go-cli"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/adrianliechti/wingman-gateway/pkg/agent"
	"github.com/adrianliechti/wingman-gateway/pkg/backend/anthropic"
	"github.com/adrianliechti/wingman-gateway/pkg/backend/openai"
	"github.com/adrianliechti/wingman-gateway/pkg/bridge"
	"github.com/adrianliechti/wingman-gateway/pkg/config"
	"github.com/adrianliechti/wingman-gateway/pkg/logger"
	"github.com/adrianliechti/wingman-gateway/pkg/prompt"
	"github.com/adrianliechti/wingman-gateway/pkg/server"
	"github.com/adrianliechti/wingman-gateway/pkg/thread"
	"github.com/adrianliechti/wingman-gateway/pkg/tool"
)

var version = "dev"

func main() {
	addr := flag.String("addr", "", "address to listen on")
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, addr string) error {
	cfg, err := config.Load(configPath)

	if err != nil {
		return err
	}

	if addr != "" {
		cfg.Addr = addr
	}

	level, _ := logger.ParseLevel(cfg.Log.Level)
	format, _ := logger.ParseFormat(cfg.Log.Format)

	log := logger.New(os.Stderr, level, format)

	tools, cleanup, err := buildTools(ctx, cfg, log)

	if err != nil {
		return err
	}

	defer cleanup()

	registry, err := tool.NewRegistry(tools,
		tool.WithTimeout(cfg.Tools.Timeout),
		tool.WithLogger(log.With(slog.String("component", "tools"))),
	)

	if err != nil {
		return err
	}

	store, closeStore, err := buildStore(cfg)

	if err != nil {
		return err
	}

	defer closeStore()

	threads := thread.NewResolver(store,
		thread.WithLogger(log.With(slog.String("component", "threads"))),
		thread.WithMaxHistoryTokens(cfg.Thread.MaxHistoryTokens),
	)

	instructions := cfg.Agent.Instructions

	if instructions == "" {
		instructions = prompt.Instructions
	}

	render, err := prompt.Func(instructions, toolNames(tools), time.Now)

	if err != nil {
		return fmt.Errorf("parse instructions: %w", err)
	}

	if _, err := render(); err != nil {
		return fmt.Errorf("render instructions: %w", err)
	}

	a := &agent.Agent{
		Backend: buildBackend(cfg),
		Tools:   registry,

		InstructionsFunc: render,

		MaxRounds: cfg.Agent.MaxRounds,
		Timeout:   cfg.Backend.Timeout,

		Logger: log.With(slog.String("component", "agent")),
	}

	b, err := bridge.New(bridge.Config{
		Agent:   a,
		Threads: threads,

		Models: cfg.Models(),

		Logger: log.With(slog.String("component", "bridge")),
	})

	if err != nil {
		return err
	}

	s := server.New(server.Options{
		Bridge: b,
		Tools:  registry,

		Auth: server.AuthConfig{
			Required:  cfg.Auth.Required,
			JWTSecret: cfg.Auth.JWTSecret,
		},

		Logger:  log,
		Version: version,
	})

	cli.Info()
	cli.Info("Wingman Gateway " + version)
	cli.Info()
	cli.Info("Endpoint: http://" + displayAddr(cfg.Addr) + "/v1/chat/completions")
	cli.Info("Model:    " + cfg.Backend.Model + " (" + cfg.Backend.Provider + ")")
	cli.Info("Tools:    " + strings.Join(toolNames(tools), ", "))
	cli.Info()

	return s.ListenAndServe(ctx, cfg.Addr, cfg.ShutdownTimeout)
}

func buildBackend(cfg *config.Config) agent.Backend {
	if cfg.Backend.Provider == config.ProviderAnthropic {
		var options []anthropicoption.RequestOption

		if cfg.Backend.URL != "" {
			options = append(options, anthropicoption.WithBaseURL(cfg.Backend.URL))
		}

		return anthropic.New(cfg.Backend.Token, options...)
	}

	return openai.New(cfg.Backend.URL, cfg.Backend.Token)
}

func buildStore(cfg *config.Config) (thread.Store, func(), error) {
	if cfg.Thread.Store == config.StoreSQLite {
		store, err := thread.NewSQLiteStore(cfg.Thread.DSN)

		if err != nil {
			return nil, nil, err
		}

		return store, func() { store.Close() }, nil
	}

	return thread.NewMemoryStore(), func() {}, nil
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}

	return addr
}
