package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/adrianliechti/wingman-gateway/pkg/logger"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

const (
	defaultAddr            = ":8080"
	defaultShutdownTimeout = 10 * time.Second
	defaultModel           = "gpt-4.1-mini"
	defaultBackendTimeout  = 120 * time.Second
	defaultToolTimeout     = 30 * time.Second
	defaultMaxRounds       = 16
	defaultThreadDSN       = "data/threads.db"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Log     LogConfig     `yaml:"log"`
	Backend BackendConfig `yaml:"backend"`
	Agent   AgentConfig   `yaml:"agent"`
	Tools   ToolsConfig   `yaml:"tools"`
	Thread  ThreadConfig  `yaml:"thread"`
	Auth    AuthConfig    `yaml:"auth"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type BackendConfig struct {
	Provider string `yaml:"provider"`

	// URL is the API base URL; empty selects the provider's public API.
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	// Model is the default model; Models lists the other names callers may
	// request.
	Model  string   `yaml:"model"`
	Models []string `yaml:"models"`

	Timeout time.Duration `yaml:"timeout"`
}

type AgentConfig struct {
	MaxRounds int `yaml:"max_rounds"`

	// Instructions is a text/template; .Date and .Tools are filled in per
	// request.
	Instructions string `yaml:"instructions"`
}

type ToolsConfig struct {
	Enabled []string      `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`

	TavilyToken       string `yaml:"tavily_token"`
	AlphaVantageToken string `yaml:"alphavantage_token"`

	// MCP points to an mcp.json with remote servers whose tools are added
	// to the registry.
	MCP string `yaml:"mcp"`
}

type ThreadConfig struct {
	Store string `yaml:"store"`
	DSN   string `yaml:"dsn"`

	MaxHistoryTokens int64 `yaml:"max_history_tokens"`
}

type AuthConfig struct {
	Required  bool   `yaml:"required"`
	JWTSecret string `yaml:"jwt_secret"`
}

func Default() *Config {
	return &Config{
		Addr:            defaultAddr,
		ShutdownTimeout: defaultShutdownTimeout,

		Log: LogConfig{
			Level:  "info",
			Format: string(logger.FormatText),
		},

		Backend: BackendConfig{
			Provider: ProviderOpenAI,
			Model:    defaultModel,
			Timeout:  defaultBackendTimeout,
		},

		Agent: AgentConfig{
			MaxRounds: defaultMaxRounds,
		},

		Tools: ToolsConfig{
			Enabled: []string{"get_currency_exchange"},
			Timeout: defaultToolTimeout,
		},

		Thread: ThreadConfig{
			Store: StoreMemory,
			DSN:   defaultThreadDSN,
		},
	}
}

// Load layers defaults, the optional YAML file, .env and the process
// environment, in that order. An empty path falls back to WINGMAN_CONFIG.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("WINGMAN_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)

		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if url, ok := os.LookupEnv("WINGMAN_URL"); ok {
		c.Backend.Provider = ProviderOpenAI
		c.Backend.URL = strings.TrimRight(url, "/") + "/v1"
		c.Backend.Token = os.Getenv("WINGMAN_TOKEN")

		if model := os.Getenv("WINGMAN_MODEL"); model != "" {
			c.Backend.Model = model
		}
	} else if token, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
		c.Backend.Provider = ProviderOpenAI
		c.Backend.Token = token

		if url, ok := os.LookupEnv("OPENAI_BASE_URL"); ok {
			c.Backend.URL = url
		}

		if model := os.Getenv("OPENAI_MODEL"); model != "" {
			c.Backend.Model = model
		}
	} else if token, ok := os.LookupEnv("ANTHROPIC_API_KEY"); ok {
		c.Backend.Provider = ProviderAnthropic
		c.Backend.Token = token

		if url, ok := os.LookupEnv("ANTHROPIC_BASE_URL"); ok {
			c.Backend.URL = url
		}

		if model := os.Getenv("ANTHROPIC_MODEL"); model != "" {
			c.Backend.Model = model
		}
	}

	if token := os.Getenv("TAVILY_API_KEY"); token != "" {
		c.Tools.TavilyToken = token
	}

	if token := os.Getenv("ALPHAVANTAGE_API_KEY"); token != "" {
		c.Tools.AlphaVantageToken = token
	}

	if addr := strings.TrimSpace(os.Getenv("WINGMAN_ADDR")); addr != "" {
		c.Addr = addr
	}

	if level := strings.TrimSpace(os.Getenv("WINGMAN_LOG_LEVEL")); level != "" {
		c.Log.Level = level
	}

	if format := strings.TrimSpace(os.Getenv("WINGMAN_LOG_FORMAT")); format != "" {
		c.Log.Format = format
	}

	if store := strings.TrimSpace(os.Getenv("WINGMAN_THREAD_STORE")); store != "" {
		c.Thread.Store = store
	}

	if dsn := strings.TrimSpace(os.Getenv("WINGMAN_THREAD_DSN")); dsn != "" {
		c.Thread.DSN = dsn
	}

	if secret := os.Getenv("WINGMAN_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}

	if required := strings.TrimSpace(os.Getenv("WINGMAN_AUTH_REQUIRED")); required != "" {
		value, err := strconv.ParseBool(required)

		if err != nil {
			return fmt.Errorf("parse WINGMAN_AUTH_REQUIRED: %w", err)
		}

		c.Auth.Required = value
	}

	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("validate config: addr is required")
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if _, err := logger.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	switch c.Backend.Provider {
	case ProviderOpenAI:
	case ProviderAnthropic:
		if strings.TrimSpace(c.Backend.Token) == "" {
			return errors.New("validate config: anthropic backend requires ANTHROPIC_API_KEY")
		}
	default:
		return fmt.Errorf("validate config: unsupported backend provider %q (allowed: %q, %q)", c.Backend.Provider, ProviderOpenAI, ProviderAnthropic)
	}

	if strings.TrimSpace(c.Backend.Model) == "" {
		return errors.New("validate config: backend model is required")
	}

	if c.Backend.Timeout < 0 || c.Tools.Timeout < 0 || c.ShutdownTimeout < 0 {
		return errors.New("validate config: timeouts must be >= 0")
	}

	if c.Agent.MaxRounds < 0 {
		return errors.New("validate config: agent max_rounds must be >= 0")
	}

	switch c.Thread.Store {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.Thread.DSN) == "" {
			return errors.New("validate config: sqlite thread store requires a dsn")
		}
	default:
		return fmt.Errorf("validate config: unsupported thread store %q (allowed: %q, %q)", c.Thread.Store, StoreMemory, StoreSQLite)
	}

	if c.Thread.MaxHistoryTokens < 0 {
		return errors.New("validate config: thread max_history_tokens must be >= 0")
	}

	return nil
}

// Models returns the recognized model names with the default first.
func (c *Config) Models() []string {
	models := []string{c.Backend.Model}

	for _, m := range c.Backend.Models {
		m = strings.TrimSpace(m)

		if m == "" || slices.Contains(models, m) {
			continue
		}

		models = append(models, m)
	}

	return models
}
