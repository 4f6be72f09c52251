package mcp

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Config lists the remote servers whose tools join the registry. The file
// uses the common mcp.json layout; YAML is accepted as well.
type Config struct {
	Servers map[string]ServerConfig `json:"mcpServers" yaml:"mcpServers"`
}

type ServerConfig struct {
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Tools limits the exposed tools to the listed names. Empty exposes all.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

func (s ServerConfig) allows(name string) bool {
	return len(s.Tools) == 0 || slices.Contains(s.Tools, name)
}

func (c *Config) validate() error {
	var errs []error

	for name, s := range c.Servers {
		switch {
		case s.URL == "" && s.Command == "":
			errs = append(errs, fmt.Errorf("mcp server %s: url or command required", name))
		case s.URL != "" && s.Command != "":
			errs = append(errs, fmt.Errorf("mcp server %s: url and command are exclusive", name))
		}
	}

	return errors.Join(errs...)
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}

	var cfg Config

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
