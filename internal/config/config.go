package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/jmorgan/crucible/internal/tools"
)

type ProviderConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	APIKey  string            `mapstructure:"api_key"`
	Models  map[string]string `mapstructure:"models"`
}

type AgentConfig struct {
	MaxIterations int    `mapstructure:"max_iterations"`
	ProfilesDir   string `mapstructure:"profiles_dir"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type Config struct {
	Providers       map[string]ProviderConfig     `mapstructure:"providers"`
	DefaultProvider string                        `mapstructure:"default_provider"`
	Agent           AgentConfig                   `mapstructure:"agent"`
	Server          ServerConfig                  `mapstructure:"server"`
	Storage         StorageConfig                 `mapstructure:"storage"`
	MCPServers      map[string]tools.ServerConfig `mapstructure:"mcp_servers"`
}

// path remembers where the config was read from, so reload uses the same file.
var path string

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("crucible")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.crucible")

	v.SetDefault("default_provider", "ollama")
	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.profiles_dir", "agents")
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".crucible", "crucible.db"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	path = v.ConfigFileUsed()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in API keys
	for name, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "${") && strings.HasSuffix(p.APIKey, "}") {
			envVar := p.APIKey[2 : len(p.APIKey)-1]
			p.APIKey = os.Getenv(envVar)
			cfg.Providers[name] = p
		}
	}

	return &cfg, nil
}

// Reload re-reads the config file found by Load. Used by the tools reload
// endpoint to pick up mcp_servers edits without restarting.
func Reload() (*Config, error) {
	if path == "" {
		return Load()
	}
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("rereading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// IsOllama returns true if this provider looks like an Ollama instance.
func (p ProviderConfig) IsOllama() bool {
	return strings.Contains(p.BaseURL, ":11434") || strings.Contains(strings.ToLower(p.BaseURL), "ollama")
}

// Provider returns the config for a named provider, falling back to the default.
func (c *Config) Provider(name string) (ProviderConfig, error) {
	if name == "" {
		name = c.DefaultProvider
	}
	p, ok := c.Providers[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("unknown provider: %s", name)
	}
	return p, nil
}
