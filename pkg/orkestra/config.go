package orkestra

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/orkestralabs/orkestra/pkg/mcp"
)

type Config struct {
	Orchestrator OrchestratorConfig          `mapstructure:"orchestrator"`
	Provider     ProviderConfig              `mapstructure:"provider"`
	Servers      map[string]mcp.ServerConfig `mapstructure:"mcp_servers"`
	SystemPrompt string                      `mapstructure:"system_prompt"`
	Environment  string                      `mapstructure:"environment"`
	LogLevel     string                      `mapstructure:"log_level"`
	LogFormat    string                      `mapstructure:"log_format"`
	Privacy      PrivacyConfig               `mapstructure:"privacy"`
	Observ       ObservabilityConfig         `mapstructure:"observability"`
}

type OrchestratorConfig struct {
	MaxIterations            int  `mapstructure:"max_iterations"`
	PerToolTimeoutMS         int  `mapstructure:"per_tool_timeout_ms"`
	PerTurnTimeoutMS         int  `mapstructure:"per_turn_timeout_ms"`
	ToolConcurrency          int  `mapstructure:"tool_concurrency"`
	MaxConcurrentToolServers int  `mapstructure:"max_concurrent_tool_servers"`
	BuiltinTools             bool `mapstructure:"builtin_tools"`
}

type ProviderConfig struct {
	Name     string         `mapstructure:"name"`
	Model    string         `mapstructure:"model"`
	Settings map[string]any `mapstructure:"settings"`
}

type PrivacyConfig struct {
	RedactSecrets bool `mapstructure:"redact_secrets"`
}

// ObservabilityConfig controls the optional metrics artifact stream.
// MetricsFile appends one JSON line per event; SampleRate thins the
// stream when a session produces more events than are worth keeping.
type ObservabilityConfig struct {
	MetricsFile string  `mapstructure:"metrics_file"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("orchestrator.max_iterations", 6)
	v.SetDefault("orchestrator.per_tool_timeout_ms", 8000)
	v.SetDefault("orchestrator.per_turn_timeout_ms", 120000)
	v.SetDefault("orchestrator.tool_concurrency", 4)
	v.SetDefault("orchestrator.max_concurrent_tool_servers", 5)
	v.SetDefault("orchestrator.builtin_tools", true)
	v.SetDefault("provider.name", "openai")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("privacy.redact_secrets", true)
	v.SetDefault("observability.metrics_file", "")
	v.SetDefault("observability.sample_rate", 1.0)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Provider.Name) == "" {
		return fmt.Errorf("provider.name is required")
	}
	if c.Orchestrator.MaxIterations <= 0 {
		return fmt.Errorf("orchestrator.max_iterations must be positive")
	}
	if c.Orchestrator.ToolConcurrency <= 0 {
		return fmt.Errorf("orchestrator.tool_concurrency must be positive")
	}
	for id, server := range c.Servers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("mcp_servers contains an empty server id")
		}
		if !server.Enabled {
			continue
		}
		if server.Command == "" && server.Endpoint == "" {
			return fmt.Errorf("mcp_servers.%s needs a command or an endpoint", id)
		}
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	cfg.SystemPrompt = os.ExpandEnv(cfg.SystemPrompt)
	cfg.Provider.Name = os.ExpandEnv(cfg.Provider.Name)
	cfg.Provider.Model = os.ExpandEnv(cfg.Provider.Model)
	cfg.Provider.Settings = expandSettings(cfg.Provider.Settings)
	for id, server := range cfg.Servers {
		server.Command = os.ExpandEnv(server.Command)
		server.Endpoint = os.ExpandEnv(server.Endpoint)
		for i := range server.Args {
			server.Args[i] = os.ExpandEnv(server.Args[i])
		}
		for k, val := range server.Env {
			server.Env[k] = os.ExpandEnv(val)
		}
		cfg.Servers[id] = server
	}
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
