package orkestra

import (
	"fmt"
	"strings"
	"time"

	"github.com/orkestralabs/orkestra/pkg/configutil"
	"github.com/orkestralabs/orkestra/pkg/llm"
	"github.com/orkestralabs/orkestra/pkg/providers/anthropic"
	"github.com/orkestralabs/orkestra/pkg/providers/gemini"
	"github.com/orkestralabs/orkestra/pkg/providers/mock"
	"github.com/orkestralabs/orkestra/pkg/providers/openai"
)

// ProviderFactory builds a provider from its config block and the
// resolved API key.
type ProviderFactory func(cfg ProviderConfig, apiKey string) (llm.Provider, error)

type ProviderRegistry struct {
	factories map[string]ProviderFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{factories: make(map[string]ProviderFactory)}
}

func (r *ProviderRegistry) Register(name string, factory ProviderFactory) {
	r.factories[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) Build(name string, cfg ProviderConfig, apiKey string) (llm.Provider, error) {
	fn := r.factories[strings.ToLower(strings.TrimSpace(name))]
	if fn == nil {
		return nil, fmt.Errorf("provider not registered: %s", name)
	}
	return fn(cfg, apiKey)
}

// providerSettings are the tunables common to the HTTP adapters.
type providerSettings struct {
	BaseURL     string `mapstructure:"base_url"`
	MaxTokens   int    `mapstructure:"max_tokens"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	BackoffMS   int    `mapstructure:"backoff_ms"`
}

var providerSettingsSchema = configutil.Schema{
	Optional: []string{"base_url", "max_tokens", "max_attempts", "backoff_ms"},
}

func decodeProviderSettings(cfg ProviderConfig) (providerSettings, error) {
	if err := configutil.ValidateSettings(cfg.Settings, providerSettingsSchema); err != nil {
		return providerSettings{}, fmt.Errorf("provider settings: %w", err)
	}
	var s providerSettings
	if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
		return providerSettings{}, fmt.Errorf("provider settings: %w", err)
	}
	return s, nil
}

func retryFromSettings(s providerSettings) llm.RetryConfig {
	return llm.RetryConfig{
		MaxAttempts: s.MaxAttempts,
		BaseDelay:   time.Duration(s.BackoffMS) * time.Millisecond,
	}
}

// DefaultProviders registers the vendor adapters that ship with the
// engine. "claude" aliases the anthropic adapter.
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()

	r.Register("openai", func(cfg ProviderConfig, apiKey string) (llm.Provider, error) {
		s, err := decodeProviderSettings(cfg)
		if err != nil {
			return nil, err
		}
		adapter := openai.NewAdapter(apiKey, cfg.Model)
		if s.BaseURL != "" {
			adapter.BaseURL = s.BaseURL
		}
		adapter.Retry = retryFromSettings(s)
		return adapter, nil
	})

	anthropicFactory := func(cfg ProviderConfig, apiKey string) (llm.Provider, error) {
		s, err := decodeProviderSettings(cfg)
		if err != nil {
			return nil, err
		}
		adapter := anthropic.NewAdapter(apiKey, cfg.Model)
		if s.BaseURL != "" {
			adapter.BaseURL = s.BaseURL
		}
		if s.MaxTokens > 0 {
			adapter.MaxTokens = s.MaxTokens
		}
		adapter.Retry = retryFromSettings(s)
		return adapter, nil
	}
	r.Register("anthropic", anthropicFactory)
	r.Register("claude", anthropicFactory)

	r.Register("gemini", func(cfg ProviderConfig, apiKey string) (llm.Provider, error) {
		s, err := decodeProviderSettings(cfg)
		if err != nil {
			return nil, err
		}
		adapter := gemini.NewAdapter(apiKey, cfg.Model)
		if s.BaseURL != "" {
			adapter.BaseURL = s.BaseURL
		}
		adapter.Retry = retryFromSettings(s)
		return adapter, nil
	})

	r.Register("mock", func(cfg ProviderConfig, apiKey string) (llm.Provider, error) {
		return mock.NewProvider(), nil
	})

	return r
}
