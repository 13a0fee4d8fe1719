package orkestra

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: openai
  model: gpt-4o
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Orchestrator.MaxIterations != 6 {
		t.Fatalf("max_iterations = %d, want 6", cfg.Orchestrator.MaxIterations)
	}
	if cfg.Orchestrator.PerToolTimeoutMS != 8000 {
		t.Fatalf("per_tool_timeout_ms = %d, want 8000", cfg.Orchestrator.PerToolTimeoutMS)
	}
	if cfg.Orchestrator.PerTurnTimeoutMS != 120000 {
		t.Fatalf("per_turn_timeout_ms = %d, want 120000", cfg.Orchestrator.PerTurnTimeoutMS)
	}
	if cfg.Orchestrator.ToolConcurrency != 4 {
		t.Fatalf("tool_concurrency = %d, want 4", cfg.Orchestrator.ToolConcurrency)
	}
	if !cfg.Privacy.RedactSecrets {
		t.Fatalf("redact_secrets should default to true")
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("unexpected log defaults: %s %s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadConfigServersAndEnvExpansion(t *testing.T) {
	t.Setenv("FS_ROOT", "/srv/data")
	path := writeConfig(t, `
provider:
  name: anthropic
  model: claude-sonnet-4
mcp_servers:
  filesystem:
    command: npx
    args: ["-y", "server-filesystem", "${FS_ROOT}"]
    enabled: true
  web:
    endpoint: https://mcp.example/api
    transport: sse
    enabled: false
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	fs, ok := cfg.Servers["filesystem"]
	if !ok {
		t.Fatalf("filesystem server missing: %+v", cfg.Servers)
	}
	if fs.Args[2] != "/srv/data" {
		t.Fatalf("env not expanded: %v", fs.Args)
	}
	web := cfg.Servers["web"]
	if web.Enabled {
		t.Fatalf("web server should be disabled")
	}
}

func TestLoadConfigRejectsMissingProvider(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: ""
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadConfigRejectsServerWithoutTarget(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: openai
mcp_servers:
  broken:
    enabled: true
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestProviderRegistryBuildsAndAliases(t *testing.T) {
	providers := DefaultProviders()

	p, err := providers.Build("OpenAI", ProviderConfig{Model: "gpt-4o"}, "sk-test")
	if err != nil {
		t.Fatalf("build openai: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("unexpected provider: %s", p.Name())
	}

	p, err = providers.Build("claude", ProviderConfig{Model: "claude-sonnet-4"}, "sk-ant")
	if err != nil {
		t.Fatalf("build claude alias: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Fatalf("claude alias should build the anthropic adapter, got %s", p.Name())
	}

	if _, err := providers.Build("nope", ProviderConfig{}, ""); err == nil {
		t.Fatalf("unknown provider must fail")
	}
}
