package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.Service.Name != "arcstream" || cfg.Service.LogLevel != "info" {
		t.Fatalf("service defaults = %+v", cfg.Service)
	}
	if cfg.API.Listen != "127.0.0.1:8070" {
		t.Fatalf("listen default = %q", cfg.API.Listen)
	}
	if cfg.API.HeartbeatInterval != 15*time.Second {
		t.Fatalf("heartbeat default = %v", cfg.API.HeartbeatInterval)
	}
	if cfg.Agent.DefaultMaxTurns != 40 || cfg.Agent.GridSize != 8 || cfg.Agent.ActionBudget != 120 {
		t.Fatalf("agent defaults = %+v", cfg.Agent)
	}
	if cfg.Agent.TurnDelay != 250*time.Millisecond {
		t.Fatalf("turn delay default = %v", cfg.Agent.TurnDelay)
	}
	if cfg.LLM.MaxTokens != 4096 {
		t.Fatalf("llm.max_tokens default = %d, want 4096", cfg.LLM.MaxTokens)
	}
	if cfg.Client.BaseURL != "http://127.0.0.1:8070" {
		t.Fatalf("client base url default = %q", cfg.Client.BaseURL)
	}
}

func TestLoadParsesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  log_level: debug
api:
  listen: "0.0.0.0:9000"
agent:
  grid_size: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.Service.LogLevel)
	}
	if cfg.API.Listen != "0.0.0.0:9000" {
		t.Fatalf("listen = %q", cfg.API.Listen)
	}
	if cfg.Agent.GridSize != 5 {
		t.Fatalf("grid size = %d", cfg.Agent.GridSize)
	}
	// Untouched fields still receive defaults.
	if cfg.Agent.ActionBudget != 120 {
		t.Fatalf("action budget = %d", cfg.Agent.ActionBudget)
	}
}

func TestLoadInterpolatesEnvVars(t *testing.T) {
	t.Setenv("ARCSTREAM_TEST_TOKEN", "secret-token")
	path := writeConfig(t, `
api:
  token: "${ARCSTREAM_TEST_TOKEN}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Token != "secret-token" {
		t.Fatalf("token = %q, want interpolated env value", cfg.API.Token)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(cfg *Config) { cfg.Service.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "grid too small",
			mutate:  func(cfg *Config) { cfg.Agent.GridSize = 1 },
			wantErr: "grid_size",
		},
		{
			name:    "grid too large",
			mutate:  func(cfg *Config) { cfg.Agent.GridSize = 100 },
			wantErr: "grid_size",
		},
		{
			name:    "negative turn delay",
			mutate:  func(cfg *Config) { cfg.Agent.TurnDelay = -time.Second },
			wantErr: "turn_delay",
		},
		{
			name:    "unknown llm provider",
			mutate:  func(cfg *Config) { cfg.LLM.Provider = "gemini"; cfg.LLM.Model = "m" },
			wantErr: "llm.provider",
		},
		{
			name:    "anthropic without api key",
			mutate:  func(cfg *Config) { cfg.LLM.Provider = "anthropic"; cfg.LLM.Model = "m" },
			wantErr: "api_key",
		},
		{
			name:    "provider without model",
			mutate:  func(cfg *Config) { cfg.LLM.Provider = "ollama" },
			wantErr: "llm.model",
		},
		{
			name: "non-positive max tokens",
			mutate: func(cfg *Config) {
				cfg.LLM.Provider = "ollama"
				cfg.LLM.Model = "llama3"
				cfg.LLM.MaxTokens = 0
			},
			wantErr: "llm.max_tokens",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tt.mutate(cfg)
			err := validate(cfg)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAllowsOllamaWithoutAPIKey(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.LLM.Provider = "ollama"
	cfg.LLM.Model = "llama3"
	if err := validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsUnsetAPIKeyEnvVar(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: anthropic
  model: some-model
  api_key: "${ARCSTREAM_UNSET_KEY_FOR_TEST}"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ARCSTREAM_UNSET_KEY_FOR_TEST") {
		t.Fatalf("expected unset env var error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
