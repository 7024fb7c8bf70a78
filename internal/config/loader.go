package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "arcstream"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/arcstream.db"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8070"
	}
	if cfg.API.HeartbeatInterval == 0 {
		cfg.API.HeartbeatInterval = 15 * time.Second
	}
	if cfg.Agent.DefaultMaxTurns == 0 {
		cfg.Agent.DefaultMaxTurns = 40
	}
	if cfg.Agent.TurnDelay == 0 {
		cfg.Agent.TurnDelay = 250 * time.Millisecond
	}
	if cfg.Agent.GridSize == 0 {
		cfg.Agent.GridSize = 8
	}
	if cfg.Agent.ActionBudget == 0 {
		cfg.Agent.ActionBudget = 120
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Client.BaseURL == "" {
		cfg.Client.BaseURL = "http://" + cfg.API.Listen
	}
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.API.HeartbeatInterval <= 0 {
		return fmt.Errorf("api.heartbeat_interval must be positive")
	}
	if cfg.Agent.DefaultMaxTurns <= 0 {
		return fmt.Errorf("agent.default_max_turns must be positive")
	}
	if cfg.Agent.TurnDelay < 0 {
		return fmt.Errorf("agent.turn_delay must not be negative")
	}
	if cfg.Agent.GridSize < 2 || cfg.Agent.GridSize > 64 {
		return fmt.Errorf("agent.grid_size must be in [2, 64] (got %d)", cfg.Agent.GridSize)
	}
	if cfg.Agent.ActionBudget <= 0 {
		return fmt.Errorf("agent.action_budget must be positive")
	}
	if cfg.LLM.Provider != "" {
		switch cfg.LLM.Provider {
		case "anthropic", "openai":
			if cfg.LLM.APIKey == "" {
				return fmt.Errorf("llm.api_key is required for provider %q", cfg.LLM.Provider)
			}
			if envVarPattern.MatchString(cfg.LLM.APIKey) {
				matches := envVarPattern.FindStringSubmatch(cfg.LLM.APIKey)
				if len(matches) > 1 {
					return fmt.Errorf("llm.api_key: environment variable ${%s} is not set", matches[1])
				}
			}
		case "ollama":
		default:
			return fmt.Errorf("llm.provider must be one of: anthropic, openai, ollama (got %q)", cfg.LLM.Provider)
		}
		if cfg.LLM.Model == "" {
			return fmt.Errorf("llm.model is required when llm.provider is set")
		}
		if cfg.LLM.MaxTokens <= 0 {
			return fmt.Errorf("llm.max_tokens must be positive (got %d)", cfg.LLM.MaxTokens)
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
