package config

import "time"

// Config represents the complete arcstream configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Client   ClientConfig   `yaml:"client"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig defines SQLite scorecard storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the game-host HTTP server settings.
type APIConfig struct {
	Listen            string        `yaml:"listen"`
	Token             string        `yaml:"token"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// LLMConfig defines the optional LLM policy provider. When Provider is
// empty the host plays sessions with the scripted solver.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int    `yaml:"max_tokens"`
}

// AgentConfig defines hosted-agent defaults.
type AgentConfig struct {
	DefaultMaxTurns int           `yaml:"default_max_turns"`
	TurnDelay       time.Duration `yaml:"turn_delay"`
	GridSize        int           `yaml:"grid_size"`
	ActionBudget    int           `yaml:"action_budget"`
}

// ClientConfig defines how the play command reaches a game host.
type ClientConfig struct {
	BaseURL           string `yaml:"base_url"`
	Token             string `yaml:"token"`
	RequireCredential bool   `yaml:"require_credential"`
	StrictOrdering    bool   `yaml:"strict_ordering"`
}
