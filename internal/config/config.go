package config

import (
	"fmt"
	"regexp"
)

// Config represents the main Tessa configuration
type Config struct {
	// Telegram
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// Agent subprocess
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Stream relay pacing
	Relay RelayConfig `json:"relay" mapstructure:"relay"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken string `json:"bot_token" mapstructure:"bot_token"`
	// Allowlist restricts the bot to these chat IDs; empty means open.
	Allowlist []int64 `json:"allowlist" mapstructure:"allowlist"`
}

// AgentConfig holds the agent CLI settings
type AgentConfig struct {
	Command          string `json:"command" mapstructure:"command"`
	AlternateCommand string `json:"alternate_command" mapstructure:"alternate_command"`
	GraceSeconds     int    `json:"grace_seconds" mapstructure:"grace_seconds"`
}

// RelayConfig holds stream update pacing
type RelayConfig struct {
	UpdateIntervalMs int `json:"update_interval_ms" mapstructure:"update_interval_ms"`
	MaxStatusLines   int `json:"max_status_lines" mapstructure:"max_status_lines"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig holds the metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	Port    int  `json:"port" mapstructure:"port"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Command:          "claude",
			AlternateCommand: "claude-z",
			GraceSeconds:     5,
		},
		Relay: RelayConfig{
			UpdateIntervalMs: 800,
			MaxStatusLines:   5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validate checks the configuration for problems that prevent startup
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}
	if !telegramTokenPattern.MatchString(c.Telegram.BotToken) {
		return fmt.Errorf("invalid Telegram bot token format")
	}
	if c.Agent.Command == "" {
		return fmt.Errorf("agent command cannot be empty")
	}
	if c.Agent.GraceSeconds < 0 {
		return fmt.Errorf("agent grace_seconds cannot be negative")
	}
	if c.Relay.UpdateIntervalMs < 0 {
		return fmt.Errorf("relay update_interval_ms cannot be negative")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics port must be between 1 and 65535")
	}
	return nil
}
