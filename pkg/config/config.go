// Package config loads the weft.yaml application configuration: engine, LLM
// and subscriber settings, env-expanded and merged over built-in defaults.
// Database settings come from the environment (see pkg/store).
package config

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for configuration loading.
var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidYAML    = errors.New("invalid YAML syntax")
)

// Config is the complete application configuration.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	LLM        LLMConfig        `yaml:"llm"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
}

// EngineConfig tunes the processing loop.
type EngineConfig struct {
	// MaxIterations caps loop iterations per ProcessThread call.
	MaxIterations int `yaml:"max_iterations"`
	// AutoApproveTools skips the approval gate for every tool call.
	AutoApproveTools bool `yaml:"auto_approve_tools"`
	// SystemPrompt overrides the built-in system prompt when set.
	SystemPrompt string `yaml:"system_prompt"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// MaxTokens caps completions (Anthropic only).
	MaxTokens int `yaml:"max_tokens"`
	// APIKeyEnv names the environment variable holding the API key;
	// empty means the provider's conventional variable.
	APIKeyEnv string `yaml:"api_key_env"`
}

// SubscriberConfig tunes category subscriptions started by cmd.
type SubscriberConfig struct {
	// PollInterval is a duration string, e.g. "100ms".
	PollInterval           string `yaml:"poll_interval"`
	BatchSize              int64  `yaml:"batch_size"`
	PositionUpdateInterval int    `yaml:"position_update_interval"`
	MaxHandlerRetries      int    `yaml:"max_handler_retries"`
}

// PollDuration parses PollInterval. Call only after Load has validated the
// configuration.
func (c *SubscriberConfig) PollDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// Default returns the built-in configuration. Loaded YAML is merged over it,
// so every field has a working value even with no config file at all.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			MaxIterations: 100,
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
		Subscriber: SubscriberConfig{
			PollInterval:           "100ms",
			BatchSize:              100,
			PositionUpdateInterval: 10,
			MaxHandlerRetries:      3,
		},
	}
}

func validate(cfg *Config) error {
	switch cfg.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider must be anthropic or openai, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Model == "" {
		return errors.New("llm.model is required")
	}
	if cfg.Engine.MaxIterations <= 0 {
		return fmt.Errorf("engine.max_iterations must be positive, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Subscriber.BatchSize <= 0 {
		return fmt.Errorf("subscriber.batch_size must be positive, got %d", cfg.Subscriber.BatchSize)
	}
	if _, err := time.ParseDuration(cfg.Subscriber.PollInterval); err != nil {
		return fmt.Errorf("subscriber.poll_interval is not a duration: %w", err)
	}
	return nil
}
