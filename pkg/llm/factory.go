package llm

import (
	"fmt"
	"os"
)

// ProviderConfig selects and configures a concrete LLM provider.
type ProviderConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string
	// Model is the provider-specific model identifier.
	Model string
	// MaxTokens caps completions (Anthropic only; <= 0 uses the default).
	MaxTokens int
	// APIKeyEnv names the environment variable holding the API key.
	// Defaults to ANTHROPIC_API_KEY / OPENAI_API_KEY per provider.
	APIKeyEnv string
}

// NewClient builds the configured provider client.
func NewClient(cfg ProviderConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(apiKey(cfg, "ANTHROPIC_API_KEY"), cfg.Model, cfg.MaxTokens)
	case "openai":
		return NewOpenAIClient(apiKey(cfg, "OPENAI_API_KEY"), cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want anthropic or openai)", cfg.Provider)
	}
}

func apiKey(cfg ProviderConfig, defaultEnv string) string {
	env := cfg.APIKeyEnv
	if env == "" {
		env = defaultEnv
	}
	return os.Getenv(env)
}

// DefaultSystemPrompt is the stock system prompt for agent sessions that do
// not configure their own.
const DefaultSystemPrompt = `You are a helpful assistant. ` +
	`When a task needs computation or external data, use the available tools ` +
	`rather than guessing. Report tool failures honestly and recover when you can. ` +
	`Keep answers concise.`
