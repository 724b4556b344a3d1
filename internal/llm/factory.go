package llm

import (
	"fmt"
	"time"
)

// ProviderConfig selects and configures the active chat backend.
type ProviderConfig struct {
	// Provider is one of "ollama", "openai", "anthropic". Empty defaults
	// to ollama.
	Provider string

	// BaseURL overrides the backend endpoint (ollama URL or OpenAI-
	// compatible base URL). Ignored by the Anthropic backend.
	BaseURL string

	// Model is the backend model name; empty picks the backend default.
	Model string

	// APIKey authenticates against hosted backends.
	APIKey string

	// Timeout bounds each provider call; empty picks the backend default.
	Timeout time.Duration
}

// NewChatProvider creates the ChatProvider for the configured backend.
// Backends are functionally interchangeable; exactly one is active per
// deployment.
func NewChatProvider(cfg ProviderConfig) (ChatProvider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
