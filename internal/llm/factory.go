package llm

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/fault"
)

// Options select and configure a provider.
type Options struct {
	// Provider is anthropic, openai, or ollama. Empty means infer from the
	// model name.
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the provider endpoint. Required meaningfully only
	// for ollama; for the hosted providers it exists for tests and
	// API-compatible gateways.
	BaseURL string
	Logger  zerolog.Logger
}

// New creates the provider client for opts.
func New(opts Options) (Client, error) {
	provider := strings.ToLower(opts.Provider)
	if provider == "" {
		provider = InferProvider(opts.Model)
	}
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(opts.APIKey, opts.BaseURL, opts.Logger), nil
	case ProviderOpenAI:
		return NewOpenAIClient(opts.APIKey, opts.BaseURL, opts.Logger), nil
	case ProviderOllama:
		return NewOllamaClient(opts.BaseURL, opts.Logger), nil
	default:
		return nil, fault.Newf(fault.KindUnknown, "unsupported llm provider: %s (supported: anthropic, openai, ollama)", provider)
	}
}

// InferProvider guesses the provider from the model name. Ollama is never
// inferred; local models must be selected explicitly.
func InferProvider(model string) string {
	if strings.HasPrefix(strings.ToLower(model), "claude") {
		return ProviderAnthropic
	}
	return ProviderOpenAI
}
