package provider

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	APIOpenAI    = "openai-completions"
	APIAnthropic = "anthropic-messages"
	APIGemini    = "gemini-generate"
)

// ProviderConfig mirrors config.ProviderConfig to avoid circular imports.
type ProviderConfig struct {
	ID      string
	BaseURL string
	APIKey  string
	API     string
	Models  []ModelInfo
}

// FromConfig creates a Provider from a config entry. The api field
// determines which wire format to use:
//   - "openai-completions"  -> OpenAI-compatible (OpenAI, OVH, Ollama, vLLM, etc.)
//   - "anthropic-messages"  -> Anthropic Messages API
//   - "gemini-generate"     -> Gemini generateContent API
func FromConfig(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.API {
	case APIOpenAI, "":
		return NewOpenAIProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Models, WithOpenAILogger(logger)), nil
	case APIAnthropic:
		return NewAnthropicProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Models, WithAnthropicLogger(logger)), nil
	case APIGemini:
		return NewGeminiProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Models, WithGeminiLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown api type %q for provider %q (supported: %s, %s, %s)",
			cfg.API, cfg.ID, APIOpenAI, APIAnthropic, APIGemini)
	}
}
