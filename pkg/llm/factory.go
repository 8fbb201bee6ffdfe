package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider names accepted by NewClassifier.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewClassifier builds a Classifier for the configured provider.
// "openai" covers any OpenAI-compatible endpoint (OpenAI, vLLM, Ollama).
func NewClassifier(provider string, cfg *Config, logger *zap.Logger) (Classifier, error) {
	switch provider {
	case ProviderOpenAI, "":
		return NewClient(cfg, logger)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg, logger)
	}
	return nil, fmt.Errorf("unknown classifier provider %q", provider)
}
