package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient is a classifier backed by the Anthropic Messages API.
// Anthropic has no embeddings endpoint, so CreateEmbedding always errors;
// deployments that need the embedding scoring strategy must use an
// OpenAI-compatible endpoint instead.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

// NewAnthropicClient creates a new Anthropic-backed classifier.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &AnthropicClient{
		client: anthropic.NewClient(cfg.APIKey),
		model:  cfg.Model,
		logger: logger.Named("llm"),
	}, nil
}

// Classify implements Classifier.
func (c *AnthropicClient) Classify(ctx context.Context, text string, labels []string) (*Hypothesis, error) {
	prompt := fmt.Sprintf("Allowed labels: %s\n\nText: %s", strings.Join(labels, ", "), text)

	start := time.Now()
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		System:    classifySystemMessage,
		MaxTokens: 256,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(prompt),
		},
	})
	if err != nil {
		c.logger.Warn("classification request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("classification request failed: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	var hyp Hypothesis
	if err := UnmarshalResponse(resp.Content[0].GetText(), &hyp); err != nil {
		return nil, fmt.Errorf("unparseable classification: %w", err)
	}
	hyp.Confidence = clampConfidence(hyp.Confidence)
	return &hyp, nil
}

// CreateEmbedding implements Classifier. Not supported by Anthropic.
func (c *AnthropicClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings are not supported by the anthropic provider")
}

// Model implements Classifier.
func (c *AnthropicClient) Model() string {
	return c.model
}

var _ Classifier = (*AnthropicClient)(nil)
