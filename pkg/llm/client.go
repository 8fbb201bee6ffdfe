package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// classifySystemMessage instructs the model to answer with a single JSON
// object so responses stay machine-parseable.
const classifySystemMessage = `You are a text classifier. Pick the single best label for the user's text from the allowed labels. Respond with only a JSON object: {"label": "<label>", "confidence": <0.0-1.0>, "alternates": ["<label>", ...]}. The label must be one of the allowed labels.`

// Client is an OpenAI-compatible classifier client.
type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float64
	logger         *zap.Logger
}

// Config holds configuration for creating a classifier client.
type Config struct {
	Endpoint       string  // Base URL, e.g. "https://api.openai.com/v1"
	Model          string  // Model name, e.g. "gpt-4o-mini"
	EmbeddingModel string  // Embedding model name
	APIKey         string  // Optional for local endpoints
	Temperature    float64 // 0 for deterministic classification
}

// NewClient creates a new OpenAI-compatible classifier client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &Client{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		logger:         logger.Named("llm"),
	}, nil
}

// Classify implements Classifier.
func (c *Client) Classify(ctx context.Context, text string, labels []string) (*Hypothesis, error) {
	prompt := fmt.Sprintf("Allowed labels: %s\n\nText: %s", strings.Join(labels, ", "), text)

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifySystemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(c.temperature),
	})
	if err != nil {
		c.logger.Warn("classification request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("classification request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	var hyp Hypothesis
	if err := UnmarshalResponse(resp.Choices[0].Message.Content, &hyp); err != nil {
		return nil, fmt.Errorf("unparseable classification: %w", err)
	}
	hyp.Confidence = clampConfidence(hyp.Confidence)

	c.logger.Debug("classification completed",
		zap.String("label", hyp.Label),
		zap.Float64("confidence", hyp.Confidence),
		zap.Duration("elapsed", time.Since(start)))

	return &hyp, nil
}

// CreateEmbedding implements Classifier.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: []string{input},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}
	return resp.Data[0].Embedding, nil
}

// Model implements Classifier.
func (c *Client) Model() string {
	return c.model
}

// Ensure Client implements Classifier at compile time.
var _ Classifier = (*Client)(nil)
