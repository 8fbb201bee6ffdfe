// Package llm provides the text-classification collaborator used by the
// context analyzer, with OpenAI-compatible and Anthropic implementations.
package llm

import (
	"context"
)

// Hypothesis is the structured result of one classification call: the best
// label, the model's confidence in it, and any runner-up labels.
type Hypothesis struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Alternates []string `json:"alternates,omitempty"`
}

// Classifier defines the text-classification operations the analyzer needs.
// Implementations must honor ctx cancellation and deadlines; the analyzer
// treats any error (including deadline exceeded) as a signal to fall back
// to rule-based classification.
//
// Use this interface for dependency injection to enable mocking in tests.
type Classifier interface {
	// Classify asks the model to pick one of labels for the given text.
	Classify(ctx context.Context, text string, labels []string) (*Hypothesis, error)

	// CreateEmbedding generates an embedding vector for the input text.
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)

	// Model returns the configured model name.
	Model() string
}
