package llm

import (
	"context"
)

// MockClassifier is a configurable mock for testing classification
// consumers. Set the function fields to control behavior in tests.
type MockClassifier struct {
	// ClassifyFunc is called when Classify is invoked.
	// If nil, returns a zero-confidence "unknown" hypothesis.
	ClassifyFunc func(ctx context.Context, text string, labels []string) (*Hypothesis, error)

	// CreateEmbeddingFunc is called when CreateEmbedding is invoked.
	// If nil, returns nil slice and nil error.
	CreateEmbeddingFunc func(ctx context.Context, input string) ([]float32, error)

	// ModelName is returned by Model. Defaults to "mock-model".
	ModelName string

	// Call tracking for verification
	ClassifyCalls        int
	CreateEmbeddingCalls int
}

// NewMockClassifier creates a new mock with sensible defaults.
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{ModelName: "mock-model"}
}

// Classify implements Classifier.
func (m *MockClassifier) Classify(ctx context.Context, text string, labels []string) (*Hypothesis, error) {
	m.ClassifyCalls++
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, text, labels)
	}
	return &Hypothesis{Label: "unknown", Confidence: 0}, nil
}

// CreateEmbedding implements Classifier.
func (m *MockClassifier) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	m.CreateEmbeddingCalls++
	if m.CreateEmbeddingFunc != nil {
		return m.CreateEmbeddingFunc(ctx, input)
	}
	return nil, nil
}

// Model implements Classifier.
func (m *MockClassifier) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// Reset clears call tracking counters.
func (m *MockClassifier) Reset() {
	m.ClassifyCalls = 0
	m.CreateEmbeddingCalls = 0
}

// Ensure MockClassifier implements Classifier at compile time.
var _ Classifier = (*MockClassifier)(nil)
