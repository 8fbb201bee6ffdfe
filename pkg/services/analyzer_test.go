package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/prompt-forge/pkg/llm"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
	"github.com/ekaya-inc/prompt-forge/pkg/repositories"
	"github.com/ekaya-inc/prompt-forge/pkg/testhelpers"
)

func newTestAnalyzer(classifier llm.Classifier, glossary GlossaryLister) ContextAnalyzer {
	return NewContextAnalyzer(
		classifier,
		NewLexicalScoring(),
		DefaultDomainRegistry(),
		glossary,
		zap.NewNop(),
		testhelpers.FixedClock(testhelpers.FixtureNow),
	)
}

func classifierReturning(label string, confidence float64) *llm.MockClassifier {
	mock := llm.NewMockClassifier()
	mock.ClassifyFunc = func(ctx context.Context, text string, labels []string) (*llm.Hypothesis, error) {
		return &llm.Hypothesis{Label: label, Confidence: confidence}, nil
	}
	return mock
}

func TestContextAnalyzer_Analyze_BankingQuestion(t *testing.T) {
	glossary := repositories.NewMemoryMetadataStore(testhelpers.NewFixtureSnapshot())
	analyzer := newTestAnalyzer(classifierReturning("aggregation", 0.9), glossary)

	profile, err := analyzer.Analyze(context.Background(), "Top 10 depositors yesterday from the UK", "user-1")
	require.NoError(t, err)

	assert.Equal(t, models.IntentAggregation, profile.Intent.Type)
	assert.Equal(t, 0.9, profile.Intent.Confidence)
	assert.False(t, profile.Degraded)

	assert.Equal(t, "banking", profile.Domain.Name)
	assert.InDelta(t, 0.2, profile.Domain.Score, 1e-9, "one of five content words hits the domain descriptor")

	require.NotNil(t, profile.TimeRange)
	assert.Equal(t, "yesterday", profile.TimeRange.Relative)

	// "depositor" matches the glossary term via its plural alias.
	require.Len(t, profile.Terms, 1)
	assert.Equal(t, "depositor", profile.Terms[0].Term)
}

func TestContextAnalyzer_Analyze_EntityExtraction(t *testing.T) {
	analyzer := newTestAnalyzer(classifierReturning("aggregation", 0.9), nil)

	profile, err := analyzer.Analyze(context.Background(), "total deposits by country", "")
	require.NoError(t, err)

	byName := map[string]models.BusinessEntity{}
	for _, e := range profile.Entities {
		byName[e.Name] = e
	}

	require.Contains(t, byName, "total")
	assert.Equal(t, models.EntityCategoryMetric, byName["total"].Category)
	assert.Equal(t, 0.9, byName["total"].Confidence)

	require.Contains(t, byName, "country")
	assert.Equal(t, models.EntityCategoryDimension, byName["country"].Category, `word after "by" is a grouping dimension`)

	require.Contains(t, byName, "deposits")
	assert.Equal(t, models.EntityCategoryTable, byName["deposits"].Category)
	assert.Equal(t, 0.5, byName["deposits"].Confidence)

	// Spans index into the original question.
	e := byName["country"]
	assert.Equal(t, "country", "total deposits by country"[e.SpanStart:e.SpanEnd])
}

func TestContextAnalyzer_Analyze_ClassifierFailureFallsBack(t *testing.T) {
	mock := llm.NewMockClassifier()
	mock.ClassifyFunc = func(ctx context.Context, text string, labels []string) (*llm.Hypothesis, error) {
		return nil, errors.New("connection refused")
	}
	analyzer := newTestAnalyzer(mock, nil)

	profile, err := analyzer.Analyze(context.Background(), "total revenue by month", "")
	require.NoError(t, err, "classifier failures degrade, they do not abort analysis")

	assert.True(t, profile.Degraded)
	assert.Equal(t, models.IntentAggregation, profile.Intent.Type, `keyword fallback matches "total"`)
	assert.Equal(t, 0.4, profile.Intent.Confidence)
}

func TestContextAnalyzer_Analyze_UnrecognizedLabelFallsBack(t *testing.T) {
	analyzer := newTestAnalyzer(classifierReturning("poetry", 0.99), nil)

	profile, err := analyzer.Analyze(context.Background(), "compare signups versus churn", "")
	require.NoError(t, err)

	assert.True(t, profile.Degraded)
	assert.Equal(t, models.IntentComparison, profile.Intent.Type)
	assert.Equal(t, 0.4, profile.Intent.Confidence)
}

func TestContextAnalyzer_Analyze_GibberishIsUncategorized(t *testing.T) {
	analyzer := newTestAnalyzer(llm.NewMockClassifier(), nil)

	profile, err := analyzer.Analyze(context.Background(), "xyzzy plugh", "")
	require.NoError(t, err)

	assert.Equal(t, models.IntentUnknown, profile.Intent.Type)
	assert.Equal(t, 0.1, profile.Intent.Confidence)
	assert.True(t, profile.Degraded)
	assert.Equal(t, models.DomainUncategorized, profile.Domain.Name)
	assert.Nil(t, profile.TimeRange)
}

func TestContextAnalyzer_Analyze_OverallConfidenceWeights(t *testing.T) {
	analyzer := newTestAnalyzer(classifierReturning("aggregation", 1.0), nil)

	profile, err := analyzer.Analyze(context.Background(), "xyzzyqq", "")
	require.NoError(t, err)

	// One table-candidate entity at 0.5, no domain match.
	require.Len(t, profile.Entities, 1)
	assert.Equal(t, 0.0, profile.Domain.Score)
	want := 0.3*1.0 + 0.3*0.0 + 0.4*0.5
	assert.InDelta(t, want, profile.OverallConfidence, 1e-9)
}

func TestContextAnalyzer_Analyze_GlossaryFailureYieldsNoTerms(t *testing.T) {
	analyzer := newTestAnalyzer(classifierReturning("analytical", 0.8), failingGlossary{})

	profile, err := analyzer.Analyze(context.Background(), "depositor churn breakdown", "")
	require.NoError(t, err)
	assert.Empty(t, profile.Terms)
}

type failingGlossary struct{}

func (failingGlossary) ListGlossaryTerms(ctx context.Context) ([]models.GlossaryTerm, error) {
	return nil, errors.New("store offline")
}
