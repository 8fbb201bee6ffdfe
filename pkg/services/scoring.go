package services

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/prompt-forge/pkg/llm"
)

// ScoringStrategy computes normalized [0,1] relevance between a query text
// and a candidate text. The pipeline is coded against this interface so
// similarity math can be swapped without touching any stage.
type ScoringStrategy interface {
	// Score returns the relevance of candidate to query in [0,1].
	Score(ctx context.Context, query, candidate string) (float64, error)

	// Name identifies the strategy in trace detail payloads.
	Name() string
}

// TokenEstimator estimates generation-model token counts for text. The
// assembler recounts with the same estimator after concatenation so budget
// checks and final counts agree.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// ============================================================================
// Lexical scoring
// ============================================================================

// lexicalScoring scores by normalized word overlap. Words are lower-cased
// and singularized so "depositors" matches a "depositor" column and
// "countries" matches a "country" table.
type lexicalScoring struct{}

// NewLexicalScoring creates the default, dependency-free scoring strategy.
func NewLexicalScoring() ScoringStrategy {
	return &lexicalScoring{}
}

var _ ScoringStrategy = (*lexicalScoring)(nil)

func (s *lexicalScoring) Name() string { return "lexical" }

func (s *lexicalScoring) Score(ctx context.Context, query, candidate string) (float64, error) {
	queryWords := normalizeWords(query)
	candidateWords := normalizeWords(candidate)
	if len(queryWords) == 0 || len(candidateWords) == 0 {
		return 0, nil
	}

	candidateSet := make(map[string]bool, len(candidateWords))
	for _, w := range candidateWords {
		candidateSet[w] = true
	}

	matched := 0
	for _, w := range queryWords {
		if candidateSet[w] {
			matched++
		}
	}

	// Overlap relative to the smaller side keeps short candidate names
	// (single-word table names) from being punished for their length.
	denom := len(queryWords)
	if len(candidateWords) < denom {
		denom = len(candidateWords)
	}
	return float64(matched) / float64(denom), nil
}

// normalizeWords lower-cases, splits on non-letter/digit runs, singularizes
// and drops stopwords.
func normalizeWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		out = append(out, inflection.Singular(f))
	}
	return out
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"for": true, "by": true, "to": true, "and": true, "or": true, "from": true,
	"with": true, "is": true, "are": true, "was": true, "were": true,
	"show": true, "me": true, "what": true, "which": true, "how": true,
}

// ============================================================================
// Embedding scoring
// ============================================================================

// embeddingScoring scores by cosine similarity of classifier embeddings.
// Failed embedding calls degrade to zero relevance rather than erroring so
// a flaky endpoint cannot abort a retrieval fan-out.
type embeddingScoring struct {
	classifier llm.Classifier
}

// NewEmbeddingScoring creates an embedding-backed scoring strategy.
func NewEmbeddingScoring(classifier llm.Classifier) ScoringStrategy {
	return &embeddingScoring{classifier: classifier}
}

var _ ScoringStrategy = (*embeddingScoring)(nil)

func (s *embeddingScoring) Name() string { return "embedding" }

func (s *embeddingScoring) Score(ctx context.Context, query, candidate string) (float64, error) {
	qv, err := s.classifier.CreateEmbedding(ctx, query)
	if err != nil {
		return 0, nil
	}
	cv, err := s.classifier.CreateEmbedding(ctx, candidate)
	if err != nil {
		return 0, nil
	}
	sim := cosineSimilarity(qv, cv)
	// Cosine lands in [-1,1]; clamp the negative half to keep scores normalized.
	if sim < 0 {
		return 0, nil
	}
	return sim, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ============================================================================
// Token estimation
// ============================================================================

// heuristicTokenEstimator approximates BPE tokenization as one token per
// four characters, floored at the word count. Close enough for budgeting;
// the reserved-response headroom absorbs the error.
type heuristicTokenEstimator struct{}

// NewHeuristicTokenEstimator creates the default token estimator.
func NewHeuristicTokenEstimator() TokenEstimator {
	return &heuristicTokenEstimator{}
}

var _ TokenEstimator = (*heuristicTokenEstimator)(nil)

func (e *heuristicTokenEstimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byChars := (len(text) + 3) / 4
	byWords := len(strings.Fields(text))
	if byWords > byChars {
		return byWords
	}
	return byChars
}
