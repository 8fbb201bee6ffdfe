package services

import (
	"context"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/prompt-forge/pkg/llm"
	"github.com/ekaya-inc/prompt-forge/pkg/logging"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

// Overall-confidence weights from the profile contract:
// 0.3*intent + 0.3*domain + 0.4*mean(entity confidence).
const (
	intentConfidenceWeight = 0.3
	domainScoreWeight      = 0.3
	entityConfidenceWeight = 0.4
)

// minDomainScore is the floor under which domain detection reports
// "uncategorized" instead of its best guess.
const minDomainScore = 0.15

// ContextAnalyzer turns a raw question into a BusinessContextProfile.
// It never fails: a classifier error degrades the affected sub-result to a
// rule-based fallback and lowers the profile's confidence.
type ContextAnalyzer interface {
	Analyze(ctx context.Context, question, userID string) (*models.BusinessContextProfile, error)
}

// GlossaryLister is the slice of the metadata store the analyzer needs to
// match business terms against the question.
type GlossaryLister interface {
	ListGlossaryTerms(ctx context.Context) ([]models.GlossaryTerm, error)
}

type contextAnalyzer struct {
	classifier llm.Classifier
	scoring    ScoringStrategy
	domains    []models.DomainDescriptor
	glossary   GlossaryLister
	logger     *zap.Logger
	clock      func() time.Time
}

// NewContextAnalyzer creates a new ContextAnalyzer over the given domain
// registry. glossary may be nil when no term matching is wanted. clock
// anchors relative time expressions; pass time.Now outside of tests.
func NewContextAnalyzer(
	classifier llm.Classifier,
	scoring ScoringStrategy,
	domains []models.DomainDescriptor,
	glossary GlossaryLister,
	logger *zap.Logger,
	clock func() time.Time,
) ContextAnalyzer {
	if clock == nil {
		clock = time.Now
	}
	return &contextAnalyzer{
		classifier: classifier,
		scoring:    scoring,
		domains:    domains,
		glossary:   glossary,
		logger:     logger,
		clock:      clock,
	}
}

var _ ContextAnalyzer = (*contextAnalyzer)(nil)

// Analyze runs the four sub-analyses concurrently and joins them into a
// profile. No caller ever observes a partially joined profile; each
// goroutine writes only its own result variable before the barrier.
func (a *contextAnalyzer) Analyze(ctx context.Context, question, userID string) (*models.BusinessContextProfile, error) {
	var (
		intent         models.Intent
		intentDegraded bool
		domain         models.DomainMatch
		entities       []models.BusinessEntity
		terms          []models.TermMatch
		timeRange      *models.TimeRange
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		intent, intentDegraded = a.classifyIntent(gctx, question)
		return nil
	})
	g.Go(func() error {
		domain = a.detectDomain(gctx, question)
		return nil
	})
	g.Go(func() error {
		entities = extractEntities(question)
		terms = a.matchTerms(gctx, question)
		return nil
	})
	g.Go(func() error {
		timeRange, _ = ExtractTimeRange(question, a.clock())
		return nil
	})
	// Sub-analyses degrade internally instead of returning errors, so the
	// join only fails if the context itself did.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profile := &models.BusinessContextProfile{
		Question:   question,
		UserID:     userID,
		Intent:     intent,
		Domain:     domain,
		Entities:   entities,
		Terms:      terms,
		TimeRange:  timeRange,
		Degraded:   intentDegraded,
		AnalyzedAt: a.clock(),
	}
	profile.OverallConfidence = intentConfidenceWeight*intent.Confidence +
		domainScoreWeight*domain.Score +
		entityConfidenceWeight*profile.MeanEntityConfidence()

	a.logger.Debug("question analyzed",
		zap.String("question", logging.SanitizeQuestion(question)),
		zap.String("intent", intent.Type.String()),
		zap.String("domain", domain.Name),
		zap.Int("entities", len(entities)),
		zap.Float64("confidence", profile.OverallConfidence),
		zap.Bool("degraded", profile.Degraded))

	return profile, nil
}

// ============================================================================
// Intent classification
// ============================================================================

var intentLabels = []string{
	models.IntentAnalytical.String(),
	models.IntentOperational.String(),
	models.IntentAggregation.String(),
	models.IntentComparison.String(),
	models.IntentTrend.String(),
}

// classifyIntent asks the external classifier, falling back to keyword
// rules when the call fails or returns garbage. The second return reports
// whether the fallback was used.
func (a *contextAnalyzer) classifyIntent(ctx context.Context, question string) (models.Intent, bool) {
	hyp, err := a.classifier.Classify(ctx, question, intentLabels)
	if err != nil {
		a.logger.Warn("intent classifier unavailable, using keyword fallback",
			zap.Error(err))
		return keywordIntent(question), true
	}

	intentType, err := models.ParseIntentType(hyp.Label)
	if err != nil || intentType == models.IntentUnknown {
		a.logger.Warn("intent classifier returned unrecognized label, using keyword fallback",
			zap.String("label", hyp.Label))
		return keywordIntent(question), true
	}

	return models.Intent{
		Type:       intentType,
		Confidence: hyp.Confidence,
		SubIntents: hyp.Alternates,
	}, false
}

// fallbackIntentConfidence caps keyword-derived intents so degraded
// classifications are visibly less trusted than model ones.
const fallbackIntentConfidence = 0.4

var intentKeywords = []struct {
	intent   models.IntentType
	keywords []string
}{
	{models.IntentTrend, []string{"trend", "over time", "growth", "decline", "change in"}},
	{models.IntentComparison, []string{"compare", "versus", " vs ", "difference between", "compared to"}},
	{models.IntentAggregation, []string{"top ", "total", "sum", "count", "average", "max", "min", "how many", "how much"}},
	{models.IntentOperational, []string{"list ", "show ", "find ", "lookup", "which records"}},
	{models.IntentAnalytical, []string{"why", "correlat", "impact", "driver", "breakdown"}},
}

// keywordIntent is the rule-based fallback used when the classifier is
// unavailable. Matches the first keyword group in priority order.
func keywordIntent(question string) models.Intent {
	lower := strings.ToLower(question)
	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return models.Intent{Type: group.intent, Confidence: fallbackIntentConfidence}
			}
		}
	}
	return models.Intent{Type: models.IntentUnknown, Confidence: 0.1}
}

// ============================================================================
// Domain detection
// ============================================================================

// detectDomain matches the question against the domain registry and keeps
// the best score. A scoring failure or a weak best match degrades to the
// uncategorized domain instead of erroring.
func (a *contextAnalyzer) detectDomain(ctx context.Context, question string) models.DomainMatch {
	best := models.DomainMatch{Name: models.DomainUncategorized, Score: 0}
	for _, d := range a.domains {
		descriptor := d.Name + " " + d.Description + " " + strings.Join(d.KeyConcepts, " ")
		score, err := a.scoring.Score(ctx, question, descriptor)
		if err != nil {
			a.logger.Warn("domain scoring failed",
				zap.String("domain", d.Name),
				zap.Error(err))
			continue
		}
		if score > best.Score {
			best = models.DomainMatch{Name: d.Name, Score: score, KeyConcepts: d.KeyConcepts}
		}
	}
	if best.Score < minDomainScore {
		return models.DomainMatch{Name: models.DomainUncategorized, Score: best.Score}
	}
	return best
}

// ============================================================================
// Entity extraction
// ============================================================================

var metricKeywords = map[string]bool{
	"total": true, "sum": true, "count": true, "average": true, "avg": true,
	"max": true, "maximum": true, "min": true, "minimum": true, "top": true,
	"revenue": true, "amount": true, "number": true, "median": true,
}

var comparisonKeywords = map[string]bool{
	"versus": true, "vs": true, "compare": true, "compared": true,
	"difference": true, "than": true,
}

var timeKeywords = map[string]bool{
	"yesterday": true, "today": true, "week": true, "month": true,
	"quarter": true, "year": true, "hour": true, "daily": true,
	"weekly": true, "monthly": true, "last": true, "past": true,
}

// extractEntities walks the question word by word, tagging metric, time,
// comparison and dimension mentions and treating the remaining content
// words as table/column candidates for downstream schema mapping.
func extractEntities(question string) []models.BusinessEntity {
	var entities []models.BusinessEntity

	prevWord := ""
	for _, tok := range tokenize(question) {
		lower := strings.ToLower(tok.text)
		category := models.EntityCategory("")
		confidence := 0.0

		switch {
		case metricKeywords[lower]:
			category, confidence = models.EntityCategoryMetric, 0.9
		case comparisonKeywords[lower]:
			category, confidence = models.EntityCategoryComparison, 0.9
		case timeKeywords[lower]:
			category, confidence = models.EntityCategoryTime, 0.8
		case prevWord == "by" || prevWord == "per":
			// "by country", "per player" name grouping dimensions.
			category, confidence = models.EntityCategoryDimension, 0.7
		case stopwords[lower] || len(lower) < 3:
			// Skip glue words.
		default:
			category, confidence = models.EntityCategoryTable, 0.5
		}

		if category != "" {
			entities = append(entities, models.BusinessEntity{
				Name:       lower,
				Category:   category,
				SpanStart:  tok.start,
				SpanEnd:    tok.end,
				Confidence: confidence,
			})
		}
		prevWord = lower
	}
	return entities
}

// ============================================================================
// Business term matching
// ============================================================================

// matchTerms finds glossary terms (or their aliases) mentioned in the
// question. Glossary failures yield no matches rather than an error; the
// retrieval engine has its own glossary strategy downstream.
func (a *contextAnalyzer) matchTerms(ctx context.Context, question string) []models.TermMatch {
	if a.glossary == nil {
		return nil
	}
	glossaryTerms, err := a.glossary.ListGlossaryTerms(ctx)
	if err != nil {
		a.logger.Warn("glossary unavailable for term matching", zap.Error(err))
		return nil
	}

	lower := strings.ToLower(question)
	var matches []models.TermMatch
	for _, t := range glossaryTerms {
		score := 0.0
		if strings.Contains(lower, strings.ToLower(t.Term)) {
			score = 0.9
		} else {
			for _, alias := range t.Aliases {
				if strings.Contains(lower, strings.ToLower(alias)) {
					score = 0.8
					break
				}
			}
		}
		if score > 0 {
			matches = append(matches, models.TermMatch{
				TermID:     t.ID,
				Term:       t.Term,
				Definition: t.Definition,
				Score:      score,
			})
		}
	}
	return matches
}

type token struct {
	text  string
	start int
	end   int
}

// tokenize splits on non-letter/digit runs while preserving byte offsets,
// which entity spans need.
func tokenize(text string) []token {
	var tokens []token
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, token{text: text[start:i], start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text: text[start:], start: start, end: len(text)})
	}
	return tokens
}
