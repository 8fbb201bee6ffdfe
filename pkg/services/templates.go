package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/cache"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
	"github.com/ekaya-inc/prompt-forge/pkg/repositories"
)

// Verbosity levels accepted in template preferences.
const (
	VerbosityConcise  = "concise"
	VerbosityStandard = "standard"
	VerbosityDetailed = "detailed"
)

// TemplatePreferences tailor dynamic template synthesis to the caller.
type TemplatePreferences struct {
	Verbosity       string
	IncludeRules    bool
	IncludeExamples bool
	AllowSynthesis  bool
}

// TemplateSelector chooses the best corpus template for a profile, or
// synthesizes one when no corpus candidate clears the quality threshold.
type TemplateSelector interface {
	Select(ctx context.Context, profile *models.BusinessContextProfile, prefs TemplatePreferences) (*models.PromptTemplate, error)
}

type templateSelector struct {
	repo      repositories.TemplateRepository
	cache     cache.Cache[[]models.PromptTemplate]
	cacheTTL  time.Duration
	threshold float64
	logger    *zap.Logger
}

// NewTemplateSelector creates a TemplateSelector. cache may be nil to
// reload the corpus on every request.
func NewTemplateSelector(
	repo repositories.TemplateRepository,
	templateCache cache.Cache[[]models.PromptTemplate],
	cacheTTL time.Duration,
	threshold float64,
	logger *zap.Logger,
) TemplateSelector {
	return &templateSelector{
		repo:      repo,
		cache:     templateCache,
		cacheTTL:  cacheTTL,
		threshold: threshold,
		logger:    logger,
	}
}

var _ TemplateSelector = (*templateSelector)(nil)

const templateCorpusCacheKey = "template:corpus"

func (s *templateSelector) Select(ctx context.Context, profile *models.BusinessContextProfile, prefs TemplatePreferences) (*models.PromptTemplate, error) {
	templates, err := s.loadCorpus(ctx)
	if err != nil {
		s.logger.Warn("template corpus unavailable", zap.Error(err))
		templates = nil
	}

	var (
		best      *models.PromptTemplate
		bestScore float64
	)
	for i := range templates {
		score := scoreTemplate(&templates[i], profile)
		if score > bestScore {
			best = &templates[i]
			bestScore = score
		}
	}

	if best != nil && bestScore >= s.threshold {
		s.logger.Debug("corpus template selected",
			zap.String("template", best.Name),
			zap.Float64("score", bestScore))
		selected := *best
		return &selected, nil
	}

	if !prefs.AllowSynthesis {
		return nil, fmt.Errorf("%w: best corpus score %.2f below threshold %.2f and synthesis disabled",
			apperrors.ErrTemplateNotFound, bestScore, s.threshold)
	}

	s.logger.Debug("synthesizing template",
		zap.Float64("best_corpus_score", bestScore),
		zap.String("verbosity", prefs.Verbosity))
	return SynthesizeTemplate(profile, prefs), nil
}

func (s *templateSelector) loadCorpus(ctx context.Context) ([]models.PromptTemplate, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(templateCorpusCacheKey); ok {
			return cached, nil
		}
	}
	templates, err := s.repo.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetIfAbsent(templateCorpusCacheKey, templates, s.cacheTTL)
	}
	return templates, nil
}

// scoreTemplate rates a corpus template for a profile. Intent dominates;
// untagged templates score as weak generic matches.
func scoreTemplate(t *models.PromptTemplate, profile *models.BusinessContextProfile) float64 {
	intentScore := 0.0
	switch {
	case len(t.Intents) == 0:
		intentScore = 0.5
	case t.MatchesIntent(profile.Intent.Type):
		intentScore = 1.0
	}

	domainScore := 0.0
	switch {
	case len(t.Domains) == 0:
		domainScore = 0.5
	case containsString(t.Domains, profile.Domain.Name):
		domainScore = 1.0
	}

	return 0.6*intentScore + 0.4*domainScore
}

// ============================================================================
// Dynamic synthesis
// ============================================================================

// SynthesizeTemplate builds a one-request template from the ordered,
// composable slots, honoring the caller's preferences. Synthesized
// templates carry a deterministic id derived from their shape so repeated
// identical requests produce identical templates.
func SynthesizeTemplate(profile *models.BusinessContextProfile, prefs TemplatePreferences) *models.PromptTemplate {
	var sb strings.Builder
	var slots []models.TemplateSlot

	switch prefs.Verbosity {
	case VerbosityConcise:
		sb.WriteString("Generate a SQL query answering the question below.\n\n")
	case VerbosityDetailed:
		sb.WriteString("You are an expert SQL analyst. Using only the schema and business context below, write a single correct SQL query answering the question. Prefer explicit joins and qualify all column names.\n\n")
	default:
		sb.WriteString("You are a SQL assistant. Use the context below to write one SQL query answering the question.\n\n")
	}

	addSlot := func(header, name string, required bool) {
		sb.WriteString("## " + header + "\n")
		sb.WriteString(models.Placeholder(name) + "\n\n")
		slots = append(slots, models.TemplateSlot{Name: name, Required: required})
	}

	addSlot("Business Context", models.SlotBusinessContext, true)
	addSlot("Schema", models.SlotSchemaContext, true)
	if prefs.IncludeRules {
		addSlot("Rules", models.SlotRules, false)
	}
	if prefs.IncludeExamples {
		addSlot("Examples", models.SlotExamples, false)
	}
	addSlot("Question", models.SlotQuestion, true)

	name := "synthesized-" + verbosityOrDefault(prefs.Verbosity)
	return &models.PromptTemplate{
		ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(name+sb.String())),
		Name:        name,
		Body:        sb.String(),
		Slots:       slots,
		Intents:     []models.IntentType{profile.Intent.Type},
		Synthesized: true,
	}
}

func verbosityOrDefault(v string) string {
	if v == "" {
		return VerbosityStandard
	}
	return v
}
