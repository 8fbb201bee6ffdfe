package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/cache"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
	"github.com/ekaya-inc/prompt-forge/pkg/repositories"
	"github.com/ekaya-inc/prompt-forge/pkg/testhelpers"
)

func newTestSelector(repo repositories.TemplateRepository, c cache.Cache[[]models.PromptTemplate]) TemplateSelector {
	if repo == nil {
		repo = repositories.NewMemoryTemplateRepository(testhelpers.NewFixtureSnapshot())
	}
	return NewTemplateSelector(repo, c, time.Hour, 0.8, zap.NewNop())
}

func TestTemplateSelector_Select_BestCorpusMatch(t *testing.T) {
	selector := newTestSelector(nil, nil)

	template, err := selector.Select(context.Background(), bankingProfile(), TemplatePreferences{})
	require.NoError(t, err)

	// Intent and domain both match: 0.6*1.0 + 0.4*1.0 clears the threshold.
	assert.Equal(t, "banking-aggregation", template.Name)
	assert.False(t, template.Synthesized)
}

func TestTemplateSelector_Select_SynthesizesBelowThreshold(t *testing.T) {
	selector := newTestSelector(nil, nil)

	profile := uncategorizedProfile()
	template, err := selector.Select(context.Background(), profile, TemplatePreferences{
		AllowSynthesis: true,
		Verbosity:      VerbosityConcise,
		IncludeRules:   true,
	})
	require.NoError(t, err)

	assert.True(t, template.Synthesized)
	assert.Equal(t, "synthesized-concise", template.Name)
	assert.True(t, template.HasSlot(models.SlotRules))
	assert.False(t, template.HasSlot(models.SlotExamples))
	assert.Contains(t, template.Body, models.Placeholder(models.SlotQuestion))
}

func TestTemplateSelector_Select_SynthesisDisabled(t *testing.T) {
	selector := newTestSelector(nil, nil)

	_, err := selector.Select(context.Background(), uncategorizedProfile(), TemplatePreferences{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
}

func TestTemplateSelector_Select_CorpusFailureFallsBackToSynthesis(t *testing.T) {
	selector := newTestSelector(failingTemplateRepo{}, nil)

	template, err := selector.Select(context.Background(), bankingProfile(), TemplatePreferences{AllowSynthesis: true})
	require.NoError(t, err)
	assert.True(t, template.Synthesized)
}

func TestTemplateSelector_Select_CachesCorpus(t *testing.T) {
	repo := &countingTemplateRepo{TemplateRepository: repositories.NewMemoryTemplateRepository(testhelpers.NewFixtureSnapshot())}
	selector := newTestSelector(repo, cache.New[[]models.PromptTemplate](0, nil))

	_, err := selector.Select(context.Background(), bankingProfile(), TemplatePreferences{})
	require.NoError(t, err)
	_, err = selector.Select(context.Background(), bankingProfile(), TemplatePreferences{})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)
}

func TestSynthesizeTemplate_Deterministic(t *testing.T) {
	profile := bankingProfile()
	prefs := TemplatePreferences{Verbosity: VerbosityDetailed, IncludeRules: true, IncludeExamples: true, AllowSynthesis: true}

	first := SynthesizeTemplate(profile, prefs)
	second := SynthesizeTemplate(profile, prefs)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Body, second.Body)
}

func TestSynthesizeTemplate_SlotOrderAndRequirements(t *testing.T) {
	template := SynthesizeTemplate(bankingProfile(), TemplatePreferences{IncludeRules: true, IncludeExamples: true})

	names := make([]string, len(template.Slots))
	for i, s := range template.Slots {
		names[i] = s.Name
	}
	assert.Equal(t, []string{
		models.SlotBusinessContext,
		models.SlotSchemaContext,
		models.SlotRules,
		models.SlotExamples,
		models.SlotQuestion,
	}, names)

	for _, s := range template.Slots {
		switch s.Name {
		case models.SlotRules, models.SlotExamples:
			assert.False(t, s.Required, s.Name)
		default:
			assert.True(t, s.Required, s.Name)
		}
	}

	assert.Equal(t, "synthesized-standard", template.Name, "empty verbosity defaults to standard")
}

// ============================================================================
// Template repo mocks
// ============================================================================

type failingTemplateRepo struct{}

func (failingTemplateRepo) ListTemplates(ctx context.Context) ([]models.PromptTemplate, error) {
	return nil, errors.New("corpus file missing")
}

type countingTemplateRepo struct {
	repositories.TemplateRepository
	listCalls int
}

func (r *countingTemplateRepo) ListTemplates(ctx context.Context) ([]models.PromptTemplate, error) {
	r.listCalls++
	return r.TemplateRepository.ListTemplates(ctx)
}
