package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
	"github.com/ekaya-inc/prompt-forge/pkg/repositories"
)

// AssembledPrompt is the assembler's output: final prompt text and the
// exact token recount of that text.
type AssembledPrompt struct {
	Text       string
	TokenCount int
	Examples   []repositories.WorkedExample
}

// PromptAssembler merges selected sections and ranked examples into the
// template's slots. Given identical inputs the output is byte-identical;
// nothing here consults a clock, random source or map iteration order.
type PromptAssembler interface {
	Assemble(
		ctx context.Context,
		profile *models.BusinessContextProfile,
		template *models.PromptTemplate,
		sections []models.ContextSection,
		examples []repositories.WorkedExample,
		maxExamples int,
	) (*AssembledPrompt, error)
}

type promptAssembler struct {
	scoring   ScoringStrategy
	estimator TokenEstimator
	logger    *zap.Logger
}

// NewPromptAssembler creates a PromptAssembler. The estimator must be the
// same one used for section costs so the recount matches budgeting.
func NewPromptAssembler(scoring ScoringStrategy, estimator TokenEstimator, logger *zap.Logger) PromptAssembler {
	return &promptAssembler{scoring: scoring, estimator: estimator, logger: logger}
}

var _ PromptAssembler = (*promptAssembler)(nil)

func (a *promptAssembler) Assemble(
	ctx context.Context,
	profile *models.BusinessContextProfile,
	template *models.PromptTemplate,
	sections []models.ContextSection,
	examples []repositories.WorkedExample,
	maxExamples int,
) (*AssembledPrompt, error) {
	ranked := a.rankExamples(ctx, profile, examples, maxExamples)

	slotContent := map[string]string{
		models.SlotBusinessContext: renderSections(sections, models.SectionBusinessContext, models.SectionGlossary),
		models.SlotSchemaContext:   renderSections(sections, models.SectionTableSummary, models.SectionColumnGroup, models.SectionRelationships),
		models.SlotRules:           renderSections(sections, models.SectionBusinessRule),
		models.SlotExamples:        renderExamples(ranked),
		models.SlotQuestion:        profile.Question,
	}

	text := template.Body
	for _, slot := range template.Slots {
		content, known := slotContent[slot.Name]
		if !known {
			return nil, fmt.Errorf("%w: template %s declares unknown slot %q",
				apperrors.ErrAssemblyFailure, template.Name, slot.Name)
		}
		if slot.Required && strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("%w: required slot %q is empty",
				apperrors.ErrAssemblyFailure, slot.Name)
		}
		text = strings.ReplaceAll(text, models.Placeholder(slot.Name), content)
	}

	// Exact recount: compression and concatenation change counts, so
	// upstream estimates are never trusted for the final number.
	tokenCount := a.estimator.EstimateTokens(text)

	a.logger.Debug("prompt assembled",
		zap.String("template", template.Name),
		zap.Int("sections", len(sections)),
		zap.Int("examples", len(ranked)),
		zap.Int("token_count", tokenCount))

	return &AssembledPrompt{
		Text:       text,
		TokenCount: tokenCount,
		Examples:   ranked,
	}, nil
}

// renderSections concatenates the selected sections of the given kinds in
// selection order, using each section's effective (possibly compressed)
// content.
func renderSections(sections []models.ContextSection, kinds ...models.SectionKind) string {
	wanted := make(map[models.SectionKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}
	var sb strings.Builder
	for _, s := range sections {
		if wanted[s.Kind] {
			sb.WriteString(s.EffectiveContent())
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderExamples(examples []repositories.WorkedExample) string {
	var sb strings.Builder
	for i, e := range examples {
		fmt.Fprintf(&sb, "Example %d:\nQ: %s\nSQL: %s\n", i+1, e.Question, e.SQL)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// rankExamples scores worked examples against the question with the same
// scoring strategy used for schema sections and keeps the top maxExamples.
// Example id breaks score ties so ranking stays deterministic.
func (a *promptAssembler) rankExamples(
	ctx context.Context,
	profile *models.BusinessContextProfile,
	examples []repositories.WorkedExample,
	maxExamples int,
) []repositories.WorkedExample {
	if len(examples) == 0 || maxExamples <= 0 {
		return nil
	}

	type scoredExample struct {
		ex    repositories.WorkedExample
		score float64
	}
	scored := make([]scoredExample, 0, len(examples))
	for _, e := range examples {
		score, err := a.scoring.Score(ctx, profile.Question, e.Question)
		if err != nil {
			continue
		}
		// Same-domain examples rank ahead of generic ones.
		if containsString(e.Domains, profile.Domain.Name) {
			score = 0.7*score + 0.3
		}
		if score > 0 {
			scored = append(scored, scoredExample{ex: e, score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].ex.ID.String() < scored[j].ex.ID.String()
	})

	if len(scored) > maxExamples {
		scored = scored[:maxExamples]
	}
	out := make([]repositories.WorkedExample, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.ex)
	}
	return out
}
