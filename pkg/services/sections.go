package services

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

// Importance by section kind. Relevance varies per candidate; importance
// reflects how much a kind matters to correct SQL regardless of the
// specific question.
const (
	importanceBusinessContext = 1.0
	importanceTableSummary    = 0.9
	importanceColumnGroup     = 0.85
	importanceRule            = 0.85
	importanceRelationships   = 0.75
	importanceGlossary        = 0.6
)

// maxCompressedColumns bounds the column list in a compressed column group.
const maxCompressedColumns = 6

// SectionBuilder turns a profile and its contextual schema into candidate
// prompt sections for the assembly engine. Rendering is deterministic:
// identical inputs produce byte-identical sections in identical order.
type SectionBuilder struct {
	estimator TokenEstimator
}

// NewSectionBuilder creates a SectionBuilder using the given estimator for
// section token costs.
func NewSectionBuilder(estimator TokenEstimator) *SectionBuilder {
	return &SectionBuilder{estimator: estimator}
}

// BuildSections generates the candidate sections in presentation order:
// business context, then per-table summaries and column groups in rank
// order, relationships, rules, glossary.
func (b *SectionBuilder) BuildSections(profile *models.BusinessContextProfile, schema *models.ContextualSchema) []models.ContextSection {
	var sections []models.ContextSection

	sections = append(sections, b.businessContextSection(profile))

	for _, rt := range schema.Tables {
		sections = append(sections, b.tableSummarySection(rt))
		if cols := schema.Columns[rt.Table.Name]; len(cols) > 0 {
			sections = append(sections, b.columnGroupSection(rt, cols))
		}
	}

	if len(schema.Relationships) > 0 {
		sections = append(sections, b.relationshipsSection(schema.Relationships))
	}

	for _, rule := range schema.Rules {
		sections = append(sections, b.ruleSection(rule))
	}

	if len(schema.Terms) > 0 {
		sections = append(sections, b.glossarySection(schema.Terms))
	}

	return sections
}

// businessContextSection summarizes the question's interpretation. Always
// essential: a prompt without it loses the question's framing.
func (b *SectionBuilder) businessContextSection(profile *models.BusinessContextProfile) models.ContextSection {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Intent: %s (confidence %.2f)\n", profile.Intent.Type, profile.Intent.Confidence)
	fmt.Fprintf(&sb, "Business domain: %s\n", profile.Domain.Name)
	if profile.TimeRange != nil {
		tr := profile.TimeRange
		fmt.Fprintf(&sb, "Time range: %s to %s (granularity: %s)\n",
			tr.Start.Format("2006-01-02"), tr.End.Format("2006-01-02"), tr.Granularity)
	}
	content := sb.String()
	compressed := fmt.Sprintf("Intent: %s. Domain: %s.\n", profile.Intent.Type, profile.Domain.Name)

	return models.ContextSection{
		ID:         "business_context",
		Kind:       models.SectionBusinessContext,
		Title:      "Business Context",
		Content:    content,
		Relevance:  1.0,
		Importance: importanceBusinessContext,
		TokenCost:  b.estimator.EstimateTokens(content),
		Essential:  true,
		Compressed: &models.CompressedVariant{
			Content:   compressed,
			TokenCost: b.estimator.EstimateTokens(compressed),
		},
	}
}

func (b *SectionBuilder) tableSummarySection(rt models.RankedTable) models.ContextSection {
	t := rt.Table
	content := fmt.Sprintf("Table %s: %s\n", t.QualifiedName(), t.Description)
	if t.Governance.Deprecated {
		content += "Note: this table is deprecated.\n"
	}
	compressed := fmt.Sprintf("Table %s\n", t.QualifiedName())

	return models.ContextSection{
		ID:          "table:" + t.Name,
		Kind:        models.SectionTableSummary,
		Title:       "Table " + t.Name,
		Content:     content,
		SourceTable: t.Name,
		Relevance:   rt.Score,
		Importance:  importanceTableSummary,
		TokenCost:   b.estimator.EstimateTokens(content),
		Compressed: &models.CompressedVariant{
			Content:   compressed,
			TokenCost: b.estimator.EstimateTokens(compressed),
		},
	}
}

func (b *SectionBuilder) columnGroupSection(rt models.RankedTable, cols []models.ColumnMetadata) models.ContextSection {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Columns of %s:\n", rt.Table.Name)
	for _, c := range cols {
		fmt.Fprintf(&sb, "  - %s (%s)", c.Name, c.DataType)
		if c.IsPrimaryKey {
			sb.WriteString(" [PK]")
		}
		if c.IsForeignKey {
			sb.WriteString(" [FK]")
		}
		if c.Description != "" {
			sb.WriteString(": " + c.Description)
		}
		sb.WriteString("\n")
	}
	content := sb.String()

	// Compressed variant: bare column names, truncated.
	names := make([]string, 0, len(cols))
	for i, c := range cols {
		if i >= maxCompressedColumns {
			names = append(names, "...")
			break
		}
		names = append(names, c.Name)
	}
	compressed := fmt.Sprintf("Columns of %s: %s\n", rt.Table.Name, strings.Join(names, ", "))

	return models.ContextSection{
		ID:          "columns:" + rt.Table.Name,
		Kind:        models.SectionColumnGroup,
		Title:       "Columns of " + rt.Table.Name,
		Content:     content,
		SourceTable: rt.Table.Name,
		Relevance:   rt.Score,
		Importance:  importanceColumnGroup,
		TokenCost:   b.estimator.EstimateTokens(content),
		Compressed: &models.CompressedVariant{
			Content:   compressed,
			TokenCost: b.estimator.EstimateTokens(compressed),
		},
	}
}

func (b *SectionBuilder) relationshipsSection(rels []models.Relationship) models.ContextSection {
	var sb strings.Builder
	sb.WriteString("Join paths:\n")
	for _, r := range rels {
		fmt.Fprintf(&sb, "  - %s.%s = %s.%s (%s)\n", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn, r.Kind)
	}
	content := sb.String()

	return models.ContextSection{
		ID:         "relationships",
		Kind:       models.SectionRelationships,
		Title:      "Join Paths",
		Content:    content,
		Relevance:  0.8,
		Importance: importanceRelationships,
		TokenCost:  b.estimator.EstimateTokens(content),
	}
}

func (b *SectionBuilder) ruleSection(rule models.BusinessRule) models.ContextSection {
	content := fmt.Sprintf("Rule (%s): %s\n", rule.Name, rule.Description)
	compressed := fmt.Sprintf("Rule: %s\n", rule.Name)

	relevance := 0.7
	if rule.Mandatory {
		relevance = 1.0
	}

	return models.ContextSection{
		ID:         "rule:" + rule.ID.String(),
		Kind:       models.SectionBusinessRule,
		Title:      "Rule " + rule.Name,
		Content:    content,
		Relevance:  relevance,
		Importance: importanceRule,
		TokenCost:  b.estimator.EstimateTokens(content),
		Essential:  rule.Mandatory,
		Compressed: &models.CompressedVariant{
			Content:   compressed,
			TokenCost: b.estimator.EstimateTokens(compressed),
		},
	}
}

func (b *SectionBuilder) glossarySection(terms []models.GlossaryTerm) models.ContextSection {
	var sb strings.Builder
	sb.WriteString("Business terms:\n")
	for _, t := range terms {
		fmt.Fprintf(&sb, "  - %s: %s\n", t.Term, t.Definition)
	}
	content := sb.String()

	names := make([]string, 0, len(terms))
	for _, t := range terms {
		names = append(names, t.Term)
	}
	compressed := "Business terms: " + strings.Join(names, ", ") + "\n"

	return models.ContextSection{
		ID:         "glossary",
		Kind:       models.SectionGlossary,
		Title:      "Business Terms",
		Content:    content,
		Relevance:  0.7,
		Importance: importanceGlossary,
		TokenCost:  b.estimator.EstimateTokens(content),
		Compressed: &models.CompressedVariant{
			Content:   compressed,
			TokenCost: b.estimator.EstimateTokens(compressed),
		},
	}
}
