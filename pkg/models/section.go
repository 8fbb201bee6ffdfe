package models

// SectionKind identifies what kind of prompt material a section carries.
type SectionKind string

const (
	SectionTableSummary    SectionKind = "table_summary"
	SectionColumnGroup     SectionKind = "column_group"
	SectionRelationships   SectionKind = "relationships"
	SectionBusinessRule    SectionKind = "business_rule"
	SectionGlossary        SectionKind = "glossary"
	SectionExample         SectionKind = "example"
	SectionBusinessContext SectionKind = "business_context"
)

// CompressedVariant is a shortened rendering of a section used when the
// full form does not fit the remaining token budget.
type CompressedVariant struct {
	Content   string `json:"content"`
	TokenCost int    `json:"token_cost"`
}

// ContextSection is the atomic unit of prompt material. Candidate sections
// are generated from a ContextualSchema; only the subset chosen by the
// assembly engine reaches the final prompt.
type ContextSection struct {
	ID      string      `json:"id"`
	Kind    SectionKind `json:"kind"`
	Title   string      `json:"title,omitempty"`
	Content string      `json:"content"`

	// SourceTable names the table this section was derived from, when any.
	SourceTable string `json:"source_table,omitempty"`

	Relevance  float64 `json:"relevance"`  // [0,1]
	Importance float64 `json:"importance"` // [0,1]
	TokenCost  int     `json:"token_cost"`

	// Essential sections are guaranteed inclusion even when the optimizer
	// would otherwise drop them.
	Essential bool `json:"essential,omitempty"`

	// Compressed is an optional shorter variant tried before dropping the
	// section entirely.
	Compressed *CompressedVariant `json:"compressed,omitempty"`

	// UsedCompressed records that the compressed variant was selected.
	UsedCompressed bool `json:"used_compressed,omitempty"`
}

// Efficiency is the optimizer's value-per-token score for the section.
// Zero-cost sections rank as maximally efficient.
func (s *ContextSection) Efficiency() float64 {
	if s.TokenCost <= 0 {
		return s.Relevance * s.Importance
	}
	return (s.Relevance * s.Importance) / float64(s.TokenCost)
}

// EffectiveCost returns the token cost of the variant that was selected.
func (s *ContextSection) EffectiveCost() int {
	if s.UsedCompressed && s.Compressed != nil {
		return s.Compressed.TokenCost
	}
	return s.TokenCost
}

// EffectiveContent returns the content of the variant that was selected.
func (s *ContextSection) EffectiveContent() string {
	if s.UsedCompressed && s.Compressed != nil {
		return s.Compressed.Content
	}
	return s.Content
}
