package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityCategory classifies a mention extracted from the question text.
type EntityCategory string

const (
	EntityCategoryTable      EntityCategory = "table"
	EntityCategoryColumn     EntityCategory = "column"
	EntityCategoryMetric     EntityCategory = "metric"
	EntityCategoryDimension  EntityCategory = "dimension"
	EntityCategoryTime       EntityCategory = "time"
	EntityCategoryComparison EntityCategory = "comparison"
)

// BusinessEntity is a single mention extracted from the question,
// tagged with its source span and an optional schema mapping.
type BusinessEntity struct {
	Name         string         `json:"name"`
	Category     EntityCategory `json:"category"`
	SpanStart    int            `json:"span_start"` // Byte offset into the original question
	SpanEnd      int            `json:"span_end"`
	MappedTable  string         `json:"mapped_table,omitempty"`
	MappedColumn string         `json:"mapped_column,omitempty"`
	Confidence   float64        `json:"confidence"`
}

// DomainDescriptor is a registry record describing one business domain.
type DomainDescriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	KeyConcepts []string `json:"key_concepts,omitempty"`
}

// DomainMatch is the best domain for a question with its relevance score.
type DomainMatch struct {
	Name        string   `json:"name"`
	Score       float64  `json:"score"`
	KeyConcepts []string `json:"key_concepts,omitempty"`
}

// DomainUncategorized is the fallback domain name when detection cannot
// produce a confident match.
const DomainUncategorized = "uncategorized"

// TermMatch records a business glossary term found in the question.
type TermMatch struct {
	TermID     uuid.UUID `json:"term_id"`
	Term       string    `json:"term"`
	Definition string    `json:"definition,omitempty"`
	Score      float64   `json:"score"`
}

// Granularity is the time bucket implied by a question's time expression.
type Granularity string

const (
	GranularityHour    Granularity = "hour"
	GranularityDay     Granularity = "day"
	GranularityWeek    Granularity = "week"
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
	GranularityYear    Granularity = "year"
)

// TimeRange is a normalized time window extracted from the question.
// Relative holds the original expression ("yesterday", "last week") when
// the range came from a relative phrase rather than absolute dates.
type TimeRange struct {
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Relative    string      `json:"relative,omitempty"`
	Granularity Granularity `json:"granularity"`
}

// BusinessContextProfile is the structured interpretation of one question.
// It is created once per request by the analyzer and never mutated downstream.
type BusinessContextProfile struct {
	Question string           `json:"question"`
	UserID   string           `json:"user_id,omitempty"`
	Intent   Intent           `json:"intent"`
	Domain   DomainMatch      `json:"domain"`
	Entities []BusinessEntity `json:"entities,omitempty"`
	Terms    []TermMatch      `json:"terms,omitempty"`
	// TimeRange is nil when the question carries no time expression.
	TimeRange *TimeRange `json:"time_range,omitempty"`

	// OverallConfidence = 0.3*intent + 0.3*domain + 0.4*mean(entity confidence).
	OverallConfidence float64 `json:"overall_confidence"`

	// Degraded is set when a classifier failure forced keyword fallbacks.
	Degraded bool `json:"degraded,omitempty"`

	AnalyzedAt time.Time `json:"analyzed_at"`
}

// MeanEntityConfidence averages the entity confidences, returning 0 when
// no entities were extracted.
func (p *BusinessContextProfile) MeanEntityConfidence() float64 {
	if len(p.Entities) == 0 {
		return 0
	}
	var sum float64
	for _, e := range p.Entities {
		sum += e.Confidence
	}
	return sum / float64(len(p.Entities))
}

// EntitiesByCategory returns the entities matching the given category,
// preserving extraction order.
func (p *BusinessContextProfile) EntitiesByCategory(cat EntityCategory) []BusinessEntity {
	var out []BusinessEntity
	for _, e := range p.Entities {
		if e.Category == cat {
			out = append(out, e)
		}
	}
	return out
}
