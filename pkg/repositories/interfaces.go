// Package repositories provides data access for the prompt-construction
// pipeline: the schema metadata store, the relationship-discovery
// collaborator, the template corpus and the append-only trace store.
package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

// MetadataStore is the external schema-metadata collaborator. All methods
// must honor ctx deadlines; the retrieval engine treats a deadline error as
// a partial result, not a failure.
type MetadataStore interface {
	// ListTables returns every table known to the store, with domain tags
	// and governance flags populated.
	ListTables(ctx context.Context) ([]models.TableMetadata, error)

	// GetColumns returns the columns of the named tables, keyed by table name.
	GetColumns(ctx context.Context, tableNames []string) (map[string][]models.ColumnMetadata, error)

	// ListGlossaryTerms returns every business glossary term.
	ListGlossaryTerms(ctx context.Context) ([]models.GlossaryTerm, error)

	// GetRules returns the business rules that apply to the named tables,
	// plus every global rule.
	GetRules(ctx context.Context, tableNames []string) ([]models.BusinessRule, error)
}

// RelationshipFinder is the relationship-discovery collaborator: given the
// selected table set, it returns declared or inferred join paths among them.
type RelationshipFinder interface {
	FindRelationships(ctx context.Context, tableNames []string) ([]models.Relationship, error)
}

// TemplateRepository provides the static prompt-template corpus.
type TemplateRepository interface {
	ListTemplates(ctx context.Context) ([]models.PromptTemplate, error)
}

// TraceStore is the append-only construction-trace store. Traces are
// written exactly once, after finalization, and are immutable afterwards.
type TraceStore interface {
	Append(ctx context.Context, trace *models.ConstructionTrace) error
	GetByID(ctx context.Context, traceID uuid.UUID) (*models.ConstructionTrace, error)
}

// ExampleStore provides worked question/SQL examples for prompt enrichment.
type ExampleStore interface {
	ListExamples(ctx context.Context) ([]WorkedExample, error)
}

// WorkedExample is one question with its known-good SQL, appended to
// prompts after relevance ranking.
type WorkedExample struct {
	ID       uuid.UUID `json:"id"`
	Question string    `json:"question"`
	SQL      string    `json:"sql"`
	Tables   []string  `json:"tables,omitempty"`
	Domains  []string  `json:"domains,omitempty"`
}
