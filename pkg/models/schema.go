package models

import (
	"time"

	"github.com/google/uuid"
)

// GovernanceFlags carry data-governance restrictions attached to a table
// by the metadata store. They travel with the table so downstream stages
// can annotate prompt material without re-querying.
type GovernanceFlags struct {
	ContainsPII   bool `json:"contains_pii,omitempty"`
	Deprecated    bool `json:"deprecated,omitempty"`
	RestrictedUse bool `json:"restricted_use,omitempty"`
}

// TableMetadata describes one table known to the metadata store.
type TableMetadata struct {
	ID          uuid.UUID `json:"id"`
	SchemaName  string    `json:"schema_name"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`

	// Domains tags the table with the business domains it serves.
	// When DomainExclusive is set the table belongs only to those domains
	// and must be excluded outright for questions in other domains.
	Domains         []string `json:"domains,omitempty"`
	DomainExclusive bool     `json:"domain_exclusive,omitempty"`

	RowCount   int64           `json:"row_count,omitempty"`
	Governance GovernanceFlags `json:"governance"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// QualifiedName returns schema.table, or just the table name when the
// schema is empty.
func (t *TableMetadata) QualifiedName() string {
	if t.SchemaName == "" {
		return t.Name
	}
	return t.SchemaName + "." + t.Name
}

// ColumnMetadata describes one column of a known table.
type ColumnMetadata struct {
	ID           uuid.UUID `json:"id"`
	TableID      uuid.UUID `json:"table_id"`
	TableName    string    `json:"table_name"`
	Name         string    `json:"name"`
	DataType     string    `json:"data_type"`
	Description  string    `json:"description,omitempty"`
	IsPrimaryKey bool      `json:"is_primary_key,omitempty"`
	IsForeignKey bool      `json:"is_foreign_key,omitempty"`

	// Tags mark semantic roles such as "metric", "dimension", "timestamp".
	Tags []string `json:"tags,omitempty"`
}

// HasTag reports whether the column carries the given semantic tag.
func (c *ColumnMetadata) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// GlossaryTerm is a business vocabulary entry with optional schema links.
type GlossaryTerm struct {
	ID            uuid.UUID `json:"id"`
	Term          string    `json:"term"`
	Definition    string    `json:"definition"`
	Aliases       []string  `json:"aliases,omitempty"`
	RelatedTables []string  `json:"related_tables,omitempty"`
	Domains       []string  `json:"domains,omitempty"`
}

// BusinessRule is a constraint or convention that generated SQL must honor.
// Mandatory rules become essential prompt sections and are never dropped
// by the budget optimizer.
type BusinessRule struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AppliesTo   []string  `json:"applies_to,omitempty"` // Table names; empty = global
	Mandatory   bool      `json:"mandatory,omitempty"`
	Domains     []string  `json:"domains,omitempty"`
}

// RelationshipKind distinguishes declared foreign keys from joins inferred
// by the relationship-discovery collaborator.
type RelationshipKind string

const (
	RelationshipForeignKey RelationshipKind = "foreign_key"
	RelationshipInferred   RelationshipKind = "inferred"
)

// Relationship is a join path between two selected tables.
type Relationship struct {
	FromTable  string           `json:"from_table"`
	FromColumn string           `json:"from_column"`
	ToTable    string           `json:"to_table"`
	ToColumn   string           `json:"to_column"`
	Kind       RelationshipKind `json:"kind"`
	Confidence float64          `json:"confidence"`
}

// RankedTable is a candidate table with its merged retrieval score and the
// names of the strategies that surfaced it.
type RankedTable struct {
	Table      TableMetadata `json:"table"`
	Score      float64       `json:"score"`
	MatchedBy  []string      `json:"matched_by,omitempty"`
}

// ContextualSchema is the retrieval engine's output: a ranked, domain-filtered
// slice of the schema relevant to one profile. It is consumed read-only by
// the assembly stage.
type ContextualSchema struct {
	Tables        []RankedTable               `json:"tables"`
	Columns       map[string][]ColumnMetadata `json:"columns"` // Keyed by table name
	Terms         []GlossaryTerm              `json:"terms,omitempty"`
	Rules         []BusinessRule              `json:"rules,omitempty"`
	Relationships []Relationship              `json:"relationships,omitempty"`

	// RelevanceScore is the weighted average of the component scores.
	RelevanceScore float64 `json:"relevance_score"`

	// Partial is set when a metadata-store timeout truncated discovery.
	Partial bool `json:"partial,omitempty"`
}

// TableNames returns the selected table names in rank order.
func (s *ContextualSchema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Table.Name)
	}
	return names
}
