package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/prompt-forge/pkg/database"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

type metadataStore struct {
	db *database.DB
}

// NewMetadataStore creates a Postgres-backed MetadataStore.
func NewMetadataStore(db *database.DB) MetadataStore {
	return &metadataStore{db: db}
}

var _ MetadataStore = (*metadataStore)(nil)

// ============================================================================
// Tables
// ============================================================================

func (r *metadataStore) ListTables(ctx context.Context) ([]models.TableMetadata, error) {
	query := `
		SELECT id, schema_name, table_name, description, domains, domain_exclusive,
		       row_count, contains_pii, deprecated, restricted_use, updated_at
		FROM forge_tables
		ORDER BY table_name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []models.TableMetadata
	for rows.Next() {
		var t models.TableMetadata
		if err := rows.Scan(
			&t.ID, &t.SchemaName, &t.Name, &t.Description, &t.Domains, &t.DomainExclusive,
			&t.RowCount, &t.Governance.ContainsPII, &t.Governance.Deprecated,
			&t.Governance.RestrictedUse, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tables: %w", err)
	}
	return tables, nil
}

// ============================================================================
// Columns
// ============================================================================

func (r *metadataStore) GetColumns(ctx context.Context, tableNames []string) (map[string][]models.ColumnMetadata, error) {
	if len(tableNames) == 0 {
		return map[string][]models.ColumnMetadata{}, nil
	}

	query := `
		SELECT c.id, c.table_id, t.table_name, c.column_name, c.data_type,
		       c.description, c.is_primary_key, c.is_foreign_key, c.tags
		FROM forge_columns c
		JOIN forge_tables t ON t.id = c.table_id
		WHERE t.table_name = ANY($1)
		ORDER BY t.table_name, c.ordinal_position`

	rows, err := r.db.Query(ctx, query, tableNames)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	defer rows.Close()

	columns := make(map[string][]models.ColumnMetadata)
	for rows.Next() {
		var c models.ColumnMetadata
		if err := rows.Scan(
			&c.ID, &c.TableID, &c.TableName, &c.Name, &c.DataType,
			&c.Description, &c.IsPrimaryKey, &c.IsForeignKey, &c.Tags,
		); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns[c.TableName] = append(columns[c.TableName], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate columns: %w", err)
	}
	return columns, nil
}

// ============================================================================
// Glossary
// ============================================================================

func (r *metadataStore) ListGlossaryTerms(ctx context.Context) ([]models.GlossaryTerm, error) {
	query := `
		SELECT id, term, definition, aliases, related_tables, domains
		FROM forge_glossary
		ORDER BY term`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list glossary terms: %w", err)
	}
	defer rows.Close()

	var terms []models.GlossaryTerm
	for rows.Next() {
		var t models.GlossaryTerm
		if err := rows.Scan(&t.ID, &t.Term, &t.Definition, &t.Aliases, &t.RelatedTables, &t.Domains); err != nil {
			return nil, fmt.Errorf("failed to scan glossary term: %w", err)
		}
		terms = append(terms, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate glossary terms: %w", err)
	}
	return terms, nil
}

// ============================================================================
// Rules
// ============================================================================

func (r *metadataStore) GetRules(ctx context.Context, tableNames []string) ([]models.BusinessRule, error) {
	// Global rules have an empty applies_to array and always apply.
	query := `
		SELECT id, name, description, applies_to, mandatory, domains
		FROM forge_rules
		WHERE applies_to = '{}' OR applies_to && $1
		ORDER BY mandatory DESC, name`

	rows, err := r.db.Query(ctx, query, tableNames)
	if err != nil {
		return nil, fmt.Errorf("failed to get rules: %w", err)
	}
	defer rows.Close()

	var rules []models.BusinessRule
	for rows.Next() {
		var rule models.BusinessRule
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.AppliesTo, &rule.Mandatory, &rule.Domains); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}
