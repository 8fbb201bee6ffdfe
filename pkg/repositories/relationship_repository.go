package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/prompt-forge/pkg/database"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

type relationshipFinder struct {
	db *database.DB
}

// NewRelationshipFinder creates a Postgres-backed RelationshipFinder over
// declared and previously inferred join paths.
func NewRelationshipFinder(db *database.DB) RelationshipFinder {
	return &relationshipFinder{db: db}
}

var _ RelationshipFinder = (*relationshipFinder)(nil)

func (r *relationshipFinder) FindRelationships(ctx context.Context, tableNames []string) ([]models.Relationship, error) {
	if len(tableNames) < 2 {
		return nil, nil
	}

	// Only joins with both endpoints inside the selected set are useful
	// for join-aware prompting.
	query := `
		SELECT from_table, from_column, to_table, to_column, kind, confidence
		FROM forge_relationships
		WHERE from_table = ANY($1) AND to_table = ANY($1)
		ORDER BY confidence DESC, from_table, from_column`

	rows, err := r.db.Query(ctx, query, tableNames)
	if err != nil {
		return nil, fmt.Errorf("failed to find relationships: %w", err)
	}
	defer rows.Close()

	var rels []models.Relationship
	for rows.Next() {
		var rel models.Relationship
		if err := rows.Scan(&rel.FromTable, &rel.FromColumn, &rel.ToTable, &rel.ToColumn, &rel.Kind, &rel.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate relationships: %w", err)
	}
	return rels, nil
}
