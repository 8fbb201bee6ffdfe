package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/prompt-forge/pkg/database"
)

type exampleStore struct {
	db *database.DB
}

// NewExampleStore creates a Postgres-backed ExampleStore.
func NewExampleStore(db *database.DB) ExampleStore {
	return &exampleStore{db: db}
}

var _ ExampleStore = (*exampleStore)(nil)

func (r *exampleStore) ListExamples(ctx context.Context) ([]WorkedExample, error) {
	query := `
		SELECT id, question, sql_text, tables, domains
		FROM forge_examples
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list examples: %w", err)
	}
	defer rows.Close()

	var examples []WorkedExample
	for rows.Next() {
		var e WorkedExample
		if err := rows.Scan(&e.ID, &e.Question, &e.SQL, &e.Tables, &e.Domains); err != nil {
			return nil, fmt.Errorf("failed to scan example: %w", err)
		}
		examples = append(examples, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate examples: %w", err)
	}
	return examples, nil
}
