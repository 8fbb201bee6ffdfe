package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/database"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

type traceStore struct {
	db *database.DB
}

// NewTraceStore creates a Postgres-backed append-only TraceStore.
// There is deliberately no update or delete path.
func NewTraceStore(db *database.DB) TraceStore {
	return &traceStore{db: db}
}

var _ TraceStore = (*traceStore)(nil)

func (r *traceStore) Append(ctx context.Context, trace *models.ConstructionTrace) error {
	if !trace.Finalized {
		return fmt.Errorf("refusing to store unfinalized trace %s", trace.ID)
	}

	steps, err := json.Marshal(trace.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode trace steps: %w", err)
	}

	query := `
		INSERT INTO forge_traces (
			id, question, user_id, steps, overall_confidence,
			efficiency_score, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.Exec(ctx, query,
		trace.ID,
		trace.Question,
		nullString(trace.UserID),
		steps,
		trace.OverallConfidence,
		trace.EfficiencyScore,
		trace.StartedAt,
		trace.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append trace: %w", err)
	}
	return nil
}

func (r *traceStore) GetByID(ctx context.Context, traceID uuid.UUID) (*models.ConstructionTrace, error) {
	query := `
		SELECT id, question, user_id, steps, overall_confidence,
		       efficiency_score, started_at, completed_at
		FROM forge_traces
		WHERE id = $1`

	var (
		trace  models.ConstructionTrace
		userID *string
		steps  []byte
	)
	err := r.db.QueryRow(ctx, query, traceID).Scan(
		&trace.ID, &trace.Question, &userID, &steps,
		&trace.OverallConfidence, &trace.EfficiencyScore,
		&trace.StartedAt, &trace.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trace: %w", err)
	}

	if userID != nil {
		trace.UserID = *userID
	}
	if err := json.Unmarshal(steps, &trace.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode trace steps: %w", err)
	}
	trace.Finalized = true
	return &trace, nil
}

// nullString maps empty strings to SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
