package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/cache"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
	"github.com/ekaya-inc/prompt-forge/pkg/repositories"
)

// speedBaselineMs is the fixed baseline for the trace speed score:
// speedScore = max(0, 1 - totalDurationMs/5000).
const speedBaselineMs = 5000.0

// Efficiency-score weights: 0.6*speedScore + 0.4*successRatio.
const (
	speedScoreWeight   = 0.6
	successRatioWeight = 0.4
)

// ConstructionTracer records one request's pipeline steps. It is
// single-writer: the orchestrating goroutine appends steps itself from
// results its sub-tasks return; sub-tasks never touch the tracer.
type ConstructionTracer struct {
	trace *models.ConstructionTrace
	clock func() time.Time
}

// NewConstructionTracer starts a trace for one request. clock keeps trace
// timestamps deterministic in tests; pass time.Now otherwise.
func NewConstructionTracer(question, userID string, clock func() time.Time) *ConstructionTracer {
	if clock == nil {
		clock = time.Now
	}
	return &ConstructionTracer{
		trace: &models.ConstructionTrace{
			ID:        uuid.New(),
			Question:  question,
			UserID:    userID,
			StartedAt: clock(),
		},
		clock: clock,
	}
}

// TraceID returns the request's trace id.
func (t *ConstructionTracer) TraceID() uuid.UUID {
	return t.trace.ID
}

// Now returns the tracer's clock reading, so stages time themselves with
// the same clock the trace uses.
func (t *ConstructionTracer) Now() time.Time {
	return t.clock()
}

// RecordStep appends one executed stage. Returns ErrTraceFinalized if the
// trace was already finalized; steps are append-only, in causal order.
func (t *ConstructionTracer) RecordStep(name string, startedAt time.Time, confidence float64, success bool, detail map[string]any, stepErr error) error {
	if t.trace.Finalized {
		return apperrors.ErrTraceFinalized
	}
	completed := t.clock()
	step := models.ConstructionStep{
		Name:        name,
		StartedAt:   startedAt,
		CompletedAt: completed,
		DurationMs:  completed.Sub(startedAt).Milliseconds(),
		Confidence:  confidence,
		Success:     success,
		Detail:      detail,
	}
	if stepErr != nil {
		step.Error = stepErr.Error()
	}
	t.trace.Steps = append(t.trace.Steps, step)
	return nil
}

// MarkNotStarted appends placeholder steps for stages the pipeline never
// reached, so every trace shows the full stage list.
func (t *ConstructionTracer) MarkNotStarted(names ...string) {
	if t.trace.Finalized {
		return
	}
	now := t.clock()
	for _, name := range names {
		t.trace.Steps = append(t.trace.Steps, models.ConstructionStep{
			Name:        name,
			StartedAt:   now,
			CompletedAt: now,
			Status:      models.StepNotStarted,
		})
	}
}

// Finalize computes the overall confidence and efficiency score and seals
// the trace. Idempotent; the first call wins.
func (t *ConstructionTracer) Finalize() *models.ConstructionTrace {
	if t.trace.Finalized {
		return t.trace
	}
	t.trace.CompletedAt = t.clock()

	executed := 0
	var confidenceSum float64
	for _, s := range t.trace.Steps {
		if s.Status == models.StepNotStarted {
			continue
		}
		executed++
		confidenceSum += s.Confidence
	}
	if executed > 0 {
		t.trace.OverallConfidence = confidenceSum / float64(executed)
	}

	totalMs := float64(t.trace.TotalDuration().Milliseconds())
	speedScore := 1 - totalMs/speedBaselineMs
	if speedScore < 0 {
		speedScore = 0
	}
	t.trace.EfficiencyScore = speedScoreWeight*speedScore + successRatioWeight*t.trace.SuccessRatio()

	t.trace.Finalized = true
	return t.trace
}

// ============================================================================
// Trace publication and explanation
// ============================================================================

// TraceManager hands finished traces to the append-only store and the
// short-lived cache, and serves ExplainConstruction reads.
type TraceManager interface {
	Publish(ctx context.Context, trace *models.ConstructionTrace)
	Explain(ctx context.Context, traceID uuid.UUID) (*models.ExplainReport, error)
}

type traceManager struct {
	store    repositories.TraceStore
	cache    cache.Cache[*models.ConstructionTrace]
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewTraceManager creates a TraceManager. cache may be nil; explains then
// always hit the store.
func NewTraceManager(store repositories.TraceStore, traceCache cache.Cache[*models.ConstructionTrace], cacheTTL time.Duration, logger *zap.Logger) TraceManager {
	return &traceManager{store: store, cache: traceCache, cacheTTL: cacheTTL, logger: logger}
}

var _ TraceManager = (*traceManager)(nil)

// Publish stores the finalized trace. Store failures are logged, not
// returned: a lost trace must never fail the request it describes.
func (m *traceManager) Publish(ctx context.Context, trace *models.ConstructionTrace) {
	if !trace.Finalized {
		m.logger.Error("refusing to publish unfinalized trace",
			zap.String("trace_id", trace.ID.String()))
		return
	}
	if err := m.store.Append(ctx, trace); err != nil {
		m.logger.Error("failed to store construction trace",
			zap.String("trace_id", trace.ID.String()),
			zap.Error(err))
	}
	if m.cache != nil {
		m.cache.SetIfAbsent("trace:"+trace.ID.String(), trace, m.cacheTTL)
	}
}

// Explain builds the rationale breakdown for a finished trace, reading
// through the cache first.
func (m *traceManager) Explain(ctx context.Context, traceID uuid.UUID) (*models.ExplainReport, error) {
	var trace *models.ConstructionTrace
	if m.cache != nil {
		if cached, ok := m.cache.Get("trace:" + traceID.String()); ok {
			trace = cached
		}
	}
	if trace == nil {
		stored, err := m.store.GetByID(ctx, traceID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, fmt.Errorf("trace %s: %w", traceID, apperrors.ErrNotFound)
			}
			return nil, fmt.Errorf("failed to load trace %s: %w", traceID, err)
		}
		trace = stored
	}

	report := &models.ExplainReport{
		TraceID:           trace.ID,
		Question:          trace.Question,
		OverallConfidence: trace.OverallConfidence,
		EfficiencyScore:   trace.EfficiencyScore,
	}
	for _, s := range trace.Steps {
		report.Steps = append(report.Steps, models.StepRationale{
			Stage:      s.Name,
			Summary:    summarizeStep(s),
			Confidence: s.Confidence,
			DurationMs: s.DurationMs,
			Success:    s.Success,
			Detail:     s.Detail,
		})
	}
	return report, nil
}

func summarizeStep(s models.ConstructionStep) string {
	switch {
	case s.Status == models.StepNotStarted:
		return "not started: an earlier stage ended the request"
	case !s.Success && s.Error != "":
		return "failed: " + s.Error
	case !s.Success:
		return "completed without a usable result"
	default:
		return fmt.Sprintf("completed in %dms with confidence %.2f", s.DurationMs, s.Confidence)
	}
}
