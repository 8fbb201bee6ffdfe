package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/cache"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
	"github.com/ekaya-inc/prompt-forge/pkg/repositories"
	"github.com/ekaya-inc/prompt-forge/pkg/testhelpers"
)

func TestConstructionTracer_Finalize_AllSuccessfulInstantSteps(t *testing.T) {
	tracer := NewConstructionTracer("q", "u", testhelpers.FixedClock(testhelpers.FixtureNow))

	require.NoError(t, tracer.RecordStep(models.StageAnalysis, tracer.Now(), 0.9, true, nil, nil))
	require.NoError(t, tracer.RecordStep(models.StageRetrieval, tracer.Now(), 0.5, true, nil, nil))

	trace := tracer.Finalize()

	// Frozen clock: zero duration gives a perfect speed score, and every
	// executed step succeeded.
	assert.Equal(t, 1.0, trace.EfficiencyScore)
	assert.InDelta(t, 0.7, trace.OverallConfidence, 1e-9)
	assert.True(t, trace.Finalized)
}

func TestConstructionTracer_Finalize_SlowTraceScoresLower(t *testing.T) {
	clock := testhelpers.TickingClock(testhelpers.FixtureNow, 2500*time.Millisecond)
	tracer := NewConstructionTracer("q", "", clock)

	started := tracer.Now()
	require.NoError(t, tracer.RecordStep(models.StageAnalysis, started, 1.0, true, nil, nil))

	trace := tracer.Finalize()

	// One 2500ms step: speed score 0.5, success ratio 1.
	assert.InDelta(t, 0.6*0.5+0.4*1.0, trace.EfficiencyScore, 1e-9)
}

func TestConstructionTracer_RecordStep_AfterFinalize(t *testing.T) {
	tracer := NewConstructionTracer("q", "", testhelpers.FixedClock(testhelpers.FixtureNow))
	tracer.Finalize()

	err := tracer.RecordStep(models.StageAnalysis, tracer.Now(), 1, true, nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrTraceFinalized)
}

func TestConstructionTracer_Finalize_Idempotent(t *testing.T) {
	tracer := NewConstructionTracer("q", "", testhelpers.FixedClock(testhelpers.FixtureNow))
	require.NoError(t, tracer.RecordStep(models.StageAnalysis, tracer.Now(), 0.8, true, nil, nil))

	first := tracer.Finalize()
	second := tracer.Finalize()

	assert.Same(t, first, second)
	assert.Equal(t, first.OverallConfidence, second.OverallConfidence)
}

func TestConstructionTracer_MarkNotStarted_ExcludedFromScores(t *testing.T) {
	tracer := NewConstructionTracer("q", "", testhelpers.FixedClock(testhelpers.FixtureNow))
	require.NoError(t, tracer.RecordStep(models.StageAnalysis, tracer.Now(), 0.8, true, nil, nil))
	require.NoError(t, tracer.RecordStep(models.StageRetrieval, tracer.Now(), 0, false, nil, apperrors.ErrRetrievalEmpty))
	tracer.MarkNotStarted(models.StageAssembly, models.StageTemplateSelection, models.StagePromptAssembly)

	trace := tracer.Finalize()

	require.Len(t, trace.Steps, 5)
	assert.Equal(t, models.StepNotStarted, trace.Steps[2].Status)

	// Confidence and success ratio average over the two executed steps only.
	assert.InDelta(t, 0.4, trace.OverallConfidence, 1e-9)
	assert.InDelta(t, 0.5, trace.SuccessRatio(), 1e-9)
}

func TestTraceManager_Publish_RefusesUnfinalizedTrace(t *testing.T) {
	store := repositories.NewMemoryTraceStore()
	manager := NewTraceManager(store, nil, time.Minute, zap.NewNop())

	tracer := NewConstructionTracer("q", "", testhelpers.FixedClock(testhelpers.FixtureNow))
	manager.Publish(context.Background(), traceOf(tracer))

	_, err := manager.Explain(context.Background(), tracer.TraceID())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTraceManager_Explain_ReadsThroughCache(t *testing.T) {
	store := repositories.NewMemoryTraceStore()
	c := cache.New[*models.ConstructionTrace](0, nil)
	manager := NewTraceManager(store, c, time.Minute, zap.NewNop())

	tracer := NewConstructionTracer("Top depositors", "u1", testhelpers.FixedClock(testhelpers.FixtureNow))
	require.NoError(t, tracer.RecordStep(models.StageAnalysis, tracer.Now(), 0.9, true, map[string]any{"intent": "aggregation"}, nil))
	trace := tracer.Finalize()
	manager.Publish(context.Background(), trace)

	report, err := manager.Explain(context.Background(), trace.ID)
	require.NoError(t, err)

	assert.Equal(t, trace.ID, report.TraceID)
	assert.Equal(t, "Top depositors", report.Question)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, models.StageAnalysis, report.Steps[0].Stage)
	assert.Equal(t, "completed in 0ms with confidence 0.90", report.Steps[0].Summary)
	assert.Equal(t, "aggregation", report.Steps[0].Detail["intent"])
}

func TestTraceManager_Explain_SummarizesOutcomes(t *testing.T) {
	store := repositories.NewMemoryTraceStore()
	manager := NewTraceManager(store, nil, time.Minute, zap.NewNop())

	tracer := NewConstructionTracer("q", "", testhelpers.FixedClock(testhelpers.FixtureNow))
	require.NoError(t, tracer.RecordStep(models.StageAnalysis, tracer.Now(), 0.9, true, nil, nil))
	require.NoError(t, tracer.RecordStep(models.StageRetrieval, tracer.Now(), 0, false, nil, apperrors.ErrRetrievalEmpty))
	tracer.MarkNotStarted(models.StageAssembly)
	trace := tracer.Finalize()
	manager.Publish(context.Background(), trace)

	report, err := manager.Explain(context.Background(), trace.ID)
	require.NoError(t, err)

	require.Len(t, report.Steps, 3)
	assert.Contains(t, report.Steps[1].Summary, "failed:")
	assert.Equal(t, "not started: an earlier stage ended the request", report.Steps[2].Summary)
}

func TestTraceManager_Explain_UnknownTrace(t *testing.T) {
	manager := NewTraceManager(repositories.NewMemoryTraceStore(), nil, time.Minute, zap.NewNop())

	_, err := manager.Explain(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// traceOf extracts the live (unfinalized) trace for publish tests.
func traceOf(t *ConstructionTracer) *models.ConstructionTrace {
	trace := *t.Finalize()
	trace.Finalized = false
	return &trace
}
