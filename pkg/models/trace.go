package models

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline stage names recorded in construction traces.
const (
	StageAnalysis          = "context_analysis"
	StageRetrieval         = "metadata_retrieval"
	StageAssembly          = "context_assembly"
	StageTemplateSelection = "template_selection"
	StagePromptAssembly    = "prompt_assembly"
	StageError             = "error"
)

// StepNotStarted marks stages the pipeline never reached in a best-effort
// trace emitted after a mid-pipeline failure.
const StepNotStarted = "not_started"

// ConstructionStep records one pipeline stage's execution.
type ConstructionStep struct {
	Name        string         `json:"name"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationMs  int64          `json:"duration_ms"`
	Confidence  float64        `json:"confidence"`
	Success     bool           `json:"success"`
	Detail      map[string]any `json:"detail,omitempty"`
	Error       string         `json:"error,omitempty"`

	// Status is empty for executed steps and StepNotStarted for stages
	// that were skipped after an upstream failure.
	Status string `json:"status,omitempty"`
}

// ConstructionTrace is the ordered, append-only record of one request.
// Step order equals causal execution order. The trace is finalized exactly
// once and is immutable afterwards.
type ConstructionTrace struct {
	ID       uuid.UUID `json:"id"`
	Question string    `json:"question"`
	UserID   string    `json:"user_id,omitempty"`

	Steps []ConstructionStep `json:"steps"`

	OverallConfidence float64 `json:"overall_confidence"`
	EfficiencyScore   float64 `json:"efficiency_score"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Finalized   bool      `json:"finalized"`
}

// TotalDuration sums the recorded step durations.
func (t *ConstructionTrace) TotalDuration() time.Duration {
	var total int64
	for _, s := range t.Steps {
		total += s.DurationMs
	}
	return time.Duration(total) * time.Millisecond
}

// SuccessRatio is the fraction of executed steps that succeeded.
// Not-started steps do not count against it.
func (t *ConstructionTrace) SuccessRatio() float64 {
	executed, succeeded := 0, 0
	for _, s := range t.Steps {
		if s.Status == StepNotStarted {
			continue
		}
		executed++
		if s.Success {
			succeeded++
		}
	}
	if executed == 0 {
		return 0
	}
	return float64(succeeded) / float64(executed)
}

// StepRationale is one stage's entry in an explanation report.
type StepRationale struct {
	Stage      string         `json:"stage"`
	Summary    string         `json:"summary"`
	Confidence float64        `json:"confidence"`
	DurationMs int64          `json:"duration_ms"`
	Success    bool           `json:"success"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// ExplainReport is the human-oriented breakdown of a finished trace,
// produced by the ExplainConstruction read operation.
type ExplainReport struct {
	TraceID           uuid.UUID       `json:"trace_id"`
	Question          string          `json:"question"`
	OverallConfidence float64         `json:"overall_confidence"`
	EfficiencyScore   float64         `json:"efficiency_score"`
	Steps             []StepRationale `json:"steps"`
}
