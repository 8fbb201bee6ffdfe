// Package apperrors defines the pipeline's error taxonomy.
//
// AnalysisDegraded, RetrievalTimeout and RetrievalEmpty are recovered inside
// the pipeline (reduced confidence, recorded in the trace) and never reach
// the caller as errors. BudgetInfeasible and TemplateNotFound terminate the
// request as structured failures. AssemblyFailure means an internal invariant
// was violated and should never occur under correct configuration.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrAnalysisDegraded signals that keyword fallbacks replaced a failed
	// classifier call. Recovered locally, never returned to callers.
	ErrAnalysisDegraded = errors.New("analysis degraded to keyword fallback")

	// ErrRetrievalTimeout signals partial schema retrieval after a
	// metadata-store deadline. Recovered locally.
	ErrRetrievalTimeout = errors.New("metadata retrieval timed out")

	// ErrRetrievalEmpty signals zero relevant candidates after filtering,
	// a distinct outcome from a timeout.
	ErrRetrievalEmpty = errors.New("no relevant schema candidates found")

	// ErrBudgetInfeasible signals that even the compressed, essential-only
	// selection cannot fit the token budget. Terminal for the request.
	ErrBudgetInfeasible = errors.New("token budget infeasible")

	// ErrTemplateNotFound signals that neither the corpus nor synthesis
	// produced a usable template. Terminal for the request.
	ErrTemplateNotFound = errors.New("no prompt template available")

	// ErrAssemblyFailure signals an internal invariant violation, such as
	// a negative budget. Unexpected and fatal for the request.
	ErrAssemblyFailure = errors.New("prompt assembly invariant violated")

	// ErrTraceFinalized signals an append to a trace that was already
	// handed off to the store.
	ErrTraceFinalized = errors.New("construction trace already finalized")

	// ErrNotFound is the generic lookup miss for repositories.
	ErrNotFound = errors.New("not found")
)

// ConstructionError is a structured pipeline failure. It carries the stage
// that could not complete and the trace id so callers can always fetch the
// partial trace.
type ConstructionError struct {
	Stage   string
	TraceID uuid.UUID
	Err     error
}

// NewConstructionError wraps err with its originating stage and trace id.
func NewConstructionError(stage string, traceID uuid.UUID, err error) *ConstructionError {
	return &ConstructionError{Stage: stage, TraceID: traceID, Err: err}
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("stage %s: %v (trace %s)", e.Stage, e.Err, e.TraceID)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err ends the request rather than degrading it.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrBudgetInfeasible) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrAssemblyFailure)
}

// IsRecoverable reports whether the pipeline continues with reduced
// confidence after err.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrAnalysisDegraded) ||
		errors.Is(err, ErrRetrievalTimeout) ||
		errors.Is(err, ErrRetrievalEmpty)
}
