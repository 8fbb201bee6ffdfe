package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIsTerminal_Classification(t *testing.T) {
	assert.True(t, IsTerminal(ErrBudgetInfeasible))
	assert.True(t, IsTerminal(ErrTemplateNotFound))
	assert.True(t, IsTerminal(ErrAssemblyFailure))

	assert.False(t, IsTerminal(ErrAnalysisDegraded))
	assert.False(t, IsTerminal(ErrRetrievalTimeout))
	assert.False(t, IsTerminal(ErrRetrievalEmpty))
	assert.False(t, IsTerminal(errors.New("unclassified")))
}

func TestIsRecoverable_Classification(t *testing.T) {
	assert.True(t, IsRecoverable(ErrAnalysisDegraded))
	assert.True(t, IsRecoverable(ErrRetrievalTimeout))
	assert.True(t, IsRecoverable(ErrRetrievalEmpty))

	assert.False(t, IsRecoverable(ErrBudgetInfeasible))
}

func TestIsTerminal_SeesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("budget 10 after reserve: %w", ErrBudgetInfeasible)

	assert.True(t, IsTerminal(wrapped))
	assert.True(t, IsTerminal(NewConstructionError("context_assembly", uuid.New(), wrapped)))
}

func TestConstructionError_CarriesStageAndTrace(t *testing.T) {
	traceID := uuid.New()
	cerr := NewConstructionError("metadata_retrieval", traceID, ErrRetrievalEmpty)

	assert.ErrorIs(t, cerr, ErrRetrievalEmpty)
	assert.Contains(t, cerr.Error(), "metadata_retrieval")
	assert.Contains(t, cerr.Error(), traceID.String())
}
