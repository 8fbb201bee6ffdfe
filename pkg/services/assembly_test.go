package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

func section(id string, cost int, relevance float64) models.ContextSection {
	return models.ContextSection{
		ID:         id,
		Kind:       models.SectionTableSummary,
		Content:    id,
		Relevance:  relevance,
		Importance: 1.0,
		TokenCost:  cost,
	}
}

func selectedIDs(result *AssemblyResult) []string {
	ids := make([]string, 0, len(result.Sections))
	for _, s := range result.Sections {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestAssemblyEngine_Assemble_DPBeatsGreedy(t *testing.T) {
	candidates := []models.ContextSection{
		section("a", 6, 0.9),
		section("b", 5, 0.6),
		section("c", 5, 0.5),
	}

	// Greedy would grab "a" (best efficiency) and strand the remaining 4
	// tokens. Exact DP finds the higher-value pair instead.
	engine := NewAssemblyEngine(8192, zap.NewNop())
	result, err := engine.Assemble(candidates, 10)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b", "c"}, selectedIDs(result))
	assert.Equal(t, 10, result.TokensUsed)
	assert.Equal(t, 1.0, result.Utilization)
}

func TestAssemblyEngine_Assemble_GreedyAboveDPLimit(t *testing.T) {
	candidates := []models.ContextSection{
		section("a", 6, 0.9),
		section("b", 5, 0.6),
		section("c", 5, 0.5),
	}

	engine := NewAssemblyEngine(5, zap.NewNop())
	result, err := engine.Assemble(candidates, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, selectedIDs(result))
	assert.Equal(t, 6, result.TokensUsed)
}

func TestAssemblyEngine_Assemble_EssentialDisplacesNonEssentials(t *testing.T) {
	n1 := section("n1", 6, 0.9)
	n1.Compressed = &models.CompressedVariant{Content: "n1 short", TokenCost: 2}
	essential := section("essential", 8, 0.1)
	essential.Essential = true
	candidates := []models.ContextSection{
		n1,
		section("n2", 4, 0.5),
		essential,
	}

	// The optimizer alone fills the budget with n1+n2; the guarantee pass
	// compresses n1 and drops n2 to make room for the essential section.
	engine := NewAssemblyEngine(8192, zap.NewNop())
	result, err := engine.Assemble(candidates, 10)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"n1", "essential"}, selectedIDs(result))
	assert.Equal(t, 10, result.TokensUsed)
	for _, s := range result.Sections {
		if s.ID == "n1" {
			assert.True(t, s.UsedCompressed)
			assert.Equal(t, "n1 short", s.EffectiveContent())
		}
	}
}

func TestAssemblyEngine_Assemble_EssentialTriedCompressed(t *testing.T) {
	essential := section("essential", 12, 0.5)
	essential.Essential = true
	essential.Compressed = &models.CompressedVariant{Content: "short", TokenCost: 9}

	engine := NewAssemblyEngine(8192, zap.NewNop())
	result, err := engine.Assemble([]models.ContextSection{essential}, 10)
	require.NoError(t, err)

	require.Len(t, result.Sections, 1)
	assert.True(t, result.Sections[0].UsedCompressed)
	assert.Equal(t, 9, result.TokensUsed)
}

func TestAssemblyEngine_Assemble_InfeasibleEssential(t *testing.T) {
	essential := section("essential", 12, 0.5)
	essential.Essential = true
	essential.Compressed = &models.CompressedVariant{Content: "short", TokenCost: 11}

	engine := NewAssemblyEngine(8192, zap.NewNop())
	_, err := engine.Assemble([]models.ContextSection{essential}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBudgetInfeasible)
}

func TestAssemblyEngine_Assemble_FillsRemainderWithCompressed(t *testing.T) {
	b := section("b", 8, 0.5)
	b.Compressed = &models.CompressedVariant{Content: "b short", TokenCost: 3}
	candidates := []models.ContextSection{
		section("a", 6, 0.9),
		b,
	}

	engine := NewAssemblyEngine(8192, zap.NewNop())
	result, err := engine.Assemble(candidates, 10)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, selectedIDs(result))
	assert.Equal(t, 9, result.TokensUsed, "b fits only in compressed form")
}

func TestAssemblyEngine_Assemble_NegativeBudget(t *testing.T) {
	engine := NewAssemblyEngine(8192, zap.NewNop())
	_, err := engine.Assemble([]models.ContextSection{section("a", 1, 0.5)}, -1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAssemblyFailure)
}

func TestAssemblyEngine_Assemble_ZeroBudgetSelectsNothing(t *testing.T) {
	engine := NewAssemblyEngine(8192, zap.NewNop())
	result, err := engine.Assemble([]models.ContextSection{section("a", 1, 0.5)}, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Sections)
	assert.Equal(t, 0.0, result.Utilization)
}

func TestAssemblyEngine_Assemble_NeverExceedsBudget(t *testing.T) {
	candidates := []models.ContextSection{
		section("a", 7, 0.3),
		section("b", 11, 0.8),
		section("c", 5, 0.6),
		section("d", 13, 0.9),
		section("e", 3, 0.2),
	}
	engine := NewAssemblyEngine(8192, zap.NewNop())
	for _, budget := range []int{0, 1, 5, 12, 20, 39, 40} {
		result, err := engine.Assemble(candidates, budget)
		require.NoError(t, err)
		assert.LessOrEqual(t, result.TokensUsed, budget, "budget %d", budget)
	}
}

func TestAssemblyEngine_Assemble_ValueNeverDecreasesWithBudget(t *testing.T) {
	candidates := []models.ContextSection{
		section("a", 6, 0.9),
		section("b", 5, 0.6),
		section("c", 5, 0.5),
		section("d", 3, 0.2),
		section("e", 2, 0.7),
	}

	// A larger budget only widens the feasible set, so the exact solver's
	// achieved relevance-weighted value must be non-decreasing.
	engine := NewAssemblyEngine(8192, zap.NewNop())
	prev := 0.0
	for _, budget := range []int{0, 2, 4, 6, 8, 10, 13, 16, 21, 30} {
		result, err := engine.Assemble(candidates, budget)
		require.NoError(t, err)

		value := 0.0
		for _, s := range result.Sections {
			value += s.Relevance * s.Importance
		}
		assert.GreaterOrEqual(t, value, prev, "budget %d", budget)
		prev = value
	}
}
