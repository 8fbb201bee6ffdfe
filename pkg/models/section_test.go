package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextSection_Efficiency(t *testing.T) {
	s := &ContextSection{Relevance: 0.8, Importance: 0.5, TokenCost: 4}
	assert.InDelta(t, 0.1, s.Efficiency(), 1e-9)

	free := &ContextSection{Relevance: 0.8, Importance: 0.5, TokenCost: 0}
	assert.InDelta(t, 0.4, free.Efficiency(), 1e-9, "zero-cost sections rank by raw value")
}

func TestContextSection_EffectiveVariant(t *testing.T) {
	s := &ContextSection{
		Content:    "full text",
		TokenCost:  10,
		Compressed: &CompressedVariant{Content: "short", TokenCost: 2},
	}

	assert.Equal(t, 10, s.EffectiveCost())
	assert.Equal(t, "full text", s.EffectiveContent())

	s.UsedCompressed = true
	assert.Equal(t, 2, s.EffectiveCost())
	assert.Equal(t, "short", s.EffectiveContent())

	// The flag without a variant falls back to the full form.
	bare := &ContextSection{Content: "full", TokenCost: 5, UsedCompressed: true}
	assert.Equal(t, 5, bare.EffectiveCost())
	assert.Equal(t, "full", bare.EffectiveContent())
}
