package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

// anchor is a Wednesday, so week math has a non-trivial Monday offset.
var anchor = time.Date(2025, time.March, 12, 10, 30, 0, 0, time.UTC)

func TestExtractTimeRange_Yesterday(t *testing.T) {
	tr, ok := ExtractTimeRange("Top 10 depositors yesterday", anchor)
	require.True(t, ok)

	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), tr.Start)
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), tr.End)
	assert.Equal(t, models.GranularityDay, tr.Granularity)
	assert.Equal(t, "yesterday", tr.Relative)
}

func TestExtractTimeRange_LastWeek_StartsOnMonday(t *testing.T) {
	tr, ok := ExtractTimeRange("total deposits last week", anchor)
	require.True(t, ok)

	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), tr.Start)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), tr.End)
	assert.Equal(t, models.GranularityWeek, tr.Granularity)
}

func TestExtractTimeRange_LastNDays(t *testing.T) {
	tr, ok := ExtractTimeRange("new signups in the last 30 days", anchor)
	require.True(t, ok)

	// End is exclusive and includes today.
	assert.Equal(t, time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC), tr.End)
	assert.Equal(t, tr.End.AddDate(0, 0, -30), tr.Start)
	assert.Equal(t, models.GranularityDay, tr.Granularity)
	assert.Equal(t, "last 30 days", tr.Relative)
}

func TestExtractTimeRange_LastQuarter(t *testing.T) {
	tr, ok := ExtractTimeRange("revenue last quarter", anchor)
	require.True(t, ok)

	assert.Equal(t, time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC), tr.Start)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), tr.End)
	assert.Equal(t, models.GranularityQuarter, tr.Granularity)
}

func TestExtractTimeRange_AbsoluteDatePair(t *testing.T) {
	tr, ok := ExtractTimeRange("deposits between 2025-01-05 and 2025-01-20", anchor)
	require.True(t, ok)

	assert.Equal(t, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), tr.Start)
	// End covers the whole last day.
	assert.Equal(t, time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC), tr.End)
}

func TestExtractTimeRange_LongerPhraseWinsOverKeyword(t *testing.T) {
	// "last week" must not resolve as bare "week".
	tr, ok := ExtractTimeRange("sessions last week", anchor)
	require.True(t, ok)
	assert.Equal(t, "last week", tr.Relative)
}

func TestExtractTimeRange_NoTimeExpression(t *testing.T) {
	tr, ok := ExtractTimeRange("top depositors by country", anchor)
	assert.False(t, ok)
	assert.Nil(t, tr)
}
