package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentType_RoundTrip(t *testing.T) {
	for _, intent := range []IntentType{
		IntentUnknown, IntentAnalytical, IntentOperational,
		IntentAggregation, IntentComparison, IntentTrend,
	} {
		parsed, err := ParseIntentType(intent.String())
		require.NoError(t, err)
		assert.Equal(t, intent, parsed)
	}
}

func TestParseIntentType_Unrecognized(t *testing.T) {
	parsed, err := ParseIntentType("poetry")
	assert.Error(t, err)
	assert.Equal(t, IntentUnknown, parsed)
}

func TestIntentType_JSON(t *testing.T) {
	data, err := json.Marshal(IntentAggregation)
	require.NoError(t, err)
	assert.Equal(t, `"aggregation"`, string(data))

	var decoded IntentType
	require.NoError(t, json.Unmarshal([]byte(`"trend"`), &decoded))
	assert.Equal(t, IntentTrend, decoded)

	// Unknown names from older traces decode without an error.
	require.NoError(t, json.Unmarshal([]byte(`"poetry"`), &decoded))
	assert.Equal(t, IntentUnknown, decoded)
}
