package models

import (
	"encoding/json"
	"fmt"
)

// IntentType classifies what a business question is asking for.
// It is a closed enum; add new values here and extend String/ParseIntentType
// together so exhaustive switches stay exhaustive.
type IntentType int

const (
	IntentUnknown IntentType = iota
	IntentAnalytical
	IntentOperational
	IntentAggregation
	IntentComparison
	IntentTrend
)

// String returns the canonical name for the intent type.
func (t IntentType) String() string {
	switch t {
	case IntentAnalytical:
		return "analytical"
	case IntentOperational:
		return "operational"
	case IntentAggregation:
		return "aggregation"
	case IntentComparison:
		return "comparison"
	case IntentTrend:
		return "trend"
	case IntentUnknown:
		return "unknown"
	}
	return "unknown"
}

// ParseIntentType maps a canonical name back to an IntentType.
// Unrecognized names parse as IntentUnknown with an error so callers
// can decide whether to degrade or reject.
func ParseIntentType(s string) (IntentType, error) {
	switch s {
	case "analytical":
		return IntentAnalytical, nil
	case "operational":
		return IntentOperational, nil
	case "aggregation":
		return IntentAggregation, nil
	case "comparison":
		return IntentComparison, nil
	case "trend":
		return IntentTrend, nil
	case "unknown", "":
		return IntentUnknown, nil
	}
	return IntentUnknown, fmt.Errorf("unknown intent type %q", s)
}

// MarshalJSON encodes the intent type as its canonical name.
func (t IntentType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a canonical name, treating unknown names as IntentUnknown.
func (t *IntentType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseIntentType(s)
	if err != nil {
		// Tolerate unknown names from older traces rather than failing decode.
		parsed = IntentUnknown
	}
	*t = parsed
	return nil
}

// Intent is the classified intent for a question.
type Intent struct {
	Type       IntentType `json:"type"`
	Confidence float64    `json:"confidence"`
	SubIntents []string   `json:"sub_intents,omitempty"`
}
