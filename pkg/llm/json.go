package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON object out of a model response, tolerating
// markdown code fences and surrounding prose. Models asked for JSON still
// wrap it often enough that callers should never json.Unmarshal raw output.
func ExtractJSON(response string) (string, error) {
	s := strings.TrimSpace(response)

	// Strip markdown code fences if present.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	// Find the outermost object if prose surrounds it.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return s[start : end+1], nil
}

// UnmarshalResponse extracts and decodes a JSON object from a model
// response into v.
func UnmarshalResponse(response string, v any) error {
	raw, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode model response: %w", err)
	}
	return nil
}

// clampConfidence forces a model-reported confidence into [0,1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
