package sqlite

import (
	"encoding/json"
	"fmt"
)

// marshalMap serializes a map column, treating nil as the empty object so the
// stored value is always valid JSON.
func marshalMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return string(data), nil
}

// unmarshalMap deserializes a map column, treating empty as nil
func unmarshalMap(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON column: %w", err)
	}
	return m, nil
}

// nullable maps Go's empty string to SQL NULL for optional text columns
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// strOrEmpty maps SQL NULL back to the empty string
func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
