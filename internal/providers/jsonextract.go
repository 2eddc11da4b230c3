package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ExtractJSON recovers a JSON document from raw LLM output. Attempts, in
// order: the text as-is, markdown fences stripped, the outermost {...}
// slice, and finally jsonrepair on that slice.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if json.Valid([]byte(s)) {
		return s, nil
	}

	s = stripFences(s)
	if json.Valid([]byte(s)) {
		return s, nil
	}

	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
		if json.Valid([]byte(s)) {
			return s, nil
		}
	}

	repaired, err := jsonrepair.JSONRepair(s)
	if err == nil && json.Valid([]byte(repaired)) {
		return repaired, nil
	}
	return "", fmt.Errorf("no JSON found in response")
}

// DecodeJSON extracts and unmarshals a JSON document from raw LLM output.
func DecodeJSON(raw string, v any) error {
	s, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(s), v)
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag like "json" on the opening fence.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}[]") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
