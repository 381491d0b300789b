package synthesis

import (
	"encoding/json"
	"fmt"
	"strings"
)

const minStructuredOutputLen = 100

// ValidationError marks LLM output that is structurally unusable. It is
// deterministic: the same output fails the same way, so it is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid synthesis output: " + e.Reason
}

// decodeStructured strips optional markdown fencing, rejects truncated or
// undersized output, and unmarshals into v. Everything it rejects must be
// rejected before any persistence happens.
func decodeStructured(raw string, v any) error {
	s := strings.TrimSpace(raw)
	s = stripFences(s)
	if len(s) < minStructuredOutputLen {
		return &ValidationError{Reason: fmt.Sprintf("output too short (%d chars)", len(s))}
	}
	if strings.HasSuffix(s, "...") {
		return &ValidationError{Reason: "output ends with truncation marker"}
	}
	lower := strings.ToLower(s)
	if strings.Contains(lower, `"truncated"`) || strings.Contains(lower, `"incomplete"`) {
		return &ValidationError{Reason: "output contains truncation marker"}
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
