package llm

import (
	"context"
	"strings"
)

// CompletionRequest is one structured-output call to a model. The prompt is
// expected to instruct the model to answer with JSON only; parsing and schema
// validation happen in the synthesis layer.
type CompletionRequest struct {
	System    string
	User      string
	MaxTokens int
}

// Provider is a single model backend.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// IsTransient performs a heuristic on error text for retryable cases:
// overload, rate limits, 5xx, network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "timed out") ||
		strings.Contains(s, "temporar") ||
		strings.Contains(s, "overload") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "unavailable") ||
		strings.Contains(s, "internal server error") ||
		strings.Contains(s, "bad gateway") ||
		strings.Contains(s, "429") ||
		strings.Contains(s, "500") ||
		strings.Contains(s, "502") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "529")
}
