package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mnemo/internal/observability"
)

const (
	backoffBase = time.Second
	backoffMax  = 10 * time.Second
)

// RetryExhaustedError is returned after every transient-retry attempt failed.
// Callers treat it as a non-retryable job failure: the retry budget for the
// LLM lives entirely inside this boundary.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("llm call failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Retrier wraps a provider with the transient-failure policy: exponential
// backoff (base 1s, cap 10s), a bounded attempt count, a per-call timeout
// (timeouts count as transient), and an optional model fallback on retry.
type Retrier struct {
	Primary     Provider
	Fallback    Provider // used from the second attempt on, when set
	MaxAttempts int
	Timeout     time.Duration
}

func (r *Retrier) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	backoff := backoffBase
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		provider := r.Primary
		if attempt > 1 && r.Fallback != nil {
			provider = r.Fallback
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := provider.Complete(callCtx, req)
		cancel()
		if err == nil {
			return out, nil
		}
		// A per-call timeout is a transient failure; a canceled parent is not.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !IsTransient(err) && !errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		lastErr = err
		observability.LoggerWithTrace(ctx).Warn().Err(err).
			Int("attempt", attempt).
			Int("maxAttempts", maxAttempts).
			Dur("backoff", backoff).
			Msg("transient llm error")

		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
	return "", &RetryExhaustedError{Attempts: maxAttempts, Err: lastErr}
}
