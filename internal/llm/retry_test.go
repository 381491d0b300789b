package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	responses []string
	errs      []error
	calls     int
}

func (p *scriptedProvider) Complete(_ context.Context, _ CompletionRequest) (string, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return "", fmt.Errorf("script exhausted")
}

func TestRetrierSucceedsAfterTransientFailure(t *testing.T) {
	p := &scriptedProvider{
		errs:      []error{fmt.Errorf("429 too many requests"), nil},
		responses: []string{"", "ok"},
	}
	r := &Retrier{Primary: p, MaxAttempts: 3, Timeout: time.Second}
	out, err := r.Complete(context.Background(), CompletionRequest{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, p.calls)
}

func TestRetrierDoesNotRetryDeterministicErrors(t *testing.T) {
	p := &scriptedProvider{errs: []error{fmt.Errorf("invalid request: unknown model")}}
	r := &Retrier{Primary: p, MaxAttempts: 3, Timeout: time.Second}
	_, err := r.Complete(context.Background(), CompletionRequest{User: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
	var exhausted *RetryExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestRetrierExhaustion(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		fmt.Errorf("overloaded"),
		fmt.Errorf("overloaded"),
		fmt.Errorf("overloaded"),
	}}
	r := &Retrier{Primary: p, MaxAttempts: 3, Timeout: time.Second}
	_, err := r.Complete(context.Background(), CompletionRequest{User: "hi"})
	require.Error(t, err)
	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, p.calls)
}

func TestRetrierFallsBackOnRetry(t *testing.T) {
	primary := &scriptedProvider{errs: []error{fmt.Errorf("503 service unavailable")}}
	fallback := &scriptedProvider{responses: []string{"from fallback"}}
	r := &Retrier{Primary: primary, Fallback: fallback, MaxAttempts: 3, Timeout: time.Second}
	out, err := r.Complete(context.Background(), CompletionRequest{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", out)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("request timeout")))
	assert.True(t, IsTransient(fmt.Errorf("server overloaded, retry later")))
	assert.True(t, IsTransient(fmt.Errorf("429 rate limit exceeded")))
	assert.False(t, IsTransient(fmt.Errorf("schema validation failed")))
	assert.False(t, IsTransient(nil))
}
