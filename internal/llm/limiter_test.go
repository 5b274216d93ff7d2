package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/cao-extract/internal/resilience"
)

type stubCompleter struct {
	err   error
	calls int
}

func (s *stubCompleter) Model() string { return "stub" }

func (s *stubCompleter) Complete(_ context.Context, _ Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Text: "ok", Model: "stub"}, nil
}

func TestAdaptiveLimiter_Adjusts(t *testing.T) {
	a := NewAdaptiveLimiter(60)
	assert.Equal(t, rate.Limit(1), a.Limit())

	a.OnRateLimit()
	assert.InDelta(t, 0.5, float64(a.Limit()), 1e-9)

	for i := 0; i < 10; i++ {
		a.OnRateLimit()
	}
	assert.InDelta(t, 0.125, float64(a.Limit()), 1e-9)

	for i := 0; i < 50; i++ {
		a.OnSuccess()
	}
	assert.InDelta(t, 1.0, float64(a.Limit()), 1e-9)
}

func TestRateLimited_BacksOffOnRateLimit(t *testing.T) {
	stub := &stubCompleter{err: &resilience.TransientError{Err: errors.New("429"), StatusCode: 429, Class: resilience.ClassRateLimit}}
	r := NewRateLimited(stub, 600)
	before := r.limiter.Limit()

	_, err := r.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, stub.calls)
	assert.Less(t, float64(r.limiter.Limit()), float64(before))
}

func TestRateLimited_CanceledContext(t *testing.T) {
	stub := &stubCompleter{}
	r := NewRateLimited(stub, 1)
	// Drain the single burst token.
	_, err := r.Complete(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Complete(ctx, Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stub.calls)
}
