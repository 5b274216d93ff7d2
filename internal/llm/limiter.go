package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/cao-extract/internal/resilience"
)

// AdaptiveLimiter wraps a rate.Limiter that backs off on rate-limit errors.
// On success it increases the rate by 20% (up to the initial rate).
// On a rate-limit error it halves the rate (down to initial/8 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates a limiter that allows perMinute requests.
func NewAdaptiveLimiter(perMinute int) *AdaptiveLimiter {
	r := rate.Limit(float64(perMinute) / 60.0)
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(r, burst),
		maxRate:     r,
		minRate:     r / 8,
		currentRate: r,
	}
}

// Wait blocks until the limiter allows a request.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to the configured rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("llm: reducing request rate after rate limit",
		zap.Float64("requests_per_minute", float64(newRate)*60),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// RateLimited throttles a Completer shared by all workers.
type RateLimited struct {
	next    Completer
	limiter *AdaptiveLimiter
}

// NewRateLimited wraps next with a perMinute request budget.
func NewRateLimited(next Completer, perMinute int) *RateLimited {
	return &RateLimited{next: next, limiter: NewAdaptiveLimiter(perMinute)}
}

// Model returns the wrapped model name.
func (r *RateLimited) Model() string { return r.next.Model() }

// Complete waits for a slot and forwards req.
func (r *RateLimited) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, eris.Wrap(ctxErr, "llm: wait for rate limiter")
		}
		return nil, eris.Wrap(err, "llm: wait for rate limiter")
	}
	resp, err := r.next.Complete(ctx, req)
	if err != nil {
		var te *resilience.TransientError
		if errors.As(err, &te) && te.Class == resilience.ClassRateLimit {
			r.limiter.OnRateLimit()
		}
		return nil, err
	}
	r.limiter.OnSuccess()
	return resp, nil
}
