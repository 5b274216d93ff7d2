package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the base delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier scales the backoff after each attempt. Values below 1 are
	// raised to 1. Default: 2.0.
	Multiplier float64

	// JitterFraction adds random upward jitter as a fraction of the computed
	// delay (0.25 = up to +25%). Default: 0.
	JitterFraction float64

	// ClassBackoff overrides InitialBackoff for specific failure classes.
	ClassBackoff map[Class]time.Duration

	// Classify assigns a failure class to an attempt error. If nil, Classify is used.
	Classify func(err error) Class

	// ShouldRetry optionally overrides the class-based retry decision.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)

	// OnAttempt is called after every attempt, successful or not.
	OnAttempt func(a Attempt)
}

// Attempt describes one finished call made by Do or DoVal.
type Attempt struct {
	Number    int
	Start     time.Time
	End       time.Time
	Err       error
	Class     Class
	WillRetry bool
	// Exhausted marks a retryable failure on the last allowed attempt.
	Exhausted bool
	Delay     time.Duration
}

// DefaultRetryConfig returns a sensible retry configuration for API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Do executes fn with retry logic according to cfg. See DoVal.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn, retrying retryable failures with capped exponential
// backoff. Non-retryable failures return a *FatalError immediately; running
// out of attempts returns an *ExhaustedError. Context cancellation stops
// retries and interrupts the backoff sleep.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	var zero T
	var prevDelay time.Duration
	for n := 1; ; n++ {
		start := time.Now()
		val, err := fn(ctx)
		end := time.Now()
		if err == nil {
			cfg.observe(Attempt{Number: n, Start: start, End: end})
			return val, nil
		}

		class := cfg.Classify(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			cfg.observe(Attempt{Number: n, Start: start, End: end, Err: err, Class: ClassCanceled})
			return zero, eris.Wrapf(ctxErr, "resilience: stopped after attempt %d: %v", n, err)
		}

		retry := class.Retryable()
		if cfg.ShouldRetry != nil {
			retry = cfg.ShouldRetry(err)
		}
		if !retry {
			cfg.observe(Attempt{Number: n, Start: start, End: end, Err: err, Class: class})
			return zero, asFatal(err, class)
		}

		if n >= cfg.MaxAttempts {
			cfg.observe(Attempt{Number: n, Start: start, End: end, Err: err, Class: class, Exhausted: true})
			return zero, &ExhaustedError{Err: err, Attempts: n, Class: class}
		}

		delay := computeBackoff(n-1, class, cfg)
		if delay < prevDelay {
			delay = prevDelay
		}
		prevDelay = delay

		cfg.observe(Attempt{Number: n, Start: start, End: end, Err: err, Class: class, WillRetry: true, Delay: delay})
		if cfg.OnRetry != nil {
			cfg.OnRetry(n, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, eris.Wrapf(ctx.Err(), "resilience: stopped during backoff after attempt %d: %v", n, err)
		case <-timer.C:
		}
	}
}

func (cfg RetryConfig) observe(a Attempt) {
	if cfg.OnAttempt != nil {
		cfg.OnAttempt(a)
	}
}

func asFatal(err error, class Class) error {
	if _, ok := err.(*FatalError); ok {
		return err
	}
	if class == "" || class.Retryable() {
		class = ClassUnknown
	}
	return &FatalError{Err: err, Class: class}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	} else if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.Classify == nil {
		cfg.Classify = Classify
	}
	return cfg
}

// computeBackoff returns the delay after the given zero-based retry index.
// Jitter only lengthens the delay and the result never exceeds MaxBackoff.
func computeBackoff(retry int, class Class, cfg RetryConfig) time.Duration {
	base := cfg.InitialBackoff
	if b, ok := cfg.ClassBackoff[class]; ok && b > 0 {
		base = b
	}
	delay := float64(base) * math.Pow(cfg.Multiplier, float64(retry))
	if cfg.JitterFraction > 0 {
		delay += rand.Float64() * delay * cfg.JitterFraction
	}
	if delay > float64(cfg.MaxBackoff) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		delay = float64(cfg.MaxBackoff)
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("class", string(Classify(err))),
			zap.Error(err),
		)
	}
}
