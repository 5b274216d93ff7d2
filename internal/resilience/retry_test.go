package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterTransientFailures(t *testing.T) {
	const n = 3
	var attempts []Attempt
	cfg := fastConfig(n + 1)
	cfg.OnAttempt = func(a Attempt) { attempts = append(attempts, a) }

	var calls int
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls <= n {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != n+1 {
		t.Errorf("expected %d calls, got %d", n+1, calls)
	}
	if len(attempts) != n+1 {
		t.Fatalf("expected %d observed attempts, got %d", n+1, len(attempts))
	}
	var retries, successes int
	for _, a := range attempts {
		if a.Err == nil {
			successes++
			continue
		}
		if !a.WillRetry {
			t.Errorf("attempt %d failed without retry", a.Number)
		}
		if a.Class != ClassTransient {
			t.Errorf("attempt %d: expected class transient, got %s", a.Number, a.Class)
		}
		retries++
	}
	if successes != 1 || retries != n {
		t.Errorf("expected 1 success and %d retries, got %d and %d", n, successes, retries)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(3), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always fails"), 500)
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("expected ErrRetryExhausted, got %v", err)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 3 || ex.Class != ClassTransient {
		t.Errorf("unexpected exhausted error: %+v", ex)
	}
	if ErrorClass(err) != ClassTransient {
		t.Errorf("expected class transient, got %s", ErrorClass(err))
	}
}

func TestDo_FatalErrorNoRetry(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class Class
	}{
		{"auth", NewFatalError(errors.New("bad key"), ClassAuth), ClassAuth},
		{"quota", errors.New("You exceeded your current quota"), ClassQuota},
		{"invalid", errors.New("invalid_request_error: prompt is too long"), ClassInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			err := Do(context.Background(), fastConfig(5), func(_ context.Context) error {
				calls++
				return tt.err
			})
			if calls != 1 {
				t.Errorf("expected 1 call (no retry), got %d", calls)
			}
			var fe *FatalError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FatalError, got %T", err)
			}
			if fe.Class != tt.class {
				t.Errorf("expected class %s, got %s", tt.class, fe.Class)
			}
			if errors.Is(err, ErrRetryExhausted) {
				t.Error("fatal error must not match ErrRetryExhausted")
			}
		})
	}
}

func TestDo_UnknownErrorsAreRetried(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(2), func(_ context.Context) error {
		calls++
		return errors.New("model returned something odd")
	})
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("expected exhaustion, got %v", err)
	}
}

func TestDo_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		Multiplier:     2.0,
	}

	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return NewTransientError(errors.New("fail"), 500)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	start := time.Now()
	err := Do(ctx, cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("fail"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff sleep did not honour cancellation")
	}
}

func TestDo_CustomShouldRetry(t *testing.T) {
	var calls int
	cfg := fastConfig(3)
	cfg.ShouldRetry = func(err error) bool {
		return err.Error() == "retry me"
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("retry me")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDo_ExhaustedMarksLastAttemptOnly(t *testing.T) {
	var attempts []Attempt
	cfg := fastConfig(3)
	cfg.OnAttempt = func(a Attempt) { attempts = append(attempts, a) }

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("fail"), 503)
	})
	if len(attempts) != 3 {
		t.Fatalf("expected 3 observed attempts, got %d", len(attempts))
	}
	for i, a := range attempts {
		if want := i == 2; a.Exhausted != want {
			t.Errorf("attempt %d: Exhausted = %v, want %v", a.Number, a.Exhausted, want)
		}
	}
}

func TestDo_VetoedRetryIsNotExhausted(t *testing.T) {
	var attempts []Attempt
	cfg := fastConfig(3)
	cfg.ShouldRetry = func(error) bool { return false }
	cfg.OnAttempt = func(a Attempt) { attempts = append(attempts, a) }

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("fail"), 503)
	})
	if errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("vetoed retry reported as exhausted: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Exhausted || attempts[0].WillRetry {
		t.Errorf("expected one final non-exhausted attempt, got %+v", attempts)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var retryAttempts []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, _ error) {
		retryAttempts = append(retryAttempts, attempt)
	}

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("fail"), 500)
	})

	if len(retryAttempts) != 2 {
		t.Fatalf("expected 2 OnRetry calls, got %d", len(retryAttempts))
	}
	if retryAttempts[0] != 1 || retryAttempts[1] != 2 {
		t.Errorf("expected attempts [1, 2], got %v", retryAttempts)
	}
}

func TestDoVal_ReturnsValueOnSuccess(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = 1 * time.Millisecond

	var calls int
	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", NewTransientError(errors.New("fail"), 500)
		}
		return "hello", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "hello" {
		t.Errorf("expected %q, got %q", "hello", val)
	}
}

func TestDoVal_ReturnsZeroOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), fastConfig(2), func(_ context.Context) (int, error) {
		return 42, NewTransientError(errors.New("fail"), 500)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if val != 0 {
		t.Errorf("expected zero value on failure, got %d", val)
	}
}

func TestDo_DefaultConfig(t *testing.T) {
	var calls atomic.Int32
	err := Do(context.Background(), RetryConfig{}, func(_ context.Context) error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestDo_DelaysNeverDecrease(t *testing.T) {
	var delays []time.Duration
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     8 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.9,
		ClassBackoff:   map[Class]time.Duration{ClassTimeout: 6 * time.Millisecond},
		OnAttempt: func(a Attempt) {
			if a.WillRetry {
				delays = append(delays, a.Delay)
			}
		},
	}

	var calls int
	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("i/o timeout")
		}
		return NewTransientError(errors.New("unavailable"), 503)
	})

	if len(delays) != 4 {
		t.Fatalf("expected 4 delays, got %d", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Errorf("delay %d (%v) shorter than delay %d (%v)", i, delays[i], i-1, delays[i-1])
		}
	}
	for _, d := range delays {
		if d > cfg.MaxBackoff {
			t.Errorf("delay %v exceeds max backoff", d)
		}
	}
}

func TestComputeBackoff_ExponentialGrowth(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	})

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, want := range expected {
		if d := computeBackoff(i, ClassTransient, cfg); d != want {
			t.Errorf("retry %d: expected %v, got %v", i, want, d)
		}
	}
}

func TestComputeBackoff_ClassBase(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     time.Hour,
		ClassBackoff:   map[Class]time.Duration{ClassTimeout: 120 * time.Second},
	})

	if d := computeBackoff(1, ClassTimeout, cfg); d != 240*time.Second {
		t.Errorf("expected 240s for timeout, got %v", d)
	}
	if d := computeBackoff(1, ClassUnknown, cfg); d != 60*time.Second {
		t.Errorf("expected 60s for unknown, got %v", d)
	}
}

func TestComputeBackoff_CapsAtMax(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Second,
		Multiplier:     10.0,
		JitterFraction: 0.5,
	})

	for i := 0; i < 50; i++ {
		if d := computeBackoff(5, ClassTransient, cfg); d > 5*time.Second {
			t.Fatalf("expected delay capped at 5s, got %v", d)
		}
	}
}

func TestComputeBackoff_JitterOnlyLengthens(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.5,
	})

	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		d := computeBackoff(0, ClassTransient, cfg)
		seen[d] = true
		if d < time.Second || d > 1500*time.Millisecond {
			t.Errorf("delay %v outside expected range [1s, 1500ms]", d)
		}
	}
	if len(seen) < 2 {
		t.Error("expected jitter to produce varying delays")
	}
}

func TestRetryLogger(t *testing.T) {
	t.Parallel()
	logger := RetryLogger("anthropic", "create_message")
	logger(1, errors.New("test error"))
}
