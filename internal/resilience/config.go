package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// WithClassBackoff returns cfg with per-class base delays given in
// milliseconds, keyed by class name. Unknown class names and non-positive
// values are ignored.
func WithClassBackoff(cfg RetryConfig, ms map[string]int) RetryConfig {
	if len(ms) == 0 {
		return cfg
	}
	out := make(map[Class]time.Duration, len(ms))
	for k, v := range cfg.ClassBackoff {
		out[k] = v
	}
	for name, v := range ms {
		c := Class(name)
		if v <= 0 || !c.Retryable() {
			continue
		}
		out[c] = time.Duration(v) * time.Millisecond
	}
	cfg.ClassBackoff = out
	return cfg
}
