package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig. maxRetries counts
// retries after the first attempt; non-positive values keep the defaults,
// except maxRetries where 0 means a single attempt.
func FromRetryConfig(maxRetries, initialBackoffMs, maxBackoffMs, jitterMs, timeoutSecs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxRetries >= 0 {
		cfg.MaxAttempts = maxRetries + 1
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if jitterMs >= 0 {
		cfg.Jitter = time.Duration(jitterMs) * time.Millisecond
	}
	if timeoutSecs > 0 {
		cfg.AttemptTimeout = time.Duration(timeoutSecs) * time.Second
	}
	return cfg
}

// FromBreakerConfig converts config values to a BreakerConfig.
func FromBreakerConfig(name string, failureThreshold, openSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig(name)
	if failureThreshold > 0 {
		cfg.FailureThreshold = uint32(failureThreshold)
	}
	if openSecs > 0 {
		cfg.OpenTimeout = time.Duration(openSecs) * time.Second
	}
	return cfg
}
