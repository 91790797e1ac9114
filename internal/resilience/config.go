package resilience

import "time"

// RetryFromAttempts is DefaultRetryConfig with attempts and the first
// backoff overridden when positive.
func RetryFromAttempts(attempts int, first time.Duration) RetryConfig {
	rc := DefaultRetryConfig()
	rc.MaxAttempts = positiveOr(attempts, rc.MaxAttempts)
	rc.InitialBackoff = time.Duration(positiveOr(int(first), int(rc.InitialBackoff)))
	return rc
}

// FromCircuitConfig maps fetch.breaker_threshold and
// fetch.breaker_reset_secs onto breaker defaults.
func FromCircuitConfig(threshold, resetSecs int) CircuitBreakerConfig {
	cc := DefaultCircuitBreakerConfig()
	cc.FailureThreshold = positiveOr(threshold, cc.FailureThreshold)
	if resetSecs > 0 {
		cc.ResetTimeout = time.Duration(resetSecs) * time.Second
	}
	return cc
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
