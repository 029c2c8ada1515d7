package outbox

import "time"

const (
	// DefaultBackoffBase is the base delay of the default BackoffPolicy.
	DefaultBackoffBase = 5 * time.Second
	// DefaultBackoffMax caps the default BackoffPolicy.
	DefaultBackoffMax = 10 * time.Minute

	minBackoffExponent = 1
	maxBackoffExponent = 8
)

// BackoffPolicy computes retry delays as min(Max, Base * 2^clamp(attempts, 1, 8)).
// Zero fields fall back to DefaultBackoffBase and DefaultBackoffMax.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the delay before the next attempt after the given number of failed attempts.
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	maxDelay := p.Max
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffMax
	}

	exp := min(max(attempts, minBackoffExponent), maxBackoffExponent)
	if base > maxDelay>>exp {
		return maxDelay
	}

	return min(base<<exp, maxDelay)
}

// Backoff applies the default policy.
func Backoff(attempts int) time.Duration {
	return BackoffPolicy{}.Delay(attempts)
}
