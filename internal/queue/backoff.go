package queue

import (
	"math"
	"math/rand"
	"time"
)

// Backoff is the shared retry policy: exponential from Base, capped at Cap,
// jittered ±25% so retry storms spread out.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	// rand source override for tests; nil uses the global source.
	Rand *rand.Rand
}

// ShouldRetry decides retry versus dead-letter after a failure. attempts
// counts the failure just recorded: the failure that reaches maxAttempts is
// the last one, and attempt maxAttempts+1 never runs.
func ShouldRetry(retryable bool, attempts, maxAttempts int) bool {
	return retryable && attempts < maxAttempts
}

// Delay returns the wait before the given retry. attempt is 1-based: the
// first retry (after the first failure) waits about Base.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = 30 * time.Second
	}
	cap := b.Cap
	if cap <= 0 {
		cap = time.Hour
	}

	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > cap || d <= 0 {
		d = cap
	}

	// ±25% jitter.
	var f float64
	if b.Rand != nil {
		f = b.Rand.Float64()
	} else {
		f = rand.Float64()
	}
	jitter := 0.75 + 0.5*f
	return time.Duration(float64(d) * jitter)
}
