package queue

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffDoublesFromBase(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: time.Hour, Rand: rand.New(rand.NewSource(1))}

	prevMax := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		want := time.Duration(30*(1<<(attempt-1))) * time.Second
		lo := time.Duration(float64(want) * 0.75)
		hi := time.Duration(float64(want) * 1.25)

		d := b.Delay(attempt)
		if d < lo || d > hi {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
		}
		if d <= prevMax/4 {
			t.Errorf("attempt %d: delay %v did not grow", attempt, d)
		}
		prevMax = hi
	}
}

func TestBackoffCapped(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: time.Hour, Rand: rand.New(rand.NewSource(7))}

	// 30s * 2^19 is way past the cap; jitter may still exceed the cap by 25%.
	d := b.Delay(20)
	if d > time.Duration(float64(time.Hour)*1.25) {
		t.Errorf("delay %v exceeds jittered cap", d)
	}
	if d < time.Duration(float64(time.Hour)*0.75) {
		t.Errorf("delay %v below jittered cap floor", d)
	}
}

func TestBackoffZeroValueUsesDefaults(t *testing.T) {
	var b Backoff
	d := b.Delay(1)
	if d < 20*time.Second || d > 40*time.Second {
		t.Errorf("default first delay %v outside 30s ±25%%", d)
	}
}

func TestShouldRetryBoundary(t *testing.T) {
	const max = 3
	cases := []struct {
		name      string
		retryable bool
		attempts  int
		want      bool
	}{
		{"attempts below cap", true, max - 1, true},
		{"failure reaching cap dead-letters", true, max, false},
		{"attempts past cap never retry", true, max + 1, false},
		{"permanent failure skips the budget", false, 1, false},
	}
	for _, tc := range cases {
		if got := ShouldRetry(tc.retryable, tc.attempts, max); got != tc.want {
			t.Errorf("%s: ShouldRetry(%v, %d, %d) = %v, want %v",
				tc.name, tc.retryable, tc.attempts, max, got, tc.want)
		}
	}
}

func TestDefaultMaxAttempts(t *testing.T) {
	if got := DefaultMaxAttempts(KindDiscoverWebsite); got != 2 {
		t.Errorf("discover max attempts = %d, want 2", got)
	}
	for _, k := range []Kind{KindScrapeZone, KindValidateBusiness, KindSubmitGeneration} {
		if got := DefaultMaxAttempts(k); got != 3 {
			t.Errorf("%s max attempts = %d, want 3", k, got)
		}
	}
}
