package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestBucketAllowsBurstThenBlocks(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBucket(1.6)
	b.now = func() time.Time { return clock }
	b.last = clock

	// burst = ceil(1.6) = 2 tokens available immediately
	if d := b.reserve(); d != 0 {
		t.Fatalf("first reserve should be free, got wait %v", d)
	}
	if d := b.reserve(); d != 0 {
		t.Fatalf("second reserve should be free, got wait %v", d)
	}

	d := b.reserve()
	if d <= 0 {
		t.Fatalf("third reserve within the same instant must wait")
	}
	// One token at 1.6/s takes 625ms.
	if d < 600*time.Millisecond || d > 650*time.Millisecond {
		t.Fatalf("wait = %v, want ~625ms", d)
	}
}

func TestBucketRefills(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBucket(2)
	b.now = func() time.Time { return clock }
	b.last = clock

	// Drain the burst.
	b.reserve()
	b.reserve()
	if d := b.reserve(); d == 0 {
		t.Fatalf("bucket should be empty")
	}

	// After one second two tokens are back.
	clock = clock.Add(time.Second)
	if d := b.reserve(); d != 0 {
		t.Fatalf("expected refill after 1s, got wait %v", d)
	}
	if d := b.reserve(); d != 0 {
		t.Fatalf("expected second refilled token, got wait %v", d)
	}
}

func TestBucketNeverExceedsRatePerWindow(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBucket(5)
	b.now = func() time.Time { return clock }
	b.last = clock

	granted := 0
	// Simulate a 1s window in 10ms steps; count zero-wait grants.
	for i := 0; i < 100; i++ {
		if d := b.reserve(); d == 0 {
			granted++
		}
		clock = clock.Add(10 * time.Millisecond)
	}
	// burst(5) + refill(5/s * 1s) = 10 grants max in the first second
	if granted > 10 {
		t.Fatalf("granted %d calls in 1s window, bucket allows at most 10", granted)
	}
	if granted < 9 {
		t.Fatalf("granted %d calls in 1s window, refill appears broken", granted)
	}
}

func TestBucketWaitHonorsContext(t *testing.T) {
	b := NewBucket(0.001) // effectively frozen after the first token
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := b.Wait(ctx); err != nil {
		t.Fatalf("first wait should pass: %v", err)
	}
	if err := b.Wait(ctx); err == nil {
		t.Fatalf("second wait should fail with context deadline")
	}
}
