package middleware

import (
	"context"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimiter_DeniesAfterMaxWithinWindow(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(5, 10*time.Minute, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		if !rl.Allow("203.0.113.9") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
		clock.Advance(time.Second)
	}
	if rl.Allow("203.0.113.9") {
		t.Fatal("6th attempt within the window should be denied")
	}
	if !rl.Allow("198.51.100.1") {
		t.Fatal("a different client must have its own bucket")
	}
}

func TestRateLimiter_AllowsAgainAfterWindow(t *testing.T) {
	clock := newFakeClock()
	window := 10 * time.Minute
	rl := NewRateLimiter(5, window, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		rl.Allow("client")
	}
	if rl.Allow("client") {
		t.Fatal("expected deny at the limit")
	}

	// The first five attempts share one timestamp; exactly one window later
	// they are all expired.
	clock.Advance(window)
	if !rl.Allow("client") {
		t.Fatal("expected allow once the window has elapsed")
	}
}

func TestRateLimiter_ExactWindowBoundaryIsExpired(t *testing.T) {
	clock := newFakeClock()
	window := 600 * time.Millisecond
	rl := NewRateLimiter(1, window, WithClock(clock.Now))

	if !rl.Allow("k") {
		t.Fatal("first attempt should be allowed")
	}
	clock.Advance(window - time.Millisecond)
	if rl.Allow("k") {
		t.Fatal("attempt one millisecond inside the window should be denied")
	}
	clock.Advance(time.Millisecond)
	if !rl.Allow("k") {
		t.Fatal("attempt exactly one window later should be allowed")
	}
}

func TestRateLimiter_DeniedAttemptsAreNotRecorded(t *testing.T) {
	clock := newFakeClock()
	window := time.Minute
	rl := NewRateLimiter(2, window, WithClock(clock.Now))

	rl.Allow("k")
	rl.Allow("k")
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		if rl.Allow("k") {
			t.Fatal("expected deny while at the limit")
		}
	}

	// Only the two allowed attempts at t0 count, so a full window after t0
	// the client is free again even though denials continued afterwards.
	clock.Advance(window - 10*time.Second)
	if !rl.Allow("k") {
		t.Fatal("denied attempts must not extend the window")
	}
}

func TestRateLimiter_CheckReportsRemainingAndReset(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(3, time.Minute, WithClock(clock.Now))
	start := clock.Now()

	d, err := rl.Check(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed || d.Remaining != 2 || d.Limit != 3 {
		t.Errorf("first decision: %+v", d)
	}
	if !d.ResetAt.Equal(start.Add(time.Minute)) {
		t.Errorf("ResetAt: got %v, want %v", d.ResetAt, start.Add(time.Minute))
	}

	clock.Advance(10 * time.Second)
	rl.Check(context.Background(), "k")
	rl.Check(context.Background(), "k")
	d, _ = rl.Check(context.Background(), "k")
	if d.Allowed || d.Remaining != 0 {
		t.Errorf("expected denial with no remaining, got %+v", d)
	}
	if got := d.RetryAfter(clock.Now()); got != 50 {
		t.Errorf("RetryAfter: got %d, want 50", got)
	}
}

func TestRateLimiter_MaxBucketsEvictsLeastRecentlyUsed(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(1, time.Hour, WithClock(clock.Now), WithMaxBuckets(2))

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("a") // denied, but touches a
	rl.Allow("c") // evicts b

	if rl.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", rl.Len())
	}
	if rl.Allow("a") {
		t.Error("a should still be tracked and denied")
	}
	if !rl.Allow("b") {
		t.Error("b was evicted and should start fresh")
	}
}

func TestRateLimiter_SweepDropsIdleBuckets(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(5, time.Minute, WithClock(clock.Now))

	rl.Allow("old")
	clock.Advance(30 * time.Second)
	rl.Allow("fresh")
	clock.Advance(31 * time.Second)

	if removed := rl.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d buckets, want 1", removed)
	}
	if rl.Len() != 1 {
		t.Fatalf("Len after sweep: got %d, want 1", rl.Len())
	}
}

func TestRateLimiter_ConcurrentSameClient(t *testing.T) {
	rl := NewRateLimiter(50, time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Fatalf("allowed %d concurrent attempts, want exactly 50", allowed)
	}
}

// Property: within one window a client is allowed exactly min(n, limit)
// times, and never more than limit regardless of spacing.
func TestProperty_SlidingWindowNeverExceedsLimit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 10).Draw(t, "limit")
		window := time.Duration(rapid.IntRange(1, 1000).Draw(t, "windowMs")) * time.Millisecond
		steps := rapid.SliceOfN(rapid.IntRange(0, 400), 1, 60).Draw(t, "stepsMs")

		clock := newFakeClock()
		rl := NewRateLimiter(limit, window, WithClock(clock.Now))

		var accepted []time.Time
		for _, step := range steps {
			clock.Advance(time.Duration(step) * time.Millisecond)
			now := clock.Now()

			inWindow := 0
			for _, ts := range accepted {
				if now.Sub(ts) < window {
					inWindow++
				}
			}
			want := inWindow < limit

			if got := rl.Allow("k"); got != want {
				t.Fatalf("at %v: Allow=%v, model says %v (inWindow=%d limit=%d)", now, got, want, inWindow, limit)
			}
			if want {
				accepted = append(accepted, now)
			}
		}
	})
}

func TestSetRateLimitHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rec := httptest.NewRecorder()
	SetRateLimitHeaders(rec, Decision{Allowed: false, Limit: 5, Remaining: 0, ResetAt: now.Add(90 * time.Second)}, now)

	if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("X-RateLimit-Limit: got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(now.Add(90*time.Second).Unix(), 10) {
		t.Errorf("X-RateLimit-Reset: got %q", got)
	}
	if got := rec.Header().Get("Retry-After"); got != "90" {
		t.Errorf("Retry-After: got %q, want 90", got)
	}
}
