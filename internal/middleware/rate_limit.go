package middleware

import (
	"container/list"
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/darleyabbeyfc/contact-gateway/internal/metrics"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest attempt in the window expires.
	ResetAt time.Time
}

// RetryAfter returns the whole seconds until a slot frees up, at least 1.
func (d Decision) RetryAfter(now time.Time) int64 {
	secs := int64(d.ResetAt.Sub(now).Seconds() + 0.999)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter is implemented by the in-memory and Redis sliding windows.
type Limiter interface {
	Check(ctx context.Context, key string) (Decision, error)
}

// bucket holds attempt timestamps for one client, oldest first. It never
// holds more than limit entries because denied attempts are not recorded.
type bucket struct {
	key   string
	times []time.Time
}

// RateLimiter is an in-memory sliding window limiter keyed by client id.
// Buckets live in an LRU list capped at maxBuckets; a janitor drops buckets
// whose attempts have all expired.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*list.Element
	lru        *list.List
	limit      int
	window     time.Duration
	maxBuckets int
	now        func() time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithMaxBuckets caps the number of tracked clients. Zero means unbounded.
func WithMaxBuckets(n int) RateLimiterOption {
	return func(rl *RateLimiter) { rl.maxBuckets = n }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) { rl.now = now }
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*list.Element),
		lru:     list.New(),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow records an attempt for key and reports whether it is within the limit.
// A denied attempt is not recorded.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.check(key).Allowed
}

// Check implements Limiter. It never fails.
func (rl *RateLimiter) Check(_ context.Context, key string) (Decision, error) {
	return rl.check(key), nil
}

func (rl *RateLimiter) check(key string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b := rl.touch(key)
	b.times = prune(b.times, now.Add(-rl.window))

	if len(b.times) >= rl.limit {
		return Decision{
			Allowed:   false,
			Limit:     rl.limit,
			Remaining: 0,
			ResetAt:   b.times[0].Add(rl.window),
		}
	}

	b.times = append(b.times, now)
	return Decision{
		Allowed:   true,
		Limit:     rl.limit,
		Remaining: rl.limit - len(b.times),
		ResetAt:   b.times[0].Add(rl.window),
	}
}

// touch returns the bucket for key, creating it and evicting the least
// recently used bucket if the cap is reached. Caller holds rl.mu.
func (rl *RateLimiter) touch(key string) *bucket {
	if el, ok := rl.buckets[key]; ok {
		rl.lru.MoveToFront(el)
		return el.Value.(*bucket)
	}
	if rl.maxBuckets > 0 && rl.lru.Len() >= rl.maxBuckets {
		if oldest := rl.lru.Back(); oldest != nil {
			rl.lru.Remove(oldest)
			delete(rl.buckets, oldest.Value.(*bucket).key)
		}
	}
	b := &bucket{key: key, times: make([]time.Time, 0, rl.limit)}
	rl.buckets[key] = rl.lru.PushFront(b)
	return b
}

// prune drops timestamps at or before cutoff. An attempt exactly one window
// old is expired.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}

// Sweep removes buckets with no attempt inside the window.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	removed := 0
	for key, el := range rl.buckets {
		b := el.Value.(*bucket)
		b.times = prune(b.times, cutoff)
		if len(b.times) == 0 {
			rl.lru.Remove(el)
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// StartJanitor sweeps expired buckets once per window until ctx is done.
func (rl *RateLimiter) StartJanitor(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Sweep()
				metrics.RateLimitBuckets.Set(float64(rl.Len()))
			}
		}
	}()
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for d.
func SetRateLimitHeaders(w http.ResponseWriter, d Decision, now time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.FormatInt(d.RetryAfter(now), 10))
	}
}
