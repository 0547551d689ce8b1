package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-agentpay/core"
	"golang.org/x/time/rate"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestKeyedLimiter_BurstThenThrottle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewKeyedLimiter(Options{Bucket: "token", Rate: rate.Every(time.Second), Burst: 2, Now: clock.Now})

	for i := 0; i < 2; i++ {
		if err := limiter.Allow("apc_1"); err != nil {
			t.Fatalf("expected burst request %d allowed: %v", i, err)
		}
	}
	err := limiter.Allow("apc_1")
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected throttled error, got %v", err)
	}
	if throttled.RetryAfter <= 0 || throttled.RetryAfter > time.Second {
		t.Fatalf("unexpected retry after %s", throttled.RetryAfter)
	}
	if throttled.RetryAfterSeconds() != 1 {
		t.Fatalf("expected retry after rounded to 1s, got %d", throttled.RetryAfterSeconds())
	}

	if err := limiter.Allow("apc_2"); err != nil {
		t.Fatalf("expected other keys unaffected: %v", err)
	}

	clock.now = clock.now.Add(time.Second)
	if err := limiter.Allow("apc_1"); err != nil {
		t.Fatalf("expected refill after a second: %v", err)
	}
}

func TestKeyedLimiter_ThrottledCallsDoNotConsumeTokens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewKeyedLimiter(Options{Rate: rate.Every(time.Second), Burst: 1, Now: clock.Now})

	if err := limiter.Allow("ip"); err != nil {
		t.Fatalf("first allow: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := limiter.Allow("ip"); err == nil {
			t.Fatalf("expected throttle on attempt %d", i)
		}
	}
	clock.now = clock.now.Add(time.Second)
	if err := limiter.Allow("ip"); err != nil {
		t.Fatalf("expected rejected attempts not to push the refill out: %v", err)
	}
}

func TestKeyedLimiter_EvictsIdleAndOverflowKeys(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewKeyedLimiter(Options{Burst: 1, IdleTTL: time.Minute, MaxEntries: 2, Now: clock.Now})

	_ = limiter.Allow("a")
	clock.now = clock.now.Add(time.Second)
	_ = limiter.Allow("b")
	clock.now = clock.now.Add(time.Second)
	_ = limiter.Allow("c")
	if got := limiter.Len(); got != 2 {
		t.Fatalf("expected oldest key evicted at capacity, got %d entries", got)
	}

	clock.now = clock.now.Add(2 * time.Minute)
	_ = limiter.Allow("d")
	if got := limiter.Len(); got != 1 {
		t.Fatalf("expected idle keys dropped, got %d entries", got)
	}
}

func TestThrottledError_ToServiceError(t *testing.T) {
	mapped := ThrottledError{Bucket: "token", Key: "apc_1", RetryAfter: 3 * time.Second}.ToServiceError()
	if mapped == nil {
		t.Fatalf("expected mapped error")
	}
	if mapped.TextCode != core.ErrorRateLimited {
		t.Fatalf("expected %q text code, got %q", core.ErrorRateLimited, mapped.TextCode)
	}
	if mapped.Code != 429 {
		t.Fatalf("expected status code 429, got %d", mapped.Code)
	}
	if _, leaked := mapped.Metadata["key"]; leaked {
		t.Fatalf("expected limiter key kept out of error metadata")
	}
}
