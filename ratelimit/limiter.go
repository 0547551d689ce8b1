package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-agentpay/core"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/time/rate"
)

const (
	defaultIdleTTL    = 10 * time.Minute
	defaultMaxEntries = 10000
)

type ThrottledError struct {
	Bucket     string
	Key        string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: bucket %q key %q throttled for %s",
		strings.TrimSpace(e.Bucket),
		strings.TrimSpace(e.Key),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"bucket": strings.TrimSpace(e.Bucket),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// RetryAfterSeconds rounds up so clients never retry early.
func (e ThrottledError) RetryAfterSeconds() int {
	seconds := int(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second > 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

type Options struct {
	Bucket     string
	Rate       rate.Limit
	Burst      int
	IdleTTL    time.Duration
	MaxEntries int
	Now        func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key, typically a client id or
// remote address. Buckets idle longer than IdleTTL are dropped.
type KeyedLimiter struct {
	bucket     string
	limit      rate.Limit
	burst      int
	idleTTL    time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

func NewKeyedLimiter(opts Options) *KeyedLimiter {
	limit := opts.Rate
	if limit <= 0 {
		limit = rate.Every(time.Second)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	idleTTL := opts.IdleTTL
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		bucket = "default"
	}
	return &KeyedLimiter{
		bucket:     bucket,
		limit:      limit,
		burst:      burst,
		idleTTL:    idleTTL,
		maxEntries: maxEntries,
		now:        now,
		entries:    map[string]*entry{},
	}
}

// Allow consumes one token for key or returns a ThrottledError carrying the
// wait until the next token.
func (l *KeyedLimiter) Allow(key string) error {
	if l == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.entries[key]
	if !ok {
		l.cleanup(now)
		current = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = current
	}
	current.lastSeen = now

	reservation := current.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return ThrottledError{Bucket: l.bucket, Key: key, RetryAfter: l.idleTTL}
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return ThrottledError{Bucket: l.bucket, Key: key, RetryAfter: delay}
	}
	return nil
}

func (l *KeyedLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *KeyedLimiter) cleanup(now time.Time) {
	for key, existing := range l.entries {
		if now.Sub(existing.lastSeen) >= l.idleTTL {
			delete(l.entries, key)
		}
	}
	if len(l.entries) < l.maxEntries {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, existing := range l.entries {
		if oldestKey == "" || existing.lastSeen.Before(oldest) {
			oldestKey = key
			oldest = existing.lastSeen
		}
	}
	delete(l.entries, oldestKey)
}
