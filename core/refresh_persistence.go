package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultRefreshLockTTL = 30 * time.Second

type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRefreshInitial
	}
	max := s.Max
	if max <= 0 {
		max = defaultRefreshMax
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// PersistRotatedCredential saves a credential the upstream has already
// rotated. The prior credential is no longer valid, so the write is retried
// with backoff and exhaustion surfaces a critical error for manual recovery.
func (s *Service) PersistRotatedCredential(ctx context.Context, resource string, persist func(ctx context.Context) error) (err error) {
	startedAt := time.Now().UTC()
	attempts := 0
	fields := map[string]any{"resource": resource}
	defer func() {
		fields["attempts"] = attempts
		s.observeOperation(ctx, startedAt, "persist_rotated_credential", err, fields)
	}()

	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return s.mapError(newBadInputError("core: resource is required", "resource"))
	}
	if persist == nil {
		return s.mapError(newBadInputError("core: persist function is required", "persist"))
	}

	maxAttempts := s.config.Refresh.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultRefreshAttempts
	}

	var lastErr error
	for attempts = 1; attempts <= maxAttempts; attempts++ {
		lastErr = persist(ctx)
		if lastErr == nil {
			return nil
		}
		if attempts == maxAttempts {
			break
		}
		s.logWarn(ctx, "rotated credential persistence retrying", map[string]any{
			"resource": resource,
			"attempt":  attempts,
			"error":    lastErr.Error(),
		})
		delay := defaultRefreshInitial
		if s.refreshScheduler != nil {
			delay = s.refreshScheduler.NextDelay(attempts)
		}
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			lastErr = waitErr
			break
		}
	}
	if attempts > maxAttempts {
		attempts = maxAttempts
	}
	critical := &CriticalPersistenceError{Resource: resource, Attempts: attempts, Err: lastErr}
	return critical.ToServiceError()
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// RefreshLocker serializes refreshes of a single rotating upstream credential.
type RefreshLocker interface {
	Acquire(ctx context.Context, resource string, ttl time.Duration) (LockHandle, error)
}

type MemoryRefreshLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	Now   func() time.Time
}

func NewMemoryRefreshLocker() *MemoryRefreshLocker {
	return &MemoryRefreshLocker{
		locks: make(map[string]time.Time),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryRefreshLocker) Acquire(_ context.Context, resource string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: refresh locker is not configured")
	}
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return nil, fmt.Errorf("core: resource is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultRefreshLockTTL
	}

	now := l.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[resource]; ok && now.Before(until) {
		return nil, fmt.Errorf("core: refresh lock already held for %q", resource)
	}
	l.locks[resource] = now.Add(ttl)
	return &memoryLockHandle{locker: l, resource: resource}, nil
}

type memoryLockHandle struct {
	locker   *MemoryRefreshLocker
	resource string
	once     sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.resource)
		h.locker.mu.Unlock()
	})
	return nil
}
