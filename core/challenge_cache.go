package core

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultChallengeCacheMaxEntries = 4096

var (
	errChallengeMissing  = fmt.Errorf("core: approval challenge missing or expired")
	errChallengeMismatch = fmt.Errorf("core: approval challenge mismatch")
)

type ApprovalChallenge struct {
	StepUpID  string    `json:"step_up_id"`
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expires_at"`
}

type challengeEntry struct {
	value     string
	expiresAt time.Time
}

// ChallengeCache holds single-use biometric prompt nonces keyed by step-up
// request id. Entries are dropped on consumption or once their TTL passes.
type ChallengeCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]challengeEntry
	Now        func() time.Time
}

func NewChallengeCache(ttl time.Duration) *ChallengeCache {
	if ttl <= 0 {
		ttl = defaultChallengeTTL
	}
	return &ChallengeCache{
		ttl:        ttl,
		maxEntries: defaultChallengeCacheMaxEntries,
		entries:    map[string]challengeEntry{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Issue replaces any outstanding challenge for the key.
func (c *ChallengeCache) Issue(key string) (ApprovalChallenge, error) {
	if c == nil {
		return ApprovalChallenge{}, fmt.Errorf("core: challenge cache is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ApprovalChallenge{}, fmt.Errorf("core: challenge key is required")
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return ApprovalChallenge{}, fmt.Errorf("core: generate challenge: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(raw)
	now := c.now()
	expiresAt := now.Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneExpiredLocked(now)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = challengeEntry{value: value, expiresAt: expiresAt}
	return ApprovalChallenge{StepUpID: key, Challenge: value, ExpiresAt: expiresAt}, nil
}

// Consume removes the challenge for key and reports whether presented matches
// it. A mismatch still burns the challenge.
func (c *ChallengeCache) Consume(key string, presented string) error {
	if c == nil {
		return fmt.Errorf("core: challenge cache is not configured")
	}
	key = strings.TrimSpace(key)
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if !ok || !now.Before(entry.expiresAt) {
		return errChallengeMissing
	}
	if subtle.ConstantTimeCompare([]byte(entry.value), []byte(strings.TrimSpace(presented))) != 1 {
		return errChallengeMismatch
	}
	return nil
}

func (c *ChallengeCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneExpiredLocked(c.now())
	return len(c.entries)
}

func (c *ChallengeCache) pruneExpiredLocked(now time.Time) {
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *ChallengeCache) evictOldestLocked() {
	oldestKey := ""
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldest) {
			oldestKey = key
			oldest = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *ChallengeCache) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}
