package core

import (
	"testing"
	"time"
)

func TestChallengeCache_SingleUse(t *testing.T) {
	clock := newTestClock(fixtureNow)
	cache := NewChallengeCache(time.Minute)
	cache.Now = clock.Now

	issued, err := cache.Issue("stepup_1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !issued.ExpiresAt.Equal(fixtureNow.Add(time.Minute)) {
		t.Fatalf("unexpected expiry %s", issued.ExpiresAt)
	}
	if err := cache.Consume("stepup_1", issued.Challenge); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := cache.Consume("stepup_1", issued.Challenge); err != errChallengeMissing {
		t.Fatalf("expected consumed challenge to be gone, got %v", err)
	}
}

func TestChallengeCache_MismatchBurnsChallenge(t *testing.T) {
	cache := NewChallengeCache(time.Minute)
	issued, err := cache.Issue("stepup_1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := cache.Consume("stepup_1", "guess"); err != errChallengeMismatch {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := cache.Consume("stepup_1", issued.Challenge); err != errChallengeMissing {
		t.Fatalf("expected mismatch to burn the challenge, got %v", err)
	}
}

func TestChallengeCache_ExpiresAndReissueReplaces(t *testing.T) {
	clock := newTestClock(fixtureNow)
	cache := NewChallengeCache(time.Minute)
	cache.Now = clock.Now

	first, _ := cache.Issue("stepup_1")
	second, _ := cache.Issue("stepup_1")
	if first.Challenge == second.Challenge {
		t.Fatalf("expected a fresh challenge on reissue")
	}
	if err := cache.Consume("stepup_1", first.Challenge); err != errChallengeMismatch {
		t.Fatalf("expected replaced challenge to mismatch, got %v", err)
	}

	expiring, _ := cache.Issue("stepup_2")
	clock.Advance(time.Minute)
	if err := cache.Consume("stepup_2", expiring.Challenge); err != errChallengeMissing {
		t.Fatalf("expected expired challenge to be missing, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected cache empty, got %d", cache.Len())
	}
}

func TestChallengeCache_EvictsOldestAtCapacity(t *testing.T) {
	clock := newTestClock(fixtureNow)
	cache := NewChallengeCache(time.Minute)
	cache.Now = clock.Now
	cache.maxEntries = 2

	oldest, _ := cache.Issue("a")
	clock.Advance(time.Second)
	if _, err := cache.Issue("b"); err != nil {
		t.Fatalf("issue b: %v", err)
	}
	clock.Advance(time.Second)
	if _, err := cache.Issue("c"); err != nil {
		t.Fatalf("issue c: %v", err)
	}
	if cache.Len() != 2 {
		t.Fatalf("expected capacity held at 2, got %d", cache.Len())
	}
	if err := cache.Consume("a", oldest.Challenge); err != errChallengeMissing {
		t.Fatalf("expected oldest entry evicted, got %v", err)
	}
	if _, err := cache.Issue(" "); err == nil {
		t.Fatalf("expected blank key rejected")
	}
}
