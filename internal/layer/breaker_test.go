package layer

import (
	"testing"
	"time"

	"layered-signals/internal/domain"
)

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker(5, time.Minute, 8)
	for i := 0; i < 4; i++ {
		b.OnFailure()
		if b.State() != domain.BreakerClosed {
			t.Fatalf("breaker should stay closed after %d failures", i+1)
		}
	}
	b.OnFailure()
	if b.State() != domain.BreakerOpen {
		t.Fatal("breaker should open after 5 consecutive failures")
	}
	if b.Allow() {
		t.Fatal("open breaker should short-circuit calls")
	}
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	t.Parallel()

	b := NewBreaker(3, time.Minute, 8)
	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()
	if b.State() != domain.BreakerClosed {
		t.Fatal("non-consecutive failures should not open the breaker")
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	t.Parallel()

	current := time.Unix(1_700_000_000, 0)
	b := NewBreaker(1, time.Minute, 8)
	b.now = func() time.Time { return current }

	b.OnFailure()
	if b.State() != domain.BreakerOpen {
		t.Fatal("breaker should be open")
	}
	if b.Allow() {
		t.Fatal("cooldown has not elapsed")
	}

	current = current.Add(61 * time.Second)
	if !b.Allow() {
		t.Fatal("expected a trial call after cooldown")
	}
	if b.State() != domain.BreakerHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("half-open should admit exactly one trial at a time")
	}

	b.OnSuccess()
	if b.State() != domain.BreakerClosed {
		t.Fatal("trial success should close the breaker")
	}
}

func TestBreakerHalfOpenFailureBacksOff(t *testing.T) {
	t.Parallel()

	current := time.Unix(1_700_000_000, 0)
	b := NewBreaker(1, time.Minute, 4)
	b.now = func() time.Time { return current }

	b.OnFailure()
	current = current.Add(61 * time.Second)
	if !b.Allow() {
		t.Fatal("expected trial after first cooldown")
	}
	b.OnFailure()
	if b.State() != domain.BreakerOpen {
		t.Fatal("trial failure should reopen the breaker")
	}

	// Backoff doubled: one base cooldown is no longer enough.
	current = current.Add(61 * time.Second)
	if b.Allow() {
		t.Fatal("doubled cooldown should still be in effect")
	}
	current = current.Add(61 * time.Second)
	if !b.Allow() {
		t.Fatal("expected trial after doubled cooldown")
	}
}

func TestBreakerBackoffIsCapped(t *testing.T) {
	t.Parallel()

	current := time.Unix(1_700_000_000, 0)
	b := NewBreaker(1, time.Second, 4)
	b.now = func() time.Time { return current }

	b.OnFailure()
	for i := 0; i < 6; i++ {
		current = current.Add(time.Hour)
		if !b.Allow() {
			t.Fatalf("expected trial on iteration %d", i)
		}
		b.OnFailure()
	}
	b.mu.Lock()
	factor := b.backoffFactor
	b.mu.Unlock()
	if factor != 4 {
		t.Fatalf("backoff factor should cap at 4, got %d", factor)
	}
}
