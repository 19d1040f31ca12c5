package layer

import (
	"sync"
	"time"

	"layered-signals/internal/domain"
)

// Breaker is a per-layer circuit breaker. Each breaker owns its own lock;
// overlapping requests report successes and failures concurrently.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration
	maxBackoffFactor int

	state               domain.BreakerState
	consecutiveFailures int
	backoffFactor       int
	openedAt            time.Time
	trialInFlight       bool

	now func() time.Time
}

func NewBreaker(failureThreshold int, cooldown time.Duration, maxBackoffFactor int) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	if maxBackoffFactor <= 0 {
		maxBackoffFactor = 8
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		maxBackoffFactor: maxBackoffFactor,
		state:            domain.BreakerClosed,
		backoffFactor:    1,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. In OPEN it flips to HALF_OPEN
// once the cooldown (scaled by the current backoff factor) has elapsed, and
// HALF_OPEN admits exactly one trial call at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.BreakerClosed:
		return true
	case domain.BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown*time.Duration(b.backoffFactor) {
			return false
		}
		b.state = domain.BreakerHalfOpen
		b.trialInFlight = true
		return true
	case domain.BreakerHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = domain.BreakerClosed
	b.consecutiveFailures = 0
	b.backoffFactor = 1
	b.trialInFlight = false
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.BreakerHalfOpen:
		// Failed trial: reopen with a longer cooldown.
		b.state = domain.BreakerOpen
		b.openedAt = b.now()
		b.backoffFactor *= 2
		if b.backoffFactor > b.maxBackoffFactor {
			b.backoffFactor = b.maxBackoffFactor
		}
		b.trialInFlight = false
	case domain.BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = domain.BreakerOpen
			b.openedAt = b.now()
			b.backoffFactor = 1
		}
	}
}

func (b *Breaker) State() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
