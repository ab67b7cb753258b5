package gateway

import (
	"sync"
	"time"
)

// CircuitPhase is the breaker's current mode.
type CircuitPhase string

// Breaker phases.
const (
	PhaseClosed   CircuitPhase = "closed"
	PhaseOpen     CircuitPhase = "open"
	PhaseHalfOpen CircuitPhase = "half_open"
)

// circuitBreaker is the count-based breaker shared by all concurrent calls
// for one check type. Transitions:
// closed -(failures >= threshold)-> open -(reset timeout elapsed)-> half_open,
// then success -> closed, failure -> open with a fresh cooldown.
type circuitBreaker struct {
	mu           sync.Mutex
	clock        Clock
	threshold    int
	resetTimeout time.Duration

	phase    CircuitPhase
	failures int
	openedAt time.Time
}

func newCircuitBreaker(threshold int, resetTimeout time.Duration, clock Clock) *circuitBreaker {
	return &circuitBreaker{
		clock:        clock,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		phase:        PhaseClosed,
	}
}

// Allow reports whether a call may proceed. While open it fails fast and
// returns the remaining cooldown; once the cooldown has elapsed it moves to
// half_open and lets a trial call through.
func (b *circuitBreaker) Allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase != PhaseOpen {
		return true, 0
	}
	elapsed := b.clock.Now().Sub(b.openedAt)
	if elapsed < b.resetTimeout {
		return false, b.resetTimeout - elapsed
	}
	b.phase = PhaseHalfOpen
	return true, 0
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.phase == PhaseHalfOpen {
		b.phase = PhaseClosed
	}
}

// RecordFailure counts a failure and reports whether the breaker tripped
// open as a result. A half-open trial failure reopens immediately and
// restarts the cooldown.
func (b *circuitBreaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase == PhaseHalfOpen {
		b.phase = PhaseOpen
		b.openedAt = b.clock.Now()
		return true
	}
	b.failures++
	if b.phase == PhaseClosed && b.failures >= b.threshold {
		b.phase = PhaseOpen
		b.openedAt = b.clock.Now()
		return true
	}
	return b.phase == PhaseOpen
}

// Phase returns the current phase.
func (b *circuitBreaker) Phase() CircuitPhase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// ConsecutiveFailures returns the current failure streak.
func (b *circuitBreaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
