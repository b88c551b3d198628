package supervisor

import (
	"sync"
	"time"
)

// State is one of the three circuit-breaker states guarding Batch Cache
// health.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker implements the three-state breaker over Batch Cache
// operations: closed is normal, five consecutive failures open it for a
// cooldown window, after which one probe is allowed through in
// half_open; success closes it again, another failure reopens it.
type CircuitBreaker struct {
	mu sync.Mutex

	state            State
	failureStreak    int
	openedAt         time.Time
	probeIssued      bool
	failureThreshold int
	cooldown         time.Duration
}

// NewCircuitBreaker returns a breaker starting closed, opening after
// failureThreshold consecutive failures and staying open for cooldown.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// State returns the breaker's current state, first advancing
// open->half_open if the cooldown has elapsed.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked(time.Now())
	return b.state
}

// Allow reports whether a cache operation should be attempted right
// now: always in closed, never in open, and exactly once per cooldown
// window in half_open (subsequent callers are told no until the probe
// resolves).
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked(time.Now())
	switch b.state {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.probeIssued {
			return false
		}
		b.probeIssued = true
		return true
	default:
		return true
	}
}

func (b *CircuitBreaker) maybeHalfOpenLocked(now time.Time) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cooldown {
		b.state = StateHalfOpen
		b.probeIssued = false
	}
}

// RecordSuccess closes the breaker (from closed or half_open) and
// resets the failure streak.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureStreak = 0
}

// RecordFailure advances the failure streak, opening the breaker once
// the threshold is reached (from closed) or immediately (from
// half_open, where a single failed probe always reopens it).
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = time.Now()
		b.failureStreak = b.failureThreshold
		return
	}

	b.failureStreak++
	if b.failureStreak >= b.failureThreshold {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}
