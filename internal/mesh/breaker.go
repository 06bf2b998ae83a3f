package mesh

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// StateClosed passes calls through and counts consecutive failures.
	StateClosed BreakerState = iota
	// StateOpen fails calls fast without touching the network.
	StateOpen
	// StateHalfOpen admits a single trial call after the cooldown.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker isolates one backend service. Reaching the consecutive
// failure threshold opens the circuit; after the cooldown a single trial
// call decides whether it closes again.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration

	// Clock is injectable for cooldown tests. Defaults to time.Now.
	Clock func() time.Time

	// onStateChange, when set, observes every transition.
	onStateChange func(BreakerState)

	mu             sync.Mutex
	state          BreakerState
	failures       int
	lastTransition time.Time
	trialInFlight  bool
}

// NewCircuitBreaker creates a closed breaker with the given consecutive
// failure threshold and open-state cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		Clock:     time.Now,
	}
}

func (cb *CircuitBreaker) now() time.Time {
	if cb.Clock != nil {
		return cb.Clock()
	}
	return time.Now()
}

// Allow reports whether a call may proceed. In the open state it admits
// nothing until the cooldown elapses, then transitions to half-open and
// admits exactly one trial call.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastTransition) < cb.cooldown {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.trialInFlight = true
		return true
	case StateHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	}
	return false
}

// Success records a successful call. A half-open trial success closes the
// circuit; in the closed state the consecutive failure count resets.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.trialInFlight = false
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
}

// Failure records a failed call. A half-open trial failure reopens the
// circuit; in the closed state reaching the threshold opens it.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialInFlight = false

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen)
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.transition(StateOpen)
		}
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(next BreakerState) {
	cb.state = next
	cb.failures = 0
	cb.lastTransition = cb.now()
	if cb.onStateChange != nil {
		cb.onStateChange(next)
	}
}
