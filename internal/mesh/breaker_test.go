package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 30*time.Second)

	for range 2 {
		assert.True(t, cb.Allow())
		cb.Failure()
	}
	assert.Equal(t, StateClosed, cb.State())

	assert.True(t, cb.Allow())
	cb.Failure()

	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow(), "open breaker must fail fast")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, 30*time.Second)

	cb.Failure()
	cb.Failure()
	cb.Success()
	cb.Failure()
	cb.Failure()

	assert.Equal(t, StateClosed, cb.State(), "non-consecutive failures must not open the circuit")
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(1, 30*time.Second)
	cb.Clock = func() time.Time { return now }

	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	now = now.Add(31 * time.Second)

	assert.True(t, cb.Allow(), "cooldown elapsed, one trial call is admitted")
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one trial call in flight at a time")
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(1, time.Second)
	cb.Clock = func() time.Time { return now }

	cb.Failure()
	now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())

	cb.Success()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(1, time.Second)
	cb.Clock = func() time.Time { return now }

	cb.Failure()
	now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())

	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow(), "reopened breaker restarts the cooldown")
}

func TestBreakerStateChangeCallback(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Second)

	var transitions []BreakerState
	cb.onStateChange = func(s BreakerState) { transitions = append(transitions, s) }

	cb.Failure()
	assert.Equal(t, []BreakerState{StateOpen}, transitions)
}
