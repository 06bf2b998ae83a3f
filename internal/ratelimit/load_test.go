package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meshgate/meshgate/internal/store"
)

func TestLoadTrackerCountsInFlightRequests(t *testing.T) {
	tracker := NewLoadTracker(4)
	assert.Equal(t, 0.0, tracker.Load())

	var during float64
	h := tracker.Track(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = tracker.Load()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, 0.25, during)
	assert.Equal(t, 0.0, tracker.Load(), "count must drop back after the handler returns")
}

func TestLoadTrackerClampsAtCapacity(t *testing.T) {
	tracker := NewLoadTracker(4)
	tracker.inflight.Store(9)

	assert.Equal(t, 1.0, tracker.Load())
}

func TestLoadTrackerFedLimiterShrinksLimit(t *testing.T) {
	tracker := NewLoadTracker(4)
	tracker.inflight.Store(3)

	l := New(store.NewMemoryStore(), Config{
		DefaultLimit:      100,
		Window:            time.Minute,
		HighLoadThreshold: 0.5,
	}, WithLoadSignal(tracker.Load))

	// Load 0.75 against a 0.5 threshold halves the effective limit.
	limit, _ := l.ResolveLimit(httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, 50, limit)

	tracker.inflight.Store(0)
	limit, _ = l.ResolveLimit(httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, 100, limit)
}
