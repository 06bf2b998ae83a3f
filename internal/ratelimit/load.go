package ratelimit

import (
	"net/http"
	"sync/atomic"
)

// LoadTracker derives the limiter's load signal from in-flight request
// concurrency: load is the fraction of a configured capacity currently
// occupied, clamped to [0.0, 1.0].
type LoadTracker struct {
	capacity int64
	inflight atomic.Int64
}

// NewLoadTracker creates a tracker that reports full load at capacity
// concurrent requests.
func NewLoadTracker(capacity int) *LoadTracker {
	if capacity < 1 {
		capacity = 1
	}
	return &LoadTracker{capacity: int64(capacity)}
}

// Track counts the request as in flight for the duration of the handler.
// Mount ahead of the limiter middleware so the signal reflects the request
// being decided.
func (t *LoadTracker) Track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.inflight.Add(1)
		defer t.inflight.Add(-1)
		next.ServeHTTP(w, r)
	})
}

// Load implements LoadSignal.
func (t *LoadTracker) Load() float64 {
	load := float64(t.inflight.Load()) / float64(t.capacity)
	if load > 1 {
		return 1
	}
	if load < 0 {
		return 0
	}
	return load
}
