package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/meshgate/meshgate/internal/errors"
)

// Overrides patches selected limiter settings for one route group. Zero
// values leave the base configuration untouched.
type Overrides struct {
	DefaultLimit int
	Window       time.Duration
}

// Middleware returns the rate limiting middleware using the limiter's base
// configuration.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return l.handler(next)
}

// MiddlewareWithOverrides returns a middleware whose limit and window are
// overridden for the routes it wraps. The shared store, penalties, and
// whitelist behavior are unchanged.
func (l *Limiter) MiddlewareWithOverrides(o Overrides) func(http.Handler) http.Handler {
	patched := *l
	if o.DefaultLimit > 0 {
		patched.cfg.DefaultLimit = o.DefaultLimit
	}
	if o.Window > 0 {
		patched.cfg.Window = o.Window
	}

	return func(next http.Handler) http.Handler {
		return patched.handler(next)
	}
}

func (l *Limiter) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := l.CheckAndConsume(r)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			apperrors.RespondWithError(w, r,
				apperrors.NewRateLimitExceededError("Too many requests, retry later"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
