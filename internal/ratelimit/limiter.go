// Package ratelimit implements the gateway's adaptive rate limiter on top
// of the shared counter store. Counting is fixed-window: the first request
// in a window sets the counter's expiry, every request increments it
// atomically, and the decision compares the returned count against the
// resolved limit. Because increments are atomic at the store level the
// limiter stays eventually accurate across gateway instances without any
// cross-instance locking.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meshgate/meshgate/internal/observability"
	"github.com/meshgate/meshgate/internal/store"
)

const (
	countKeyPrefix   = "ratelimit:count:"
	penaltyKeyPrefix = "ratelimit:penalty:"
)

// Config contains the limiter tunables. See config.RateLimitConfig for the
// corresponding configuration surface.
type Config struct {
	DefaultLimit      int
	Window            time.Duration
	SensitiveLimit    int
	SensitivePrefixes []string
	ElevatedLimit     int
	ElevatedRoles     []string
	WhitelistIPs      []string
	PenaltyMultiplier int
	PenaltyDuration   time.Duration
	HighLoadThreshold float64
}

// Principal carries the authenticated identity attributes a request may
// have. Absent fields are empty strings and are omitted from the bucket
// key rather than rendered as placeholders.
type Principal struct {
	UserID   string
	ClientID string
	Roles    []string
}

type principalContextKey struct{}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFrom extracts the principal from ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// LoadSignal reports current system load in [0.0, 1.0]. When configured,
// load above the high-load threshold shrinks effective limits
// proportionally before the counter check.
type LoadSignal func() float64

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int

	// Bypassed marks whitelisted requests that skipped counting.
	Bypassed bool

	// FailedOpen marks requests admitted because the store errored.
	FailedOpen bool
}

// Limiter computes bucket keys and limits, consumes shared counters, and
// escalates penalties for abusive keys. Failure policy is fail-open: a
// store outage admits traffic (optionally bounded by a local token bucket)
// rather than blocking it.
type Limiter struct {
	store    store.Store
	cfg      Config
	load     LoadSignal
	fallback *rate.Limiter
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLoadSignal enables dynamic load-aware limiting.
func WithLoadSignal(fn LoadSignal) Option {
	return func(l *Limiter) { l.load = fn }
}

// WithLocalFallback bounds fail-open traffic with a process-local token
// bucket so a store outage does not remove the ceiling entirely.
func WithLocalFallback(rps float64, burst int) Option {
	return func(l *Limiter) {
		if rps > 0 && burst > 0 {
			l.fallback = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithMetrics records rate limit decisions on the given metrics set.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithLogger attaches a logger for store failure reporting.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter. st may be nil, in which case every check fails
// open (bounded by the local fallback when configured).
func New(st store.Store, cfg Config, opts ...Option) *Limiter {
	l := &Limiter{store: st, cfg: cfg}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ResetKey clears the window counter and any penalty marker for a bucket
// key. Used by the admin CLI to unblock a key before its window or penalty
// expires.
func ResetKey(ctx context.Context, st store.Store, key string) error {
	if st == nil {
		return store.ErrUnavailable
	}
	if err := st.Delete(ctx, countKeyPrefix+key); err != nil {
		return err
	}
	return st.Delete(ctx, penaltyKeyPrefix+key)
}

// ResolveKey derives the bucket key for a request: client IP plus
// normalized path, extended with the authenticated user and client IDs
// when present. Absent attributes are omitted entirely.
func (l *Limiter) ResolveKey(r *http.Request) string {
	parts := []string{clientIP(r), normalizePath(r.URL.Path)}

	if p, ok := PrincipalFrom(r.Context()); ok {
		if p.UserID != "" {
			parts = append(parts, p.UserID)
		}
		if p.ClientID != "" {
			parts = append(parts, p.ClientID)
		}
	}

	return strings.Join(parts, ":")
}

// ResolveLimit resolves the limit and window for a request. Sensitive
// route prefixes get a strictly lower limit than the default; elevated
// roles get a strictly higher one. Sensitive routes win when both apply.
// A configured load signal above the high-load threshold shrinks the
// resolved limit proportionally.
func (l *Limiter) ResolveLimit(r *http.Request) (int, time.Duration) {
	limit := l.cfg.DefaultLimit

	if l.isSensitivePath(r.URL.Path) {
		limit = l.cfg.SensitiveLimit
	} else if l.isElevated(r) {
		limit = l.cfg.ElevatedLimit
	}

	if l.load != nil {
		limit = l.scaleForLoad(limit)
	}

	return limit, l.cfg.Window
}

func (l *Limiter) isSensitivePath(path string) bool {
	normalized := normalizePath(path)
	for _, prefix := range l.cfg.SensitivePrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return false
}

func (l *Limiter) isElevated(r *http.Request) bool {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		return false
	}
	for _, role := range p.Roles {
		for _, elevated := range l.cfg.ElevatedRoles {
			if role == elevated {
				return true
			}
		}
	}
	return false
}

// scaleForLoad shrinks limit proportionally to how far the current load
// sits above the threshold: at the threshold the limit is unchanged, at
// full load it bottoms out at 1.
func (l *Limiter) scaleForLoad(limit int) int {
	load := l.load()
	threshold := l.cfg.HighLoadThreshold
	if load <= threshold || threshold >= 1 {
		return limit
	}
	if load > 1 {
		load = 1
	}

	scale := (1 - load) / (1 - threshold)
	scaled := int(float64(limit) * scale)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// CheckAndConsume runs a single admission check for the request,
// consuming one unit from its counter. Whitelisted IPs bypass counting
// entirely regardless of counter state.
func (l *Limiter) CheckAndConsume(r *http.Request) Decision {
	limit, window := l.ResolveLimit(r)

	if l.isWhitelisted(clientIP(r)) {
		l.record("bypassed")
		return Decision{Allowed: true, Limit: limit, Remaining: limit, Bypassed: true}
	}

	if l.store == nil {
		return l.failOpen(limit)
	}

	ctx := r.Context()
	key := l.ResolveKey(r)

	penalized, err := l.store.Exists(ctx, penaltyKeyPrefix+key)
	if err != nil {
		return l.failOpenAfterError(err, limit)
	}
	if penalized {
		l.record("denied")
		return Decision{Allowed: false, Limit: limit, Remaining: 0}
	}

	count, err := l.store.Incr(ctx, countKeyPrefix+key)
	if err != nil {
		return l.failOpenAfterError(err, limit)
	}

	// First increment in a window sets the window expiry.
	if count == 1 {
		if err := l.store.Expire(ctx, countKeyPrefix+key, window); err != nil && l.logger != nil {
			l.logger.Warn("failed to set rate limit window expiry",
				zap.String("key", key), zap.Error(err))
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if int(count) > limit {
		if l.cfg.PenaltyMultiplier > 1 && count >= int64(limit)*int64(l.cfg.PenaltyMultiplier) {
			l.applyPenalty(ctx, key)
		}
		l.record("denied")
		return Decision{Allowed: false, Limit: limit, Remaining: remaining}
	}

	l.record("allowed")
	return Decision{Allowed: true, Limit: limit, Remaining: remaining}
}

// applyPenalty writes a time-boxed marker that short-circuits the key even
// if its counting window would reset sooner.
func (l *Limiter) applyPenalty(ctx context.Context, key string) {
	err := l.store.Set(ctx, penaltyKeyPrefix+key, "1", l.cfg.PenaltyDuration)
	if err != nil && l.logger != nil {
		l.logger.Warn("failed to write rate limit penalty",
			zap.String("key", key), zap.Error(err))
	}
	if err == nil && l.logger != nil {
		l.logger.Warn("rate limit penalty applied",
			zap.String("key", key),
			zap.Duration("duration", l.cfg.PenaltyDuration))
	}
}

func (l *Limiter) isWhitelisted(ip string) bool {
	for _, allowed := range l.cfg.WhitelistIPs {
		if ip == allowed {
			return true
		}
	}
	return false
}

func (l *Limiter) failOpenAfterError(err error, limit int) Decision {
	if l.logger != nil {
		l.logger.Warn("rate limit store unavailable, failing open", zap.Error(err))
	}
	return l.failOpen(limit)
}

func (l *Limiter) failOpen(limit int) Decision {
	allowed := true
	if l.fallback != nil {
		allowed = l.fallback.Allow()
	}

	if allowed {
		l.record("failopen")
	} else {
		l.record("denied")
	}

	return Decision{Allowed: allowed, Limit: limit, Remaining: limit, FailedOpen: true}
}

func (l *Limiter) record(decision string) {
	if l.metrics != nil {
		l.metrics.RateLimitDecisions.WithLabelValues(decision).Inc()
	}
}

// clientIP extracts the client address from RemoteAddr. The server mounts
// chi's RealIP middleware ahead of the limiter, so RemoteAddr already
// reflects X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// String renders a decision for debug logs.
func (d Decision) String() string {
	return fmt.Sprintf("allowed=%t limit=%d remaining=%d", d.Allowed, d.Limit, d.Remaining)
}
