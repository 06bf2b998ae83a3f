package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshgate/meshgate/internal/store"
)

func testConfig() Config {
	return Config{
		DefaultLimit:      100,
		Window:            time.Minute,
		SensitiveLimit:    20,
		SensitivePrefixes: []string{"/oauth", "/admin"},
		ElevatedLimit:     500,
		ElevatedRoles:     []string{"premium"},
		PenaltyMultiplier: 10,
		PenaltyDuration:   10 * time.Minute,
		HighLoadThreshold: 0.8,
	}
}

func newRequest(t *testing.T, path, ip string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.RemoteAddr = ip + ":52000"
	return r
}

// erroringStore simulates an unreachable shared store.
type erroringStore struct{}

func (erroringStore) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}
func (erroringStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}
func (erroringStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}
func (erroringStore) Delete(context.Context, string) error { return errors.New("connection refused") }
func (erroringStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}
func (erroringStore) Incr(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}
func (erroringStore) Expire(context.Context, string, time.Duration) error {
	return errors.New("connection refused")
}

func TestResolveKeyOmitsAbsentFields(t *testing.T) {
	l := New(store.NewMemoryStore(), testConfig())

	r := newRequest(t, "/api/products", "10.0.0.1")
	assert.Equal(t, "10.0.0.1:/api/products", l.ResolveKey(r))

	r = newRequest(t, "/api/products/", "10.0.0.1")
	assert.Equal(t, "10.0.0.1:/api/products", l.ResolveKey(r), "trailing slash is normalized")

	assert.NotContains(t, l.ResolveKey(r), "undefined")
}

func TestResolveKeyIncludesPrincipal(t *testing.T) {
	l := New(store.NewMemoryStore(), testConfig())

	r := newRequest(t, "/api/products", "10.0.0.1")
	ctx := WithPrincipal(r.Context(), Principal{UserID: "user-1", ClientID: "client-9"})
	r = r.WithContext(ctx)

	assert.Equal(t, "10.0.0.1:/api/products:user-1:client-9", l.ResolveKey(r))
}

func TestResolveKeyPartialPrincipal(t *testing.T) {
	l := New(store.NewMemoryStore(), testConfig())

	r := newRequest(t, "/api/products", "10.0.0.1")
	r = r.WithContext(WithPrincipal(r.Context(), Principal{UserID: "user-1"}))

	assert.Equal(t, "10.0.0.1:/api/products:user-1", l.ResolveKey(r))
}

func TestResolveLimitSensitiveIsLower(t *testing.T) {
	cfg := testConfig()
	l := New(store.NewMemoryStore(), cfg)

	limit, window := l.ResolveLimit(newRequest(t, "/oauth/token", "10.0.0.1"))
	assert.Equal(t, cfg.SensitiveLimit, limit)
	assert.Equal(t, cfg.Window, window)
	assert.Less(t, limit, cfg.DefaultLimit)
}

func TestResolveLimitElevatedIsHigher(t *testing.T) {
	cfg := testConfig()
	l := New(store.NewMemoryStore(), cfg)

	r := newRequest(t, "/api/products", "10.0.0.1")
	r = r.WithContext(WithPrincipal(r.Context(), Principal{UserID: "u", Roles: []string{"premium"}}))

	limit, _ := l.ResolveLimit(r)
	assert.Equal(t, cfg.ElevatedLimit, limit)
	assert.Greater(t, limit, cfg.DefaultLimit)
}

func TestResolveLimitSensitiveWinsOverElevated(t *testing.T) {
	cfg := testConfig()
	l := New(store.NewMemoryStore(), cfg)

	r := newRequest(t, "/admin/settings", "10.0.0.1")
	r = r.WithContext(WithPrincipal(r.Context(), Principal{UserID: "u", Roles: []string{"premium"}}))

	limit, _ := l.ResolveLimit(r)
	assert.Equal(t, cfg.SensitiveLimit, limit)
}

func TestCheckAndConsumeDeniesOverLimit(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultLimit = 3
	l := New(store.NewMemoryStore(), cfg)

	r := newRequest(t, "/api/products", "10.0.0.2")
	for i := 0; i < 3; i++ {
		d := l.CheckAndConsume(r)
		assert.True(t, d.Allowed, "request %d within limit", i+1)
	}

	d := l.CheckAndConsume(r)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestCheckAndConsumeRemainingCountsDown(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultLimit = 5
	l := New(store.NewMemoryStore(), cfg)

	r := newRequest(t, "/api/products", "10.0.0.3")

	d := l.CheckAndConsume(r)
	assert.Equal(t, 4, d.Remaining)

	d = l.CheckAndConsume(r)
	assert.Equal(t, 3, d.Remaining)
}

func TestWhitelistedIPBypassesCounter(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultLimit = 100
	cfg.WhitelistIPs = []string{"10.0.0.9"}

	mem := store.NewMemoryStore()
	l := New(mem, cfg)

	r := newRequest(t, "/api/products", "10.0.0.9")

	// Force the counter far beyond the limit; whitelisted traffic must
	// still be admitted.
	key := countKeyPrefix + l.ResolveKey(r)
	require.NoError(t, mem.Set(context.Background(), key, "500", 0))

	d := l.CheckAndConsume(r)
	assert.True(t, d.Allowed)
	assert.True(t, d.Bypassed)
}

func TestPenaltyShortCircuitsAbusiveKey(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultLimit = 2
	cfg.PenaltyMultiplier = 2

	mem := store.NewMemoryStore()
	l := New(mem, cfg)

	r := newRequest(t, "/api/products", "10.0.0.4")

	// Drive the counter to limit*multiplier so the penalty marker lands.
	for i := 0; i < 4; i++ {
		l.CheckAndConsume(r)
	}

	ok, err := mem.Exists(context.Background(), penaltyKeyPrefix+l.ResolveKey(r))
	require.NoError(t, err)
	assert.True(t, ok, "penalty marker should be written")

	// Even with the window counter gone, the penalty denies the key.
	require.NoError(t, mem.Delete(context.Background(), countKeyPrefix+l.ResolveKey(r)))

	d := l.CheckAndConsume(r)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestStoreErrorFailsOpen(t *testing.T) {
	l := New(erroringStore{}, testConfig())

	d := l.CheckAndConsume(newRequest(t, "/api/products", "10.0.0.5"))
	assert.True(t, d.Allowed, "store outage must not block traffic")
	assert.True(t, d.FailedOpen)
}

func TestNilStoreFailsOpen(t *testing.T) {
	l := New(nil, testConfig())

	d := l.CheckAndConsume(newRequest(t, "/api/products", "10.0.0.5"))
	assert.True(t, d.Allowed)
	assert.True(t, d.FailedOpen)
}

func TestFailOpenBoundedByLocalFallback(t *testing.T) {
	l := New(erroringStore{}, testConfig(), WithLocalFallback(0.001, 1))

	first := l.CheckAndConsume(newRequest(t, "/api/products", "10.0.0.6"))
	assert.True(t, first.Allowed)

	second := l.CheckAndConsume(newRequest(t, "/api/products", "10.0.0.6"))
	assert.False(t, second.Allowed, "local token bucket should cap fail-open traffic")
}

func TestHighLoadShrinksLimit(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultLimit = 100
	cfg.HighLoadThreshold = 0.8

	load := 0.0
	l := New(store.NewMemoryStore(), cfg, WithLoadSignal(func() float64 { return load }))

	r := newRequest(t, "/api/products", "10.0.0.7")

	limit, _ := l.ResolveLimit(r)
	assert.Equal(t, 100, limit, "below threshold the limit is unchanged")

	load = 0.9
	limit, _ = l.ResolveLimit(r)
	assert.Equal(t, 50, limit, "at load 0.9 with threshold 0.8 the limit halves")

	load = 1.0
	limit, _ = l.ResolveLimit(r)
	assert.Equal(t, 1, limit, "at full load the limit bottoms out at 1")
}
