// Package store provides the shared counter/cache store used by the rate
// limiter, token provider, and OAuth2 provider. The store is shared across
// gateway instances, so every mutation that matters for correctness
// (counter increments, code consumption, revocation writes) goes through
// operations that are atomic at the store level.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// ErrUnavailable wraps infrastructure failures (connection refused, timeout)
// so callers can distinguish "key missing" from "store down" and apply their
// fail-open or fail-closed policy.
var ErrUnavailable = errors.New("store: unavailable")

// Store is the key-value contract the gateway components depend on.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes key=value. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes key=value only if the key does not already exist.
	// Returns true when the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Incr atomically increments the counter at key and returns the new
	// value. A missing key counts from zero.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets the ttl on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// IsNotFound reports whether err indicates a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable reports whether err indicates an infrastructure failure
// rather than a missing key.
func IsUnavailable(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound)
}
