// Package cache defines the TTL key-value store every ephemeral artifact
// lives in: login sessions, MFA challenge codes, attempt counters,
// remember-device secrets and WebAuthn session data. Implementations must
// provide the atomic primitives; the services never do read-check-write
// across two calls.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("cache: not found")

	// ErrConditionFailed is returned by ConsumeMatch when the key exists
	// but does not satisfy the condition.
	ErrConditionFailed = errors.New("cache: condition failed")
)

// Cache is the TTL store contract.
type Cache interface {
	// Get returns the value at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL. A ttl of zero means
	// no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// GetDelete atomically reads and removes key, enforcing single use.
	GetDelete(ctx context.Context, key string) ([]byte, error)

	// CompareDelete atomically deletes key only when its value equals
	// expected. It reports whether the value matched; a match always
	// removes the key (the stamp operation). Absent key → ErrNotFound.
	CompareDelete(ctx context.Context, key, expected string) (bool, error)

	// Increment atomically increments the counter at key, applying ttl
	// only when the increment created the key. Returns the new count.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// ConsumeMatch atomically reads and removes key only when its value
	// contains marker as a literal substring. Absent key → ErrNotFound;
	// present but not matching → ErrConditionFailed, key left intact.
	ConsumeMatch(ctx context.Context, key, marker string) ([]byte, error)

	// Ping reports backend health for readiness checks.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
