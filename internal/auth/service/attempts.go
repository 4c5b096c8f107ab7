package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aegis-id/aegis/internal/auth/cache"
)

// AttemptLedger tracks throttling counters in the TTL store. Counters are
// keyed by (scope, identity, ip) where scope names what is being counted,
// e.g. "issue:email" or "verify:otp". The window TTL binds to the first
// increment so a burst cannot keep extending its own lockout.
type AttemptLedger struct {
	Cache  cache.Cache
	Window time.Duration
}

func attemptKey(scope, identity, ip string) string {
	return fmt.Sprintf("attempts:%s:%s:%s", scope, identity, ip)
}

// Increment bumps the counter and returns the new count.
func (l *AttemptLedger) Increment(ctx context.Context, scope, identity, ip string) (int64, error) {
	return l.Cache.Increment(ctx, attemptKey(scope, identity, ip), l.Window)
}

// Count returns the current counter value without incrementing.
func (l *AttemptLedger) Count(ctx context.Context, scope, identity, ip string) (int64, error) {
	v, err := l.Cache.Get(ctx, attemptKey(scope, identity, ip))
	if errors.Is(err, cache.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attempt ledger: bad counter value %q: %w", v, err)
	}
	return n, nil
}

// Exceeded reports whether the counter reached the threshold.
func (l *AttemptLedger) Exceeded(ctx context.Context, scope, identity, ip string, threshold int64) (bool, error) {
	n, err := l.Count(ctx, scope, identity, ip)
	if err != nil {
		return false, err
	}
	return n >= threshold, nil
}

// Reset clears the counter, used after a successful verification.
func (l *AttemptLedger) Reset(ctx context.Context, scope, identity, ip string) error {
	return l.Cache.Delete(ctx, attemptKey(scope, identity, ip))
}
