package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aegis-id/aegis/internal/auth/cache"
	cacheredis "github.com/aegis-id/aegis/internal/auth/cache/redis"
)

func newTestCache(t *testing.T) (*cacheredis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c := cacheredis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestGetSetDelete(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	require.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	t.Run("ttl expiry", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)
		_, err := c.Get(ctx, "k")
		require.ErrorIs(t, err, cache.ErrNotFound)
	})

	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"))
}

func TestGetDelete(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "challenge", []byte("payload"), time.Minute))

	v, err := c.GetDelete(ctx, "challenge")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), v)

	_, err = c.GetDelete(ctx, "challenge")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestCompareDelete(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "code", []byte("123456"), time.Minute))

	t.Run("mismatch keeps the key", func(t *testing.T) {
		ok, err := c.CompareDelete(ctx, "code", "000000")
		require.NoError(t, err)
		require.False(t, ok)

		_, err = c.Get(ctx, "code")
		require.NoError(t, err)
	})

	t.Run("match consumes the key", func(t *testing.T) {
		ok, err := c.CompareDelete(ctx, "code", "123456")
		require.NoError(t, err)
		require.True(t, ok)

		// Stamped: a second attempt with the right value fails.
		_, err = c.CompareDelete(ctx, "code", "123456")
		require.ErrorIs(t, err, cache.ErrNotFound)
	})
}

func TestIncrement(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	ctx := context.Background()

	n, err := c.Increment(ctx, "attempts", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = c.Increment(ctx, "attempts", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	t.Run("ttl is bound to the first increment", func(t *testing.T) {
		mr.FastForward(30 * time.Second)
		n, err := c.Increment(ctx, "attempts", time.Minute)
		require.NoError(t, err)
		require.EqualValues(t, 3, n)

		// Original window elapses; counter resets.
		mr.FastForward(31 * time.Second)
		n, err = c.Increment(ctx, "attempts", time.Minute)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	})
}

func TestConsumeMatch(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	ctx := context.Background()

	const marker = `"is_fully_authorized":true`

	t.Run("absent key", func(t *testing.T) {
		_, err := c.ConsumeMatch(ctx, "session", marker)
		require.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("condition failed leaves the key", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "session", []byte(`{"is_fully_authorized":false}`), time.Minute))

		_, err := c.ConsumeMatch(ctx, "session", marker)
		require.ErrorIs(t, err, cache.ErrConditionFailed)

		_, err = c.Get(ctx, "session")
		require.NoError(t, err)
	})

	t.Run("match consumes exactly once", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "session", []byte(`{"is_fully_authorized":true}`), time.Minute))

		v, err := c.ConsumeMatch(ctx, "session", marker)
		require.NoError(t, err)
		require.Contains(t, string(v), "true")

		_, err = c.ConsumeMatch(ctx, "session", marker)
		require.ErrorIs(t, err, cache.ErrNotFound)
	})
}
