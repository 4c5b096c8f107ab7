// Package redis implements the cache contract on go-redis. All
// compound operations run as Lua scripts so they stay atomic under
// concurrent requests across horizontally scaled instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegis-id/aegis/internal/auth/cache"
)

// Stamp: delete the key only when the stored value matches.
// Returns -1 absent, 1 matched and deleted, 0 mismatch.
var compareDeleteScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
  return -1
end
if v == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`)

// Counter with TTL bound to its first increment.
var incrementScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 and tonumber(ARGV[1]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// Conditional consume: GETDEL only when the value contains the marker as
// a plain substring. Returns {0} absent, {1, value} consumed, {2} condition
// failed.
var consumeMatchScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
  return {0}
end
if string.find(v, ARGV[1], 1, true) then
  redis.call("DEL", KEYS[1])
  return {1, v}
end
return {2}
`)

// Config holds the redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client implements cache.Cache over a redis connection.
type Client struct {
	rdb *redis.Client
}

var _ cache.Cache = (*Client)(nil)

// New dials redis with the given config.
func New(cfg Config) *Client {
	return NewFromClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}))
}

// NewFromClient wraps an existing redis client. Tests use this with
// miniredis.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *Client) GetDelete(ctx context.Context, key string) ([]byte, error) {
	v, err := c.rdb.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel: %w", err)
	}
	return v, nil
}

func (c *Client) CompareDelete(ctx context.Context, key, expected string) (bool, error) {
	res, err := compareDeleteScript.Run(ctx, c.rdb, []string{key}, expected).Int()
	if err != nil {
		return false, fmt.Errorf("redis compare-delete: %w", err)
	}
	switch res {
	case -1:
		return false, cache.ErrNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

func (c *Client) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrementScript.Run(ctx, c.rdb, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment: %w", err)
	}
	return count, nil
}

func (c *Client) ConsumeMatch(ctx context.Context, key, marker string) ([]byte, error) {
	res, err := consumeMatchScript.Run(ctx, c.rdb, []string{key}, marker).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis consume-match: %w", err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("redis consume-match: empty reply")
	}

	code, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("redis consume-match: unexpected reply %T", res[0])
	}
	switch code {
	case 0:
		return nil, cache.ErrNotFound
	case 2:
		return nil, cache.ErrConditionFailed
	}

	val, ok := res[1].(string)
	if !ok {
		return nil, fmt.Errorf("redis consume-match: unexpected value %T", res[1])
	}
	return []byte(val), nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
