// Package cache holds short-lived shared state: the notification dispatch
// lock and per-user daily assistant usage counters.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tilly/api/internal/util"
)

var ErrLockHeld = errors.New("lock held by another run")

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache implements the lock and usage counters on Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client), nil
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "tilly:"}
}

// AcquireLock takes name for ttl. The returned release func is safe to call
// after the lock expired or was taken over.
func (c *RedisCache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := c.prefix + "lock:" + name
	token := util.RandomHex(16)
	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, c.client, []string{key}, token).Err()
	}, nil
}

const usageTTL = 48 * time.Hour

func (c *RedisCache) usageKey(userID, day string) string {
	return c.prefix + "usage:" + userID + ":" + day
}

// IncrementUsage bumps the counter for userID on day and returns the new value.
// Counters expire after two days.
func (c *RedisCache) IncrementUsage(ctx context.Context, userID, day string) (int64, error) {
	key := c.usageKey(userID, day)
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, usageTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return incr.Val(), nil
}

func (c *RedisCache) Usage(ctx context.Context, userID, day string) (int64, error) {
	value, err := c.client.Get(ctx, c.usageKey(userID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	return value, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
