package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredis "github.com/redis/go-redis/v9"
)

// RedisCache implements Cache against a Redis instance via go-redis, with
// redsync providing the actual distributed mutex behind AcquireLock /
// ReleaseLock. Locks are advisory: DB-level uniqueness constraints remain
// the correctness ground truth, exactly as spec'd.
type RedisCache struct {
	client  *goredis.Client
	rs      *redsync.Redsync
	mutexes map[string]*redsync.Mutex
}

// NewRedisCache dials Redis (via a DSN like redis://host:port/db) and
// wires up redsync for single-flight locking.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := goredis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}

	pool := redsyncredis.NewPool(client)
	rs := redsync.New(pool)

	return &RedisCache{client: client, rs: rs, mutexes: make(map[string]*redsync.Mutex)}, nil
}

// NewRedisCacheFromClient wraps an already-constructed go-redis client,
// used by tests against miniredis.
func NewRedisCacheFromClient(client *goredis.Client) *RedisCache {
	pool := redsyncredis.NewPool(client)
	rs := redsync.New(pool)
	return &RedisCache{client: client, rs: rs, mutexes: make(map[string]*redsync.Mutex)}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return true, fmt.Errorf("cache: unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := marshalJSON(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Has(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, key).Result()
	return err == nil && n > 0
}

// AcquireLock attempts to take the named single-flight lock for ttl. A
// failed acquisition is reported as (false, nil): another worker owns
// the pass, which is an expected outcome, not an error.
func (c *RedisCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	mutex := c.rs.NewMutex(lockName(key), redsync.WithExpiry(ttl), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		return false, nil
	}
	c.mutexes[key] = mutex
	return true, nil
}

func (c *RedisCache) ReleaseLock(ctx context.Context, key string) error {
	mutex, ok := c.mutexes[key]
	if !ok {
		return nil
	}
	delete(c.mutexes, key)
	if _, err := mutex.UnlockContext(ctx); err != nil {
		return fmt.Errorf("cache: release lock %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) IsLocked(ctx context.Context, key string) bool {
	return c.Has(ctx, lockName(key))
}

func lockName(key string) string {
	return "lock:" + key
}
