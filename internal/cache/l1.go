package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Layered wraps a backend Cache (Redis) with a bounded in-process
// ristretto cache in front of it, used for the highest-churn, smallest
// read (GoldenSku-by-sku_key) lookups the reconciler makes on nearly
// every row. Writes always go to both layers; reads check L1 first.
type Layered struct {
	l1      *ristretto.Cache[string, []byte]
	backend Cache
	l1TTL   time.Duration
}

// NewLayered builds an L1-over-backend cache. numCounters/maxCost follow
// ristretto's own sizing guidance for a small, hot working set.
func NewLayered(backend Cache, l1TTL time.Duration) (*Layered, error) {
	l1, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10_000,
		MaxCost:     1 << 20, // 1MiB of cached sku rows is plenty
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Layered{l1: l1, backend: backend, l1TTL: l1TTL}, nil
}

func (c *Layered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok := c.l1.Get(key); ok {
		return v, true, nil
	}
	v, ok, err := c.backend.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	c.l1.SetWithTTL(key, v, int64(len(v)), c.l1TTL)
	return v, true, nil
}

func (c *Layered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.l1.SetWithTTL(key, value, int64(len(value)), minDuration(ttl, c.l1TTL))
	return c.backend.Set(ctx, key, value, ttl)
}

func (c *Layered) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	return true, jsonUnmarshalInto(raw, dest)
}

func (c *Layered) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := marshalJSON(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}

func (c *Layered) Delete(ctx context.Context, key string) error {
	c.l1.Del(key)
	return c.backend.Delete(ctx, key)
}

func (c *Layered) Has(ctx context.Context, key string) bool {
	if _, ok := c.l1.Get(key); ok {
		return true
	}
	return c.backend.Has(ctx, key)
}

func (c *Layered) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.backend.AcquireLock(ctx, key, ttl)
}

func (c *Layered) ReleaseLock(ctx context.Context, key string) error {
	return c.backend.ReleaseLock(ctx, key)
}

func (c *Layered) IsLocked(ctx context.Context, key string) bool {
	return c.backend.IsLocked(ctx, key)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
