package cache

import (
	"context"
	"time"
)

// plainCache is the non-failover variant: backend failures are logged and
// absorbed, so an unreachable backend behaves like an empty cache that
// rejects writes.
type plainCache struct {
	*core
}

var _ Cache = (*plainCache)(nil)

func (c *plainCache) Get(ctx context.Context, key any) (any, bool, error) {
	if err := c.checkKey(key); err != nil {
		return nil, false, err
	}
	ctx, span := c.startSpan(ctx, opGet)
	defer span.End()
	val, found, err := c.get(ctx, key)
	if err != nil {
		return nil, false, nil
	}
	return val, found, nil
}

func (c *plainCache) GetWithDefault(ctx context.Context, key any, def any) (any, error) {
	return supplyOnMiss(ctx, c, key, func() any { return def })
}

func (c *plainCache) GetWithSupplier(ctx context.Context, key any, supplier func() any) (any, error) {
	return supplyOnMiss(ctx, c, key, supplier)
}

func (c *plainCache) GetWithLoader(ctx context.Context, key any, loader Loader, ttl time.Duration) (any, error) {
	return c.core.loadOnMiss(ctx, c, key, loader, ttl)
}

func (c *plainCache) Put(ctx context.Context, key any, value any) (bool, error) {
	if err := c.checkEntry(key, value); err != nil {
		return false, err
	}
	ctx, span := c.startSpan(ctx, opPut)
	defer span.End()
	return c.put(ctx, key, value) == nil, nil
}

func (c *plainCache) PutIfAbsent(ctx context.Context, key any, value any) (bool, error) {
	if err := c.checkEntry(key, value); err != nil {
		return false, err
	}
	ctx, span := c.startSpan(ctx, opPutIfAbsent)
	defer span.End()
	ok, _ := c.putIfAbsent(ctx, key, value)
	return ok, nil
}

func (c *plainCache) PutWithExpiry(ctx context.Context, key any, value any, ttl time.Duration) (bool, error) {
	if err := c.checkEntry(key, value); err != nil {
		return false, err
	}
	ctx, span := c.startSpan(ctx, opPutWithExpiry)
	defer span.End()
	return c.putWithExpiry(ctx, key, value, ttl) == nil, nil
}

func (c *plainCache) PutIfAbsentWithExpiry(ctx context.Context, key any, value any, ttl time.Duration) (bool, error) {
	if err := c.checkEntry(key, value); err != nil {
		return false, err
	}
	ctx, span := c.startSpan(ctx, opPutIfAbsentWithExpiry)
	defer span.End()
	ok, _ := c.putIfAbsentWithExpiry(ctx, key, value, ttl)
	return ok, nil
}

func (c *plainCache) Invalidate(ctx context.Context, key any) error {
	if err := c.checkKey(key); err != nil {
		return err
	}
	ctx, span := c.startSpan(ctx, opInvalidate)
	defer span.End()
	_ = c.invalidate(ctx, key)
	return nil
}
