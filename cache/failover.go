package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/agentuity/go-dcache/resilience"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/trace"
)

// FailoverCache retries an operation against a fallback cache when its own
// backend fails with a transport error or times out. Misses, type errors and
// codec errors are answered by the primary alone.
//
// The fallback is set once with [FailoverCache.SetFallback]; chains are
// formed by giving the fallback a fallback of its own. When a circuit breaker
// is configured, the primary is not called at all while the circuit is open.
type FailoverCache struct {
	*core
	fallback atomic.Pointer[FailoverCache]
	breaker  *resilience.CircuitBreaker
}

var _ Cache = (*FailoverCache)(nil)

// SetFallback wires fb as the fallback of c. It fails when a fallback is
// already set, when fb would close a loop, or when fb's key or value type is
// not substitutable for c's.
func (c *FailoverCache) SetFallback(fb *FailoverCache) error {
	if fb == nil {
		return initError(c.cfg.ID, "fallback must not be nil")
	}
	for next := fb; next != nil; next = next.Fallback() {
		if next == c {
			return initError(c.cfg.ID, "fallback [%s] leads back to this cache", fb.ID())
		}
	}
	if !c.KeyType().AcceptsType(fb.KeyType()) {
		return initError(c.cfg.ID, "fallback [%s] key type [%s] is not assignable to [%s]", fb.ID(), fb.KeyType(), c.KeyType())
	}
	if !c.ValueType().AcceptsType(fb.ValueType()) {
		return initError(c.cfg.ID, "fallback [%s] value type [%s] is not assignable to [%s]", fb.ID(), fb.ValueType(), c.ValueType())
	}
	if !c.fallback.CompareAndSwap(nil, fb) {
		return initError(c.cfg.ID, "fallback already set to [%s]", c.Fallback().ID())
	}
	c.log.Debug("fallback set to %s", fb.ID())
	return nil
}

// Fallback returns the fallback cache, or nil.
func (c *FailoverCache) Fallback() *FailoverCache {
	return c.fallback.Load()
}

// HasFallback reports whether a fallback has been wired.
func (c *FailoverCache) HasFallback() bool {
	return c.fallback.Load() != nil
}

// Breaker returns the circuit breaker guarding the primary, or nil.
func (c *FailoverCache) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// attempt runs fn against the primary and reports whether the operation
// should move on to the fallback.
func (c *FailoverCache) attempt(op string, fn func() error) bool {
	// a codec error means the primary answered, so it counts as healthy
	healthy := func() error {
		if err := fn(); err != nil && !isCodecError(err) {
			return err
		}
		return nil
	}
	if c.breaker == nil {
		return healthy() != nil
	}
	err := c.breaker.Execute(healthy)
	if errors.Is(err, resilience.ErrCircuitBreakerOpen) {
		c.metrics.operation(c.cfg.ID, op, resultSkipped)
		c.log.Debug("%s skipped primary: %v", op, err)
	}
	return err != nil
}

// cascade returns the fallback to retry op on, recording the hand-off, or
// nil when there is none.
func (c *FailoverCache) cascade(ctx context.Context, op string) *FailoverCache {
	fb := c.fallback.Load()
	if fb == nil {
		return nil
	}
	c.metrics.fallback(c.cfg.ID, op)
	trace.SpanFromContext(ctx).SetAttributes(attrFallback.String(fb.ID()))
	c.log.Debug("%s routed to fallback %s", op, fb.ID())
	return fb
}

// absorb turns a fallback's type rejection into the conservative default:
// a key the primary accepts may still be too wide for a narrower fallback.
func (c *FailoverCache) absorb(fb *FailoverCache, op string, err error) error {
	if err != nil && IsTypeError(err) {
		c.log.Debug("fallback %s rejected %s: %v", fb.ID(), op, err)
		return nil
	}
	return err
}

func (c *FailoverCache) Get(ctx context.Context, key any) (any, bool, error) {
	if err := c.checkKey(key); err != nil {
		return nil, false, err
	}
	ctx, span := c.startSpan(ctx, opGet)
	defer span.End()

	var val any
	var found bool
	if !c.attempt(opGet, func() (err error) {
		val, found, err = c.get(ctx, key)
		return err
	}) {
		return val, found, nil
	}
	if fb := c.cascade(ctx, opGet); fb != nil {
		val, found, err := fb.Get(ctx, key)
		if err = c.absorb(fb, opGet, err); err != nil || !found {
			return nil, false, err
		}
		return val, true, nil
	}
	return nil, false, nil
}

func (c *FailoverCache) GetWithDefault(ctx context.Context, key any, def any) (any, error) {
	return supplyOnMiss(ctx, c, key, func() any { return def })
}

func (c *FailoverCache) GetWithSupplier(ctx context.Context, key any, supplier func() any) (any, error) {
	return supplyOnMiss(ctx, c, key, supplier)
}

func (c *FailoverCache) GetWithLoader(ctx context.Context, key any, loader Loader, ttl time.Duration) (any, error) {
	return c.core.loadOnMiss(ctx, c, key, loader, ttl)
}

// write is the shared failover path of every mutating operation.
func (c *FailoverCache) write(ctx context.Context, op string,
	primary func(ctx context.Context) (bool, error),
	fallback func(ctx context.Context, fb *FailoverCache) (bool, error),
) (bool, error) {
	ctx, span := c.startSpan(ctx, op)
	defer span.End()

	var ok bool
	if !c.attempt(op, func() (err error) {
		ok, err = primary(ctx)
		return err
	}) {
		return ok, nil
	}
	if fb := c.cascade(ctx, op); fb != nil {
		ok, err := fallback(ctx, fb)
		if err = c.absorb(fb, op, err); err != nil {
			return false, err
		}
		return ok, nil
	}
	return false, nil
}

func (c *FailoverCache) Put(ctx context.Context, key any, value any) (bool, error) {
	if err := c.checkEntry(key, value); err != nil {
		return false, err
	}
	return c.write(ctx, opPut,
		func(ctx context.Context) (bool, error) {
			err := c.put(ctx, key, value)
			return err == nil, err
		},
		func(ctx context.Context, fb *FailoverCache) (bool, error) { return fb.Put(ctx, key, value) })
}

func (c *FailoverCache) PutIfAbsent(ctx context.Context, key any, value any) (bool, error) {
	if err := c.checkEntry(key, value); err != nil {
		return false, err
	}
	return c.write(ctx, opPutIfAbsent,
		func(ctx context.Context) (bool, error) { return c.putIfAbsent(ctx, key, value) },
		func(ctx context.Context, fb *FailoverCache) (bool, error) { return fb.PutIfAbsent(ctx, key, value) })
}

func (c *FailoverCache) PutWithExpiry(ctx context.Context, key any, value any, ttl time.Duration) (bool, error) {
	if err := c.checkEntry(key, value); err != nil {
		return false, err
	}
	return c.write(ctx, opPutWithExpiry,
		func(ctx context.Context) (bool, error) {
			err := c.putWithExpiry(ctx, key, value, ttl)
			return err == nil, err
		},
		func(ctx context.Context, fb *FailoverCache) (bool, error) { return fb.PutWithExpiry(ctx, key, value, ttl) })
}

func (c *FailoverCache) PutIfAbsentWithExpiry(ctx context.Context, key any, value any, ttl time.Duration) (bool, error) {
	if err := c.checkEntry(key, value); err != nil {
		return false, err
	}
	return c.write(ctx, opPutIfAbsentWithExpiry,
		func(ctx context.Context) (bool, error) { return c.putIfAbsentWithExpiry(ctx, key, value, ttl) },
		func(ctx context.Context, fb *FailoverCache) (bool, error) {
			return fb.PutIfAbsentWithExpiry(ctx, key, value, ttl)
		})
}

func (c *FailoverCache) Invalidate(ctx context.Context, key any) error {
	if err := c.checkKey(key); err != nil {
		return err
	}
	_, err := c.write(ctx, opInvalidate,
		func(ctx context.Context) (bool, error) {
			err := c.invalidate(ctx, key)
			return err == nil, err
		},
		func(ctx context.Context, fb *FailoverCache) (bool, error) { return true, fb.Invalidate(ctx, key) })
	return err
}
