package cache

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/agentuity/go-dcache/config"
	"github.com/agentuity/go-dcache/logger"
	"github.com/agentuity/go-dcache/types"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	opGet                   = "get"
	opPut                   = "put"
	opPutIfAbsent           = "put_if_absent"
	opPutWithExpiry         = "put_with_expiry"
	opPutIfAbsentWithExpiry = "put_if_absent_with_expiry"
	opInvalidate            = "invalidate"
)

// core holds what both cache variants share: configuration, the backend and
// the instrumentation around every backend call.
type core struct {
	cfg     *config.CacheConfig
	backend backend
	log     logger.Logger
	metrics *Metrics
	tracer  trace.Tracer
	loads   singleflight.Group
}

func (c *core) ID() string {
	return c.cfg.ID
}

func (c *core) KeyType() types.Type {
	return c.cfg.KeyType
}

func (c *core) ValueType() types.Type {
	return c.cfg.ValueType
}

// Config returns the configuration the cache was built from.
func (c *core) Config() *config.CacheConfig {
	return c.cfg
}

func (c *core) checkKey(key any) error {
	if !c.cfg.KeyType.Accepts(key) {
		return &InvalidKeyTypeError{ID: c.cfg.ID, Provided: types.NameOf(key), Expected: c.cfg.KeyType.String()}
	}
	// an interface key type admits dynamic types that cannot index a map
	if c.cfg.Kind == config.KindLocal && !reflect.TypeOf(key).Comparable() {
		return &InvalidKeyTypeError{ID: c.cfg.ID, Provided: types.NameOf(key), Expected: "comparable " + c.cfg.KeyType.String()}
	}
	return nil
}

func (c *core) checkValue(value any) error {
	if !c.cfg.ValueType.Accepts(value) {
		return &InvalidValueTypeError{ID: c.cfg.ID, Provided: types.NameOf(value), Expected: c.cfg.ValueType.String()}
	}
	return nil
}

func (c *core) checkEntry(key, value any) error {
	if err := c.checkKey(key); err != nil {
		return err
	}
	return c.checkValue(value)
}

func (c *core) WithPrefix(key any) any {
	if c.cfg.Prefix == "" || key == nil {
		return key
	}
	v := reflect.ValueOf(key)
	if v.Kind() != reflect.String {
		return key
	}
	return reflect.ValueOf(c.cfg.Prefix + v.String()).Convert(v.Type()).Interface()
}

func (c *core) failed(ctx context.Context, op string, key any, err error) {
	c.metrics.operation(c.cfg.ID, op, resultError)
	recordSpanError(ctx, err)
	c.log.Warn("%s %v failed on %s backend: %v", op, key, c.cfg.Kind, err)
}

func (c *core) succeeded(ctx context.Context, op, result string) {
	c.metrics.operation(c.cfg.ID, op, result)
	trace.SpanFromContext(ctx).SetAttributes(attrResult.String(result))
}

func (c *core) get(ctx context.Context, key any) (any, bool, error) {
	val, found, err := c.backend.get(ctx, c.WithPrefix(key))
	if err != nil {
		c.failed(ctx, opGet, key, err)
		return nil, false, err
	}
	if found {
		c.succeeded(ctx, opGet, resultHit)
	} else {
		c.succeeded(ctx, opGet, resultMiss)
	}
	return val, found, nil
}

func (c *core) put(ctx context.Context, key, value any) error {
	if err := c.backend.put(ctx, c.WithPrefix(key), value); err != nil {
		c.failed(ctx, opPut, key, err)
		return err
	}
	c.succeeded(ctx, opPut, resultOK)
	return nil
}

func (c *core) putIfAbsent(ctx context.Context, key, value any) (bool, error) {
	ok, err := c.backend.putIfAbsent(ctx, c.WithPrefix(key), value)
	return c.conditional(ctx, opPutIfAbsent, key, ok, err)
}

// putWithExpiry treats a non-positive ttl as no per-entry deadline, the same
// as put, on every backend.
func (c *core) putWithExpiry(ctx context.Context, key, value any, ttl time.Duration) error {
	var err error
	if ttl <= 0 {
		err = c.backend.put(ctx, c.WithPrefix(key), value)
	} else {
		err = c.backend.putWithExpiry(ctx, c.WithPrefix(key), value, ttl)
	}
	if err != nil {
		c.failed(ctx, opPutWithExpiry, key, err)
		return err
	}
	c.succeeded(ctx, opPutWithExpiry, resultOK)
	return nil
}

func (c *core) putIfAbsentWithExpiry(ctx context.Context, key, value any, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ok, err := c.backend.putIfAbsent(ctx, c.WithPrefix(key), value)
		return c.conditional(ctx, opPutIfAbsentWithExpiry, key, ok, err)
	}
	ok, err := c.backend.putIfAbsentWithExpiry(ctx, c.WithPrefix(key), value, ttl)
	return c.conditional(ctx, opPutIfAbsentWithExpiry, key, ok, err)
}

func (c *core) conditional(ctx context.Context, op string, key any, ok bool, err error) (bool, error) {
	if err != nil {
		c.failed(ctx, op, key, err)
		return false, err
	}
	if ok {
		c.succeeded(ctx, op, resultOK)
	} else {
		c.succeeded(ctx, op, resultRejected)
	}
	return ok, nil
}

func (c *core) invalidate(ctx context.Context, key any) error {
	if err := c.backend.invalidate(ctx, c.WithPrefix(key)); err != nil {
		c.failed(ctx, opInvalidate, key, err)
		return err
	}
	c.succeeded(ctx, opInvalidate, resultOK)
	return nil
}

func (c *core) Close() error {
	return c.backend.close()
}

// supplyOnMiss is the shared body of GetWithDefault and GetWithSupplier.
func supplyOnMiss(ctx context.Context, c Cache, key any, supplier func() any) (any, error) {
	val, found, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found || supplier == nil {
		return val, nil
	}
	return supplier(), nil
}

// loadOnMiss is the shared body of GetWithLoader. Concurrent misses on the
// same key share one loader call.
func (c *core) loadOnMiss(ctx context.Context, self Cache, key any, loader Loader, ttl time.Duration) (any, error) {
	val, found, err := self.Get(ctx, key)
	if err != nil || found || loader == nil {
		return val, err
	}
	prefixed := c.WithPrefix(key)
	flight := fmt.Sprintf("%T:%v", prefixed, prefixed)
	val, err, _ = c.loads.Do(flight, func() (any, error) {
		// a flight that finished since our miss may have stored the value
		if val, found, err := self.Get(ctx, key); err != nil || found {
			return val, err
		}
		val, err := loader(ctx, key)
		if err != nil {
			return nil, &LoaderError{ID: c.cfg.ID, Key: key, Cause: err}
		}
		if val == nil {
			return nil, nil
		}
		if ttl > 0 {
			_, err = self.PutWithExpiry(ctx, key, val, ttl)
		} else {
			_, err = self.Put(ctx, key, val)
		}
		if err != nil {
			return nil, err
		}
		return val, nil
	})
	return val, err
}
