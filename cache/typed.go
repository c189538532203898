package cache

import (
	"context"
	"time"
)

// Typed is a statically typed view of a [Cache], obtained with [Lookup].
type Typed[K any, V any] struct {
	cache Cache
}

// NewTyped wraps c. Operations fail with a type error if K or V do not match
// the configured types.
func NewTyped[K any, V any](c Cache) *Typed[K, V] {
	return &Typed[K, V]{cache: c}
}

// Cache returns the underlying untyped cache.
func (t *Typed[K, V]) Cache() Cache {
	return t.cache
}

func cast[V any](val any) V {
	typed, _ := val.(V)
	return typed
}

func (t *Typed[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	val, found, err := t.cache.Get(ctx, key)
	if err != nil || !found {
		var zero V
		return zero, false, err
	}
	typed, ok := val.(V)
	return typed, ok, nil
}

func (t *Typed[K, V]) GetWithDefault(ctx context.Context, key K, def V) (V, error) {
	val, err := t.cache.GetWithDefault(ctx, key, def)
	return cast[V](val), err
}

func (t *Typed[K, V]) GetWithLoader(ctx context.Context, key K, loader func(ctx context.Context, key K) (V, error), ttl time.Duration) (V, error) {
	val, err := t.cache.GetWithLoader(ctx, key, func(ctx context.Context, _ any) (any, error) {
		return loader(ctx, key)
	}, ttl)
	return cast[V](val), err
}

func (t *Typed[K, V]) Put(ctx context.Context, key K, value V) (bool, error) {
	return t.cache.Put(ctx, key, value)
}

func (t *Typed[K, V]) PutIfAbsent(ctx context.Context, key K, value V) (bool, error) {
	return t.cache.PutIfAbsent(ctx, key, value)
}

func (t *Typed[K, V]) PutWithExpiry(ctx context.Context, key K, value V, ttl time.Duration) (bool, error) {
	return t.cache.PutWithExpiry(ctx, key, value, ttl)
}

func (t *Typed[K, V]) PutIfAbsentWithExpiry(ctx context.Context, key K, value V, ttl time.Duration) (bool, error) {
	return t.cache.PutIfAbsentWithExpiry(ctx, key, value, ttl)
}

func (t *Typed[K, V]) Invalidate(ctx context.Context, key K) error {
	return t.cache.Invalidate(ctx, key)
}
