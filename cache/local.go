package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-dcache/expiry"
)

// localBackend stores values as-is in a BoundedCache. Per-call expiry runs
// through an expiry.Scheduler; every write to a key goes through the
// scheduler lock so that an older deadline never removes a newer value.
type localBackend struct {
	store    BoundedCache
	timers   *expiry.Scheduler[any]
	onExpire func(key any)
}

func newLocalBackend(store BoundedCache, onExpire func(key any)) *localBackend {
	return &localBackend{
		store:    store,
		timers:   expiry.New[any](),
		onExpire: onExpire,
	}
}

func (b *localBackend) get(_ context.Context, key any) (any, bool, error) {
	val, ok := b.store.Get(key)
	return val, ok, nil
}

func (b *localBackend) addIfAbsent(key, value any) bool {
	if adder, ok := b.store.(ContainsOrAdder); ok {
		return !adder.ContainsOrAdd(key, value)
	}
	if _, found := b.store.Get(key); found {
		return false
	}
	b.store.Add(key, value)
	return true
}

func (b *localBackend) expire(key any) {
	b.store.Remove(key)
	if b.onExpire != nil {
		b.onExpire(key)
	}
}

func (b *localBackend) put(_ context.Context, key, value any) error {
	b.timers.CancelWith(key, func() bool {
		b.store.Add(key, value)
		return true
	})
	return nil
}

func (b *localBackend) putIfAbsent(_ context.Context, key, value any) (bool, error) {
	return b.timers.CancelWith(key, func() bool {
		return b.addIfAbsent(key, value)
	}), nil
}

func (b *localBackend) putWithExpiry(_ context.Context, key, value any, ttl time.Duration) error {
	b.timers.ScheduleWith(key, ttl, func() bool {
		b.store.Add(key, value)
		return true
	}, b.expire)
	return nil
}

func (b *localBackend) putIfAbsentWithExpiry(_ context.Context, key, value any, ttl time.Duration) (bool, error) {
	return b.timers.ScheduleWith(key, ttl, func() bool {
		return b.addIfAbsent(key, value)
	}, b.expire), nil
}

func (b *localBackend) invalidate(_ context.Context, key any) error {
	b.timers.CancelWith(key, func() bool {
		b.store.Remove(key)
		return true
	})
	return nil
}

func (b *localBackend) close() error {
	b.timers.Stop()
	b.store.Purge()
	return nil
}
