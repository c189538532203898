package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-dcache/types"
)

// Loader produces the value for a key missing from the cache.
type Loader func(ctx context.Context, key any) (any, error)

// Cache is the contract shared by every backend.
//
// Keys and values are checked against the configured types before any
// backend I/O; a mismatch returns [*InvalidKeyTypeError] or
// [*InvalidValueTypeError]. Backend failures are never returned: reads degrade
// to a miss and writes report false.
type Cache interface {
	ID() string
	KeyType() types.Type
	ValueType() types.Type

	// Get returns the value stored under key and whether it was found.
	Get(ctx context.Context, key any) (any, bool, error)
	// GetWithDefault returns def when key is absent. def is not stored.
	GetWithDefault(ctx context.Context, key any, def any) (any, error)
	// GetWithSupplier returns supplier() when key is absent. The result is not stored.
	GetWithSupplier(ctx context.Context, key any, supplier func() any) (any, error)
	// GetWithLoader returns the cached value or, on a miss, calls loader and
	// stores its result, with ttl when ttl > 0. A nil result is returned but
	// not stored.
	GetWithLoader(ctx context.Context, key any, loader Loader, ttl time.Duration) (any, error)

	Put(ctx context.Context, key any, value any) (bool, error)
	// PutIfAbsent writes value only when key holds nothing and reports whether it did.
	PutIfAbsent(ctx context.Context, key any, value any) (bool, error)
	// PutWithExpiry writes value and removes it once ttl has elapsed. A later
	// write to the same key replaces the deadline. A ttl of zero or less sets
	// no deadline, so the call behaves like Put on every backend.
	PutWithExpiry(ctx context.Context, key any, value any, ttl time.Duration) (bool, error)
	// PutIfAbsentWithExpiry is PutIfAbsent with the deadline rules of PutWithExpiry.
	PutIfAbsentWithExpiry(ctx context.Context, key any, value any, ttl time.Duration) (bool, error)
	// Invalidate removes key. Invalidating an absent key is not an error.
	Invalidate(ctx context.Context, key any) error

	// WithPrefix returns key with the configured prefix applied. Only keys of
	// a string kind are prefixed.
	WithPrefix(key any) any
	Close() error
}
