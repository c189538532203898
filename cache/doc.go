// Package cache provides configuration-driven caches over a local bounded
// store, Redis and Memcached, with runtime type checking, key prefixes,
// per-write expiry and failover chains.
//
// # Cache Interface
//
// Every backend satisfies [Cache]. Keys and values are passed as [any] and
// checked against the key and value types of the cache configuration before
// any backend I/O. A mismatch returns [*InvalidKeyTypeError] or
// [*InvalidValueTypeError]; these are caller bugs and are never retried or
// absorbed. [Lookup] returns a [Typed] view for callers that know the types
// statically:
//
//	users, ok := cache.Lookup[string, User](registry, "users")
//	user, found, err := users.Get(ctx, "user:123")
//
// A configured prefix is prepended to keys of a string kind only; other keys
// are used as-is.
//
// # Backends
//
//   - IN_MEMORY: a [BoundedCache], by default [NewLRU] over
//     [github.com/hashicorp/golang-lru/v2/expirable]. Values are stored as-is,
//     max_entries bounds the number of entries and expiration_from_write
//     expires every write. [Cache.PutWithExpiry] arms a per-key timer from the
//     expiry package; a later write to the same key replaces or cancels it.
//
//   - REDIS: values are msgpack-encoded and written with SET; expiry and
//     put-if-absent are native (SET PX / SET NX). Non-string keys are
//     msgpack-encoded too.
//
//   - MEMCACHED: values are msgpack-encoded; keys must be strings. Expiry is
//     rounded up to whole seconds and put-if-absent uses add. Keys memcached
//     would reject are replaced by their xxhash.
//
// Each remote operation runs under a context deadline of the configured
// timeout.
//
// # Failure handling
//
// [Factory.Build] returns the plain variant: a backend failure is logged and
// the operation degrades to a miss or a rejected write. [Factory.BuildFailover]
// returns a [*FailoverCache] which instead repeats the operation on its
// fallback cache. Misses never cascade, and [Cache.GetWithDefault] never
// writes the default anywhere. With failure_threshold set, a circuit breaker
// stops calling a primary that keeps failing for failure_cooldown.
//
// # Assembly
//
// [Open] turns flat properties of the form dcache.cache.<id>.<field> into a
// [Registry]:
//
//	registry, err := cache.Open(props, cache.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	defer registry.Close()
//	c, _ := registry.Get("sessions")
//	ok, err := c.PutWithExpiry(ctx, "token", session, time.Minute)
package cache
