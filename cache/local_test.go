package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/go-dcache/config"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutGet(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("local"))

	key := randomKey()
	val, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	ok, err := c.Put(ctx, key, "value")
	require.NoError(t, err)
	assert.True(t, ok)

	val, found, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", val)
}

func TestLocalPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("local"))

	key := randomKey()
	ok, err := c.PutIfAbsent(ctx, key, "v1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.PutIfAbsent(ctx, key, "v2")
	require.NoError(t, err)
	assert.False(t, ok)

	val, _, _ := c.Get(ctx, key)
	assert.Equal(t, "v1", val)
}

type mapStore struct {
	mu   sync.Mutex
	data map[any]any
}

func (s *mapStore) Get(key any) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *mapStore) Add(key, value any) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
}

func (s *mapStore) Remove(key any) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

func (s *mapStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *mapStore) Purge() {
	s.mu.Lock()
	s.data = map[any]any{}
	s.mu.Unlock()
}

func TestLocalPutIfAbsentWithoutAtomicStore(t *testing.T) {
	ctx := context.Background()
	store := &mapStore{data: map[any]any{}}
	f, _ := newTestFactory(t, WithCapabilities(Capabilities{
		Local: func(*config.CacheConfig) (BoundedCache, error) { return store, nil },
	}))
	c := buildPlain(t, f, localConfig("map"))

	ok, err := c.PutIfAbsent(ctx, "k", "v1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.PutIfAbsent(ctx, "k", "v2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, c.Close())
	assert.Zero(t, store.Len())
}

func TestLocalInvalidateIdempotent(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("local"))

	key := randomKey()
	_, err := c.Put(ctx, key, "value")
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, key))
	_, found, _ := c.Get(ctx, key)
	assert.False(t, found)
	require.NoError(t, c.Invalidate(ctx, key))
}

func TestLocalPutWithExpiry(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("local"))

	key := randomKey()
	ok, err := c.PutWithExpiry(ctx, key, "value", 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	val, found, _ := c.Get(ctx, key)
	assert.True(t, found)
	assert.Equal(t, "value", val)

	time.Sleep(50 * time.Millisecond)
	_, found, _ = c.Get(ctx, key)
	assert.True(t, found, "still present at ttl/2")

	assert.Eventually(t, func() bool {
		_, found, _ := c.Get(ctx, key)
		return !found
	}, time.Second, 10*time.Millisecond)
}

func TestLocalPutWithExpiryRearmResetsClock(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("local"))

	key := randomKey()
	_, err := c.PutWithExpiry(ctx, key, "first", 100*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = c.PutWithExpiry(ctx, key, "second", 100*time.Millisecond)
	require.NoError(t, err)

	// past the first deadline
	time.Sleep(60 * time.Millisecond)
	val, found, _ := c.Get(ctx, key)
	assert.True(t, found)
	assert.Equal(t, "second", val)

	assert.Eventually(t, func() bool {
		_, found, _ := c.Get(ctx, key)
		return !found
	}, time.Second, 10*time.Millisecond)
}

func TestLocalPutCancelsPendingExpiry(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("local"))

	key := randomKey()
	_, err := c.PutWithExpiry(ctx, key, "short-lived", 30*time.Millisecond)
	require.NoError(t, err)
	_, err = c.Put(ctx, key, "forever")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	val, found, _ := c.Get(ctx, key)
	assert.True(t, found)
	assert.Equal(t, "forever", val)
}

func TestLocalNonPositiveTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("local"))

	for _, ttl := range []time.Duration{0, -time.Second} {
		key := randomKey()
		_, err := c.PutWithExpiry(ctx, key, "short-lived", 30*time.Millisecond)
		require.NoError(t, err)
		ok, err := c.PutWithExpiry(ctx, key, "kept", ttl)
		require.NoError(t, err)
		assert.True(t, ok)

		absent := randomKey()
		ok, err = c.PutIfAbsentWithExpiry(ctx, absent, "kept", ttl)
		require.NoError(t, err)
		assert.True(t, ok)

		time.Sleep(80 * time.Millisecond)
		val, found, _ := c.Get(ctx, key)
		assert.True(t, found, "ttl %s cancels the pending deadline", ttl)
		assert.Equal(t, "kept", val)
		_, found, _ = c.Get(ctx, absent)
		assert.True(t, found, "ttl %s", ttl)
	}
}

func TestLocalPutIfAbsentWithExpiry(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("local"))

	key := randomKey()
	ok, err := c.PutIfAbsentWithExpiry(ctx, key, "v1", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	// the losing write must not re-arm the timer
	ok, err = c.PutIfAbsentWithExpiry(ctx, key, "v2", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Eventually(t, func() bool {
		_, found, _ := c.Get(ctx, key)
		return !found
	}, time.Second, 10*time.Millisecond)

	ok, err = c.PutIfAbsentWithExpiry(ctx, key, "v3", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalConcurrentPutWithExpiry(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("local"))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.PutWithExpiry(ctx, "shared", "v", 40*time.Millisecond)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	_, err := c.Put(ctx, "shared", "final")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	val, found, _ := c.Get(ctx, "shared")
	assert.True(t, found, "no stale deadline removes the final write")
	assert.Equal(t, "final", val)
}

func TestLocalMaxEntriesAndWriteExpiry(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)

	cfg := localConfig("bounded")
	cfg.MaxEntries = 2
	c := buildPlain(t, f, cfg)
	for _, k := range []string{"a", "b", "c"} {
		_, err := c.Put(ctx, k, k)
		require.NoError(t, err)
	}
	_, found, _ := c.Get(ctx, "a")
	assert.False(t, found, "oldest entry evicted")
	_, found, _ = c.Get(ctx, "c")
	assert.True(t, found)

	cfg = localConfig("expiring")
	cfg.WriteExpiry = 50 * time.Millisecond
	c = buildPlain(t, f, cfg)
	_, err := c.Put(ctx, "k", "v")
	require.NoError(t, err)
	_, found, _ = c.Get(ctx, "k")
	assert.True(t, found)
	assert.Eventually(t, func() bool {
		_, found, _ := c.Get(ctx, "k")
		return !found
	}, time.Second, 10*time.Millisecond)
}

func TestGetWithDefaultAndSupplier(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("local"))

	val, err := c.GetWithDefault(ctx, "missing", "default")
	require.NoError(t, err)
	assert.Equal(t, "default", val)
	_, found, _ := c.Get(ctx, "missing")
	assert.False(t, found, "default is not written back")

	calls := 0
	val, err = c.GetWithSupplier(ctx, "missing", func() any { calls++; return "supplied" })
	require.NoError(t, err)
	assert.Equal(t, "supplied", val)
	assert.Equal(t, 1, calls)

	_, _ = c.Put(ctx, "present", "stored")
	val, err = c.GetWithSupplier(ctx, "present", func() any { calls++; return "supplied" })
	require.NoError(t, err)
	assert.Equal(t, "stored", val)
	assert.Equal(t, 1, calls, "supplier not called on a hit")
}

func TestGetWithLoader(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("local"))

	loads := 0
	loader := func(_ context.Context, key any) (any, error) {
		loads++
		return "loaded:" + key.(string), nil
	}
	val, err := c.GetWithLoader(ctx, "k", loader, 0)
	require.NoError(t, err)
	assert.Equal(t, "loaded:k", val)
	val, err = c.GetWithLoader(ctx, "k", loader, 0)
	require.NoError(t, err)
	assert.Equal(t, "loaded:k", val)
	assert.Equal(t, 1, loads)

	val, err = c.GetWithLoader(ctx, "ttl", loader, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "loaded:ttl", val)
	assert.Eventually(t, func() bool {
		_, found, _ := c.Get(ctx, "ttl")
		return !found
	}, time.Second, 10*time.Millisecond)

	boom := errors.New("source down")
	_, err = c.GetWithLoader(ctx, "fail", func(context.Context, any) (any, error) { return nil, boom }, 0)
	var loaderErr *LoaderError
	require.True(t, errors.As(err, &loaderErr))
	assert.True(t, errors.Is(err, boom))

	_, err = c.GetWithLoader(ctx, "wrong", func(context.Context, any) (any, error) { return 42, nil }, 0)
	assert.True(t, errors.Is(err, ErrInvalidValueType))

	val, err = c.GetWithLoader(ctx, "nil", func(context.Context, any) (any, error) { return nil, nil }, 0)
	require.NoError(t, err)
	assert.Nil(t, val)
	_, found, _ := c.Get(ctx, "nil")
	assert.False(t, found)
}

func TestGetWithLoaderConcurrentMissesShareOneLoad(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("local"))

	var loads atomic.Int32
	loader := func(_ context.Context, key any) (any, error) {
		loads.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "loaded:" + key.(string), nil
	}

	const callers = 16
	start := make(chan struct{})
	results := make([]any, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			val, err := c.GetWithLoader(ctx, "shared", loader, 0)
			assert.NoError(t, err)
			results[i] = val
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, val := range results {
		assert.Equal(t, "loaded:shared", val)
	}

	// distinct keys do not share a flight
	_, err := c.GetWithLoader(ctx, "other", loader, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads.Load())
}

func TestTypeMismatchOnEveryOperation(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, localConfig("typed"))

	keyOps := map[string]func(key any) error{
		"get":            func(k any) error { _, _, err := c.Get(ctx, k); return err },
		"getWithDefault": func(k any) error { _, err := c.GetWithDefault(ctx, k, "d"); return err },
		"getWithSupplier": func(k any) error {
			_, err := c.GetWithSupplier(ctx, k, func() any { return "d" })
			return err
		},
		"getWithLoader": func(k any) error {
			_, err := c.GetWithLoader(ctx, k, func(context.Context, any) (any, error) { return "d", nil }, 0)
			return err
		},
		"put":                   func(k any) error { _, err := c.Put(ctx, k, "v"); return err },
		"putIfAbsent":           func(k any) error { _, err := c.PutIfAbsent(ctx, k, "v"); return err },
		"putWithExpiry":         func(k any) error { _, err := c.PutWithExpiry(ctx, k, "v", time.Minute); return err },
		"putIfAbsentWithExpiry": func(k any) error { _, err := c.PutIfAbsentWithExpiry(ctx, k, "v", time.Minute); return err },
		"invalidate":            func(k any) error { return c.Invalidate(ctx, k) },
	}
	for name, op := range keyOps {
		err := op(42)
		var keyErr *InvalidKeyTypeError
		require.True(t, errors.As(err, &keyErr), name)
		assert.Equal(t, "int", keyErr.Provided, name)
		assert.Equal(t, "string", keyErr.Expected, name)
		assert.True(t, errors.Is(err, ErrInvalidKeyType), name)
		assert.True(t, IsTypeError(err), name)
	}

	valueOps := map[string]func(value any) error{
		"put":                   func(v any) error { _, err := c.Put(ctx, "k", v); return err },
		"putIfAbsent":           func(v any) error { _, err := c.PutIfAbsent(ctx, "k", v); return err },
		"putWithExpiry":         func(v any) error { _, err := c.PutWithExpiry(ctx, "k", v, time.Minute); return err },
		"putIfAbsentWithExpiry": func(v any) error { _, err := c.PutIfAbsentWithExpiry(ctx, "k", v, time.Minute); return err },
	}
	for name, op := range valueOps {
		for _, bad := range []any{3.14, nil, []byte("v")} {
			err := op(bad)
			assert.True(t, errors.Is(err, ErrInvalidValueType), "%s(%v)", name, bad)
		}
	}
	_, found, _ := c.Get(ctx, "k")
	assert.False(t, found, "nothing was written")
}

type userKey string

func TestWithPrefix(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)

	cfg := localConfig("prefixed")
	cfg.KeyType = anyType
	cfg.Prefix = "app:"
	c := buildPlain(t, f, cfg)

	assert.Equal(t, "app:k", c.WithPrefix("k"))
	assert.Equal(t, userKey("app:k"), c.WithPrefix(userKey("k")))
	assert.Equal(t, 42, c.WithPrefix(42))

	_, err := c.Put(ctx, 42, "int key")
	require.NoError(t, err)
	val, found, _ := c.Get(ctx, 42)
	assert.True(t, found)
	assert.Equal(t, "int key", val)

	_, err = c.Put(ctx, []byte("k"), "v")
	assert.True(t, errors.Is(err, ErrInvalidKeyType), "non-comparable dynamic key")

	plain := buildPlain(t, f, localConfig("unprefixed"))
	assert.Equal(t, "k", plain.WithPrefix("k"))
}
