package cache

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/agentuity/go-dcache/config"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestMemcachedSetGet(t *testing.T) {
	ctx := context.Background()
	mc := newFakeMemcached(t)
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, remoteConfig("mc", config.KindMemcached, mc.Addr()))

	_, found, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := c.Put(ctx, "key", "value")
	require.NoError(t, err)
	assert.True(t, ok)

	val, found, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", val)

	item, ok := mc.item("key")
	require.True(t, ok)
	var decoded string
	require.NoError(t, msgpack.Unmarshal(item.value, &decoded))
	assert.Equal(t, "value", decoded)
	assert.Zero(t, item.expiration)

	require.NoError(t, c.Invalidate(ctx, "key"))
	_, ok = mc.item("key")
	assert.False(t, ok)
	require.NoError(t, c.Invalidate(ctx, "key"), "deleting a missing key is not an error")
}

func TestMemcachedAddAndExpiry(t *testing.T) {
	ctx := context.Background()
	mc := newFakeMemcached(t)
	f, _ := newTestFactory(t)
	cfg := remoteConfig("mc", config.KindMemcached, mc.Addr())
	cfg.Prefix = "sess:"
	c := buildPlain(t, f, cfg)

	ok, err := c.PutIfAbsent(ctx, "k", "v1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.PutIfAbsent(ctx, "k", "v2")
	require.NoError(t, err)
	assert.False(t, ok)
	val, _, _ := c.Get(ctx, "k")
	assert.Equal(t, "v1", val)
	_, stored := mc.item("sess:k")
	assert.True(t, stored)

	ok, err = c.PutWithExpiry(ctx, "ttl", "v", 1500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
	item, _ := mc.item("sess:ttl")
	assert.Equal(t, int32(2), item.expiration, "rounded up to whole seconds")

	ok, err = c.PutIfAbsentWithExpiry(ctx, "ttl2", "v", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	item, _ = mc.item("sess:ttl2")
	assert.Equal(t, int32(60), item.expiration)
}

func TestMemcachedNonPositiveTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	mc := newFakeMemcached(t)
	f, _ := newTestFactory(t)
	c := buildPlain(t, f, remoteConfig("mc", config.KindMemcached, mc.Addr()))

	for i, ttl := range []time.Duration{0, -time.Second} {
		ok, err := c.PutWithExpiry(ctx, "key", "kept", ttl)
		require.NoError(t, err)
		assert.True(t, ok)
		item, stored := mc.item("key")
		require.True(t, stored)
		assert.Zero(t, item.expiration, "ttl %s", ttl)

		absent := fmt.Sprintf("absent-%d", i)
		ok, err = c.PutIfAbsentWithExpiry(ctx, absent, "kept", ttl)
		require.NoError(t, err)
		assert.True(t, ok)
		item, stored = mc.item(absent)
		require.True(t, stored)
		assert.Zero(t, item.expiration)
	}
}

func TestMemcachedRequiresStringKeys(t *testing.T) {
	f, _ := newTestFactory(t)
	cfg := remoteConfig("mc", config.KindMemcached, "127.0.0.1:11211")
	cfg.KeyType = intType
	_, err := f.Build(cfg)
	var initErr *InitializationError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "mc", initErr.ID)
	assert.Contains(t, err.Error(), "int")
	assert.True(t, errors.Is(err, ErrInitialization))
}

func TestMemcachedUnreachableIsAbsorbed(t *testing.T) {
	ctx := context.Background()
	mc := newFakeMemcached(t)
	f, log := newTestFactory(t)
	cfg := remoteConfig("mc", config.KindMemcached, mc.Addr())
	cfg.Timeout = 200 * time.Millisecond
	c := buildPlain(t, f, cfg)
	mc.Close()

	_, found, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
	ok, err := c.Put(ctx, "key", "value")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, log.Count("WARNING"))
}

func TestMemcachedCancelledContext(t *testing.T) {
	mc := newFakeMemcached(t)
	client, err := DialMemcached(remoteConfig("mc", config.KindMemcached, mc.Addr()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = client.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, client.Set(ctx, "k", []byte("v"), 0), context.Canceled)
	assert.NoError(t, client.Close())
}

func TestMemcachedKey(t *testing.T) {
	assert.Equal(t, "plain:key", memcachedKey("plain:key"))

	long := strings.Repeat("x", maxKeyLength+1)
	hashed := memcachedKey(long)
	assert.True(t, strings.HasPrefix(hashed, hashedKeyPrefix))
	assert.Equal(t, hashed, memcachedKey(long), "hashing is stable")
	assert.True(t, legalKey(hashed))

	for _, bad := range []string{"", "with space", "tab\tkey", "new\nline", "del\x7f"} {
		assert.False(t, legalKey(bad), "%q", bad)
		assert.True(t, legalKey(memcachedKey(bad)))
	}
	assert.NotEqual(t, memcachedKey("with space"), memcachedKey("with  space"))
}

func TestMemcachedExpiration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.Equal(t, int32(0), expiration(0, now))
	assert.Equal(t, int32(0), expiration(-time.Second, now))
	assert.Equal(t, int32(1), expiration(time.Millisecond, now))
	assert.Equal(t, int32(30), expiration(30*time.Second, now))
	assert.Equal(t, int32(maxRelativeExpiration), expiration(30*24*time.Hour, now))

	long := 31 * 24 * time.Hour
	assert.Equal(t, int32(now.Add(long).Unix()), expiration(long, now))
}
