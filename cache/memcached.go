package cache

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/agentuity/go-dcache/config"
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

const (
	// memcached treats expirations above this many seconds as unix timestamps
	maxRelativeExpiration = 30 * 24 * 60 * 60
	maxKeyLength          = 250
	hashedKeyPrefix       = "xxh:"
)

type memcachedClient struct {
	client *memcache.Client
}

var _ RemoteClient = (*memcachedClient)(nil)

// NewMemcachedClient adapts an existing gomemcache client.
func NewMemcachedClient(client *memcache.Client) RemoteClient {
	return &memcachedClient{client: client}
}

// DialMemcached returns a client for cfg.Address() with cfg.Timeout as its
// socket timeout. gomemcache connects lazily, so this never fails on an
// unreachable server.
func DialMemcached(cfg *config.CacheConfig) (RemoteClient, error) {
	client := memcache.New(cfg.Address())
	client.Timeout = cfg.Timeout
	return &memcachedClient{client: client}, nil
}

// memcachedKey returns key unchanged when memcached accepts it, otherwise a
// stable hash of it.
func memcachedKey(key string) string {
	if legalKey(key) {
		return key
	}
	return hashedKeyPrefix + strconv.FormatUint(xxhash.Sum64String(key), 16)
}

func legalKey(key string) bool {
	if key == "" || len(key) > maxKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

// expiration converts ttl to memcached's expiration field: whole seconds,
// rounded up, switching to an absolute unix time past thirty days.
func expiration(ttl time.Duration, now time.Time) int32 {
	if ttl <= 0 {
		return 0
	}
	secs := int64(math.Ceil(ttl.Seconds()))
	if secs > maxRelativeExpiration {
		return int32(now.Add(ttl).Unix())
	}
	return int32(secs)
}

func (c *memcachedClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	item, err := c.client.Get(memcachedKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item.Value, true, nil
}

func (c *memcachedClient) item(key string, value []byte, ttl time.Duration) *memcache.Item {
	return &memcache.Item{Key: memcachedKey(key), Value: value, Expiration: expiration(ttl, time.Now())}
}

func (c *memcachedClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.client.Set(c.item(key, value, ttl))
}

func (c *memcachedClient) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := c.client.Add(c.item(key, value, ttl))
	if errors.Is(err, memcache.ErrNotStored) {
		return false, nil
	}
	return err == nil, err
}

func (c *memcachedClient) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.client.Delete(memcachedKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Close is a no-op: gomemcache keeps only idle connections, which are
// dropped with the client.
func (c *memcachedClient) Close() error {
	return nil
}
