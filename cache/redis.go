package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-dcache/config"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type redisClient struct {
	client redis.UniversalClient
	owned  bool
}

var _ RemoteClient = (*redisClient)(nil)

// NewRedisClient adapts an existing go-redis client. The caller owns the
// client lifecycle, Close is a no-op.
func NewRedisClient(client redis.UniversalClient) RemoteClient {
	return &redisClient{client: client}
}

// DialRedis opens a client for cfg.Address() using cfg.Timeout for dialing,
// reads and writes. The returned client is closed with the cache.
func DialRedis(cfg *config.CacheConfig) (RemoteClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address(),
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	return &redisClient{client: client, owned: true}, nil
}

func (c *redisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *redisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, max(ttl, 0)).Err()
}

func (c *redisClient) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, max(ttl, 0)).Result()
}

func (c *redisClient) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *redisClient) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}
