package cache

import (
	"context"
	"reflect"
	"time"

	"github.com/agentuity/go-dcache/types"
	"github.com/vmihailenco/msgpack/v5"
)

// RemoteClient is the operation surface of a remote cache service. A miss is
// reported as found == false with a nil error; any returned error is treated
// as the service being unavailable.
type RemoteClient interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value, expiring it after ttl when ttl > 0.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent stores value only when key is absent and reports whether it did.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// remoteBackend msgpack-encodes values for a RemoteClient. Expiry and
// put-if-absent are native to every remote service we support.
type remoteBackend struct {
	client       RemoteClient
	valueType    types.Type
	queryTimeout time.Duration
	writeExpiry  time.Duration
}

func (b *remoteBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if b.queryTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, b.queryTimeout)
}

// encodeKey passes string keys through and msgpack-encodes anything else.
func encodeKey(key any) (string, error) {
	if v := reflect.ValueOf(key); v.Kind() == reflect.String {
		return v.String(), nil
	}
	buf, err := msgpack.Marshal(key)
	if err != nil {
		return "", codecError(err, "encoding key of type %T", key)
	}
	return string(buf), nil
}

func (b *remoteBackend) decode(data []byte) (any, error) {
	ptr := reflect.New(b.valueType.Reflect())
	if err := msgpack.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, codecError(err, "decoding %s value", b.valueType)
	}
	return ptr.Elem().Interface(), nil
}

func encodeValue(value any) ([]byte, error) {
	buf, err := msgpack.Marshal(value)
	if err != nil {
		return nil, codecError(err, "encoding value of type %T", value)
	}
	return buf, nil
}

func (b *remoteBackend) get(ctx context.Context, key any) (any, bool, error) {
	k, err := encodeKey(key)
	if err != nil {
		return nil, false, err
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	data, found, err := b.client.Get(qctx, k)
	if err != nil || !found {
		return nil, false, err
	}
	val, err := b.decode(data)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (b *remoteBackend) set(ctx context.Context, key, value any, ttl time.Duration, ifAbsent bool) (bool, error) {
	k, err := encodeKey(key)
	if err != nil {
		return false, err
	}
	data, err := encodeValue(value)
	if err != nil {
		return false, err
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	if ifAbsent {
		return b.client.SetIfAbsent(qctx, k, data, ttl)
	}
	if err := b.client.Set(qctx, k, data, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (b *remoteBackend) put(ctx context.Context, key, value any) error {
	_, err := b.set(ctx, key, value, b.writeExpiry, false)
	return err
}

func (b *remoteBackend) putIfAbsent(ctx context.Context, key, value any) (bool, error) {
	return b.set(ctx, key, value, b.writeExpiry, true)
}

func (b *remoteBackend) putWithExpiry(ctx context.Context, key, value any, ttl time.Duration) error {
	_, err := b.set(ctx, key, value, ttl, false)
	return err
}

func (b *remoteBackend) putIfAbsentWithExpiry(ctx context.Context, key, value any, ttl time.Duration) (bool, error) {
	return b.set(ctx, key, value, ttl, true)
}

func (b *remoteBackend) invalidate(ctx context.Context, key any) error {
	k, err := encodeKey(key)
	if err != nil {
		return err
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	return b.client.Delete(qctx, k)
}

func (b *remoteBackend) close() error {
	return b.client.Close()
}
