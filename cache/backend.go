package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// backend is what each cache kind implements. Keys arrive type-checked and
// prefixed; returned errors are transport, timeout or codec failures.
type backend interface {
	get(ctx context.Context, key any) (any, bool, error)
	put(ctx context.Context, key, value any) error
	putIfAbsent(ctx context.Context, key, value any) (bool, error)
	putWithExpiry(ctx context.Context, key, value any, ttl time.Duration) error
	putIfAbsentWithExpiry(ctx context.Context, key, value any, ttl time.Duration) (bool, error)
	invalidate(ctx context.Context, key any) error
	close() error
}

// errCodec marks encode and decode failures. They say nothing about the
// health of the backend, so they are never retried against a fallback.
var errCodec = errors.New("cache codec failure")

func codecError(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), errCodec)
}

func isCodecError(err error) bool {
	return errors.Is(err, errCodec)
}
