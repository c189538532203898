package cache

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrInitialization   = errors.New("cache initialization failed")
	ErrInvalidKeyType   = errors.New("invalid key type")
	ErrInvalidValueType = errors.New("invalid value type")
)

// InitializationError is returned when a cache cannot be built or wired.
type InitializationError struct {
	ID     string
	Reason string
	Cause  error
}

func (e *InitializationError) Error() string {
	msg := fmt.Sprintf("cannot initialise cache with ID [%s]: %s", e.ID, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *InitializationError) Is(target error) bool {
	return target == ErrInitialization
}

func (e *InitializationError) Unwrap() error {
	return e.Cause
}

func initError(id, format string, args ...any) error {
	return &InitializationError{ID: id, Reason: fmt.Sprintf(format, args...)}
}

// InvalidKeyTypeError is returned before any backend I/O when a key is not
// assignable to the configured key type.
type InvalidKeyTypeError struct {
	ID       string
	Provided string
	Expected string
}

func (e *InvalidKeyTypeError) Error() string {
	return fmt.Sprintf("invalid key type for cache [%s]: provided [%s], expected [%s]", e.ID, e.Provided, e.Expected)
}

func (e *InvalidKeyTypeError) Is(target error) bool {
	return target == ErrInvalidKeyType
}

// InvalidValueTypeError is returned before any backend I/O when a value is not
// assignable to the configured value type.
type InvalidValueTypeError struct {
	ID       string
	Provided string
	Expected string
}

func (e *InvalidValueTypeError) Error() string {
	return fmt.Sprintf("invalid value type for cache [%s]: provided [%s], expected [%s]", e.ID, e.Provided, e.Expected)
}

func (e *InvalidValueTypeError) Is(target error) bool {
	return target == ErrInvalidValueType
}

// IsTypeError reports whether err is a key or value type mismatch.
func IsTypeError(err error) bool {
	return errors.Is(err, ErrInvalidKeyType) || errors.Is(err, ErrInvalidValueType)
}

// LoaderError wraps an error returned by a [Loader].
type LoaderError struct {
	ID    string
	Key   any
	Cause error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("loading key [%v] for cache [%s]: %v", e.Key, e.ID, e.Cause)
}

func (e *LoaderError) Unwrap() error {
	return e.Cause
}
