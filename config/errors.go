package config

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrMissingField    = errors.New("missing cache property")
	ErrUnsupportedKind = errors.New("unsupported backend kind")
	ErrInvalidField    = errors.New("invalid cache property")
	ErrInvalidFallback = errors.New("invalid fallback")
)

// MissingFieldError is returned when a required property is absent for a cache.
type MissingFieldError struct {
	ID    string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("property [%s] missing for cache with ID [%s]", e.Field, e.ID)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// UnsupportedKindError is returned when the type property names no known backend.
type UnsupportedKindError struct {
	ID    string
	Value string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported backend kind [%s] for cache with ID [%s]", e.Value, e.ID)
}

func (e *UnsupportedKindError) Is(target error) bool {
	return target == ErrUnsupportedKind
}

// InvalidFieldError is returned when a property is present but cannot be parsed.
type InvalidFieldError struct {
	ID    string
	Field string
	Value any
	Cause error
}

func (e *InvalidFieldError) Error() string {
	msg := fmt.Sprintf("invalid value [%v] for property [%s] of cache with ID [%s]", e.Value, e.Field, e.ID)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *InvalidFieldError) Is(target error) bool {
	return target == ErrInvalidField
}

func (e *InvalidFieldError) Unwrap() error {
	return e.Cause
}

func invalidFallback(id, format string, args ...any) error {
	return errors.Wrapf(ErrInvalidFallback, "cache with ID [%s]: "+format, append([]any{id}, args...)...)
}
