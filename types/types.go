// Package types maps configured type names onto Go runtime types so that a
// cache can reject keys and values of the wrong type before touching its
// backend.
package types

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrUnknownType is returned by [Registry.Lookup] for names that were never registered.
var ErrUnknownType = errors.New("unknown type")

// Type describes the key or value type configured for a cache.
type Type struct {
	name  string
	rtype reflect.Type
}

// Name returns the configured name of the type.
func (t Type) Name() string {
	return t.name
}

// Reflect returns the underlying runtime type.
func (t Type) Reflect() reflect.Type {
	return t.rtype
}

// IsZero reports whether t is the zero Type.
func (t Type) IsZero() bool {
	return t.rtype == nil
}

func (t Type) String() string {
	if t.rtype == nil {
		return "<nil>"
	}
	if t.name == "" {
		return t.rtype.String()
	}
	return t.name
}

// Accepts reports whether v may be used where t is expected. A nil value is never accepted.
func (t Type) Accepts(v any) bool {
	if t.rtype == nil || v == nil {
		return false
	}
	return reflect.TypeOf(v).AssignableTo(t.rtype)
}

// AcceptsType reports whether values of other may be used where t is expected.
func (t Type) AcceptsType(other Type) bool {
	if t.rtype == nil || other.rtype == nil {
		return false
	}
	return other.rtype.AssignableTo(t.rtype)
}

// Equal reports whether t and other describe the same runtime type.
func (t Type) Equal(other Type) bool {
	return t.rtype == other.rtype
}

// IsString reports whether the type is of string kind.
func (t Type) IsString() bool {
	return t.rtype != nil && t.rtype.Kind() == reflect.String
}

// Comparable reports whether values of the type can be used as map keys.
func (t Type) Comparable() bool {
	return t.rtype != nil && t.rtype.Comparable()
}

// Serializable reports whether values of the type survive an encode and
// decode round trip unchanged. Interface kinds do not: the codec decodes them
// into its own generic types, so an int comes back as int8 and a struct as a
// map.
func (t Type) Serializable() bool {
	if t.rtype == nil {
		return false
	}
	return serializable(t.rtype, make(map[reflect.Type]bool))
}

func serializable(rt reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[rt] {
		return true
	}
	seen[rt] = true
	switch rt.Kind() {
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer, reflect.Uintptr,
		reflect.Interface:
		return false
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return serializable(rt.Elem(), seen)
	case reflect.Map:
		return serializable(rt.Key(), seen) && serializable(rt.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			if !serializable(f.Type, seen) {
				return false
			}
		}
	}
	return true
}

// Of returns an anonymous Type for the runtime type of v.
func Of(v any) Type {
	if v == nil {
		return Type{}
	}
	return Type{rtype: reflect.TypeOf(v)}
}

// For returns a Type for T named name.
func For[T any](name string) Type {
	return Type{name: name, rtype: reflect.TypeFor[T]()}
}

// NameOf returns a printable name for the runtime type of v.
func NameOf(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}

// Registry resolves configured type names. Lookups are case-insensitive.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry returns a Registry seeded with the built-in types.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]Type)}
	r.add(For[string]("string"))
	r.add(For[bool]("bool"))
	r.add(For[int]("int"))
	r.add(For[int8]("int8"))
	r.add(For[int16]("int16"))
	r.add(For[int32]("int32"))
	r.add(For[int64]("int64"))
	r.add(For[uint]("uint"))
	r.add(For[uint8]("uint8"))
	r.add(For[uint16]("uint16"))
	r.add(For[uint32]("uint32"))
	r.add(For[uint64]("uint64"))
	r.add(For[float32]("float32"))
	r.add(For[float64]("float64"))
	r.add(For[[]byte]("bytes"))
	r.add(For[time.Time]("time"))
	r.add(For[time.Duration]("duration"))
	r.add(For[any]("any"))
	return r
}

func (r *Registry) add(t Type) {
	r.types[strings.ToLower(t.name)] = t
}

// Register makes rt available under name, replacing any previous registration.
func (r *Registry) Register(name string, rt reflect.Type) Type {
	t := Type{name: name, rtype: rt}
	r.mu.Lock()
	r.add(t)
	r.mu.Unlock()
	return t
}

// Lookup returns the Type registered under name.
func (r *Registry) Lookup(name string) (Type, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	t, ok := r.types[key]
	r.mu.RUnlock()
	if !ok {
		return Type{}, errors.Wrapf(ErrUnknownType, "%q", name)
	}
	return t, nil
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
