package cache

import (
	"reflect"
	"sort"

	"github.com/cockroachdb/errors"
)

// Registry maps cache ids to built caches. It is read-only once built.
type Registry struct {
	caches map[string]Cache
	ids    []string
}

// NewRegistry indexes caches by id. Duplicate ids are an error.
func NewRegistry(caches ...Cache) (*Registry, error) {
	r := &Registry{caches: make(map[string]Cache, len(caches))}
	for _, c := range caches {
		if _, dup := r.caches[c.ID()]; dup {
			return nil, errors.Wrapf(ErrInitialization, "duplicate cache id [%s]", c.ID())
		}
		r.caches[c.ID()] = c
		r.ids = append(r.ids, c.ID())
	}
	sort.Strings(r.ids)
	return r, nil
}

// Get returns the cache registered under id.
func (r *Registry) Get(id string) (Cache, bool) {
	c, ok := r.caches[id]
	return c, ok
}

// Failover returns the cache registered under id when it is a [*FailoverCache].
func (r *Registry) Failover(id string) (*FailoverCache, bool) {
	c, ok := r.caches[id].(*FailoverCache)
	return c, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

func (r *Registry) Len() int {
	return len(r.caches)
}

// Close closes every cache, returning the combined errors.
func (r *Registry) Close() error {
	var err error
	for _, id := range r.ids {
		err = errors.CombineErrors(err, r.caches[id].Close())
	}
	return err
}

// Lookup returns the cache registered under id as a [Typed] view. It reports
// false when there is no such cache or when its key and value types are not
// exactly K and V.
func Lookup[K any, V any](r *Registry, id string) (*Typed[K, V], bool) {
	c, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	if c.KeyType().Reflect() != reflect.TypeFor[K]() || c.ValueType().Reflect() != reflect.TypeFor[V]() {
		return nil, false
	}
	return &Typed[K, V]{cache: c}, true
}
