package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// BoundedCache is the in-process store behind a local cache. Implementations
// must be safe for concurrent use.
type BoundedCache interface {
	Get(key any) (any, bool)
	Add(key, value any)
	Remove(key any)
	Len() int
	Purge()
}

// ContainsOrAdder is implemented by a [BoundedCache] that can add a key only
// when it is absent in one atomic step. Without it the local cache falls back
// to a lookup followed by an add.
type ContainsOrAdder interface {
	// ContainsOrAdd adds the entry unless key is present and reports whether it was.
	ContainsOrAdd(key, value any) bool
}

type lruStore struct {
	mu  sync.Mutex
	lru *expirable.LRU[any, any]
}

var (
	_ BoundedCache    = (*lruStore)(nil)
	_ ContainsOrAdder = (*lruStore)(nil)
)

// NewLRU returns a [BoundedCache] holding at most maxEntries entries (0 means
// unbounded), each of which expires writeExpiry after it was written (0 means
// never). Reads do not extend an entry's lifetime.
//
// A positive writeExpiry starts a background sweep goroutine inside
// golang-lru that has no stop method and outlives the store, so build one
// store per cache configuration rather than one per request. With a zero
// writeExpiry no goroutine is started.
func NewLRU(maxEntries int, writeExpiry time.Duration) BoundedCache {
	return &lruStore{lru: expirable.NewLRU[any, any](maxEntries, nil, writeExpiry)}
}

func (s *lruStore) Get(key any) (any, bool) {
	return s.lru.Get(key)
}

func (s *lruStore) Add(key, value any) {
	s.mu.Lock()
	s.lru.Add(key, value)
	s.mu.Unlock()
}

// ContainsOrAdd serialises against Add so that no write slips in between the
// lookup and the insert.
func (s *lruStore) ContainsOrAdd(key, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lru.Peek(key); ok {
		return true
	}
	s.lru.Add(key, value)
	return false
}

func (s *lruStore) Remove(key any) {
	s.lru.Remove(key)
}

func (s *lruStore) Len() int {
	return s.lru.Len()
}

func (s *lruStore) Purge() {
	s.lru.Purge()
}
