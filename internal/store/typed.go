package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/elliotchance/orderedmap/v2"
)

// TypedStore is a generic, concurrency-safe, in-memory key-value store.
// Each TypedStore has its own RWMutex, giving per-type locking granularity.
// Entries keep insertion order, so Values() is deterministic and placement
// scans always visit candidates oldest-registered first.
// It tracks when data was last modified for staleness detection.
type TypedStore[T any] struct {
	mu          sync.RWMutex
	items       *orderedmap.OrderedMap[string, T]
	lastUpdated atomic.Int64 // UnixMilli timestamp of last Set/Delete
}

// NewTypedStore creates a new, empty TypedStore.
func NewTypedStore[T any]() *TypedStore[T] {
	s := &TypedStore[T]{
		items: orderedmap.NewOrderedMap[string, T](),
	}
	s.lastUpdated.Store(time.Now().UnixMilli())
	return s
}

// Set inserts or updates a value for the given key. Updating an existing
// key keeps its original position.
func (s *TypedStore[T]) Set(key string, value T) {
	s.mu.Lock()
	s.items.Set(key, value)
	s.mu.Unlock()
	s.lastUpdated.Store(time.Now().UnixMilli())
}

// Delete removes a key from the store. No-op if the key doesn't exist.
func (s *TypedStore[T]) Delete(key string) {
	s.mu.Lock()
	s.items.Delete(key)
	s.mu.Unlock()
	s.lastUpdated.Store(time.Now().UnixMilli())
}

// LastUpdated returns the UnixMilli timestamp of the last modification.
func (s *TypedStore[T]) LastUpdated() int64 {
	return s.lastUpdated.Load()
}

// Get retrieves a value by key. Returns the value and true if found,
// or the zero value and false if not.
func (s *TypedStore[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	v, ok := s.items.Get(key)
	s.mu.RUnlock()
	return v, ok
}

// Len returns the number of items in the store.
func (s *TypedStore[T]) Len() int {
	s.mu.RLock()
	n := s.items.Len()
	s.mu.RUnlock()
	return n
}

// Snapshot returns a shallow copy of all items. Mutations to the returned
// map do not affect the store.
func (s *TypedStore[T]) Snapshot() map[string]T {
	s.mu.RLock()
	cp := make(map[string]T, s.items.Len())
	for el := s.items.Front(); el != nil; el = el.Next() {
		cp[el.Key] = el.Value
	}
	s.mu.RUnlock()
	return cp
}

// Values returns all values as a slice, in insertion order.
func (s *TypedStore[T]) Values() []T {
	s.mu.RLock()
	vals := make([]T, 0, s.items.Len())
	for el := s.items.Front(); el != nil; el = el.Next() {
		vals = append(vals, el.Value)
	}
	s.mu.RUnlock()
	return vals
}

// Keys returns all keys, in insertion order.
func (s *TypedStore[T]) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, s.items.Len())
	for el := s.items.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Key)
	}
	s.mu.RUnlock()
	return keys
}

// Clear removes all items from the store.
func (s *TypedStore[T]) Clear() {
	s.mu.Lock()
	s.items = orderedmap.NewOrderedMap[string, T]()
	s.mu.Unlock()
}
