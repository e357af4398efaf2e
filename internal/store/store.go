// Package store provides a generic, thread-safe, in-memory keyed store with
// optional expiry. It backs server-side hold sessions and the webhook twin's
// ticket table.
package store

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/smoldrop/redeem/internal/clock"
)

type entry[T any] struct {
	item      T
	expiresAt time.Time // zero means never
}

// Store holds items of type T keyed by string. Items written with a TTL
// become invisible once the clock passes their deadline and are removed by
// Sweep.
type Store[T any] struct {
	mu    sync.RWMutex
	items map[string]entry[T]
	order []string // insertion order for deterministic listing
	ttl   time.Duration
	clock clock.Clock
}

// Option configures a Store.
type Option func(*options)

type options struct {
	ttl   time.Duration
	clock clock.Clock
}

// WithTTL expires items d after they were last written.
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

// WithClock sets the time source used for expiry.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates an empty Store.
func New[T any](opts ...Option) *Store[T] {
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[T]{
		items: make(map[string]entry[T]),
		order: make([]string, 0),
		ttl:   o.ttl,
		clock: o.clock,
	}
}

func (s *Store[T]) expired(e entry[T], now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Set stores an item. Overwriting keeps the original insertion position and
// refreshes the TTL.
func (s *Store[T]) Set(id string, item T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; !exists {
		s.order = append(s.order, id)
	}
	e := entry[T]{item: item}
	s.refresh(&e, s.clock.Now())
	s.items[id] = e
}

// Get retrieves a live item by ID.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	if !ok || s.expired(e, s.clock.Now()) {
		var zero T
		return zero, false
	}
	return e.item, true
}

// Update applies fn to the item under the write lock and refreshes its TTL.
// It returns false if the item is missing or expired.
func (s *Store[T]) Update(id string, fn func(T) T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	e, ok := s.items[id]
	if !ok || s.expired(e, now) {
		return false
	}
	e.item = fn(e.item)
	s.refresh(&e, now)
	s.items[id] = e
	return true
}

// Touch returns a live item and refreshes its TTL in one step. A concurrent
// Delete either wins, and Touch misses, or runs after it.
func (s *Store[T]) Touch(id string) (T, bool) {
	var item T
	ok := s.Update(id, func(v T) T {
		item = v
		return v
	})
	return item, ok
}

func (s *Store[T]) refresh(e *entry[T], now time.Time) {
	if s.ttl > 0 {
		e.expiresAt = now.Add(s.ttl)
	}
}

// Delete removes an item and returns it.
func (s *Store[T]) Delete(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	s.removeLocked(id)
	return e.item, true
}

func (s *Store[T]) removeLocked(id string) {
	delete(s.items, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// List returns live items in insertion order.
func (s *Store[T]) List() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock.Now()
	result := make([]T, 0, len(s.order))
	for _, id := range s.order {
		if e := s.items[id]; !s.expired(e, now) {
			result = append(result, e.item)
		}
	}
	return result
}

// Count returns the number of live items.
func (s *Store[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock.Now()
	n := 0
	for _, e := range s.items {
		if !s.expired(e, now) {
			n++
		}
	}
	return n
}

// Sweep removes expired items and returns them so the caller can release
// any resources they hold.
func (s *Store[T]) Sweep() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	var evicted []T
	for _, id := range append([]string(nil), s.order...) {
		if e := s.items[id]; s.expired(e, now) {
			evicted = append(evicted, e.item)
			s.removeLocked(id)
		}
	}
	return evicted
}

// Reset clears all items and returns what was held.
func (s *Store[T]) Reset() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].item)
	}
	s.items = make(map[string]entry[T])
	s.order = make([]string, 0)
	return out
}

// Snapshot returns live items keyed by ID.
func (s *Store[T]) Snapshot() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock.Now()
	snapshot := make(map[string]T, len(s.items))
	for k, e := range s.items {
		if !s.expired(e, now) {
			snapshot[k] = e.item
		}
	}
	return snapshot
}

// LoadSnapshot replaces all items. IDs are sorted to keep listing
// deterministic.
func (s *Store[T]) LoadSnapshot(snapshot map[string]T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]entry[T], len(snapshot))
	s.order = make([]string, 0, len(snapshot))
	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = s.clock.Now().Add(s.ttl)
	}
	for k, v := range snapshot {
		s.items[k] = entry[T]{item: v, expiresAt: expiresAt}
		s.order = append(s.order, k)
	}
	sort.Strings(s.order)
}

// MarshalJSON serializes the live items map.
func (s *Store[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// UnmarshalJSON replaces the store contents from a JSON object.
func (s *Store[T]) UnmarshalJSON(data []byte) error {
	var snapshot map[string]T
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	s.LoadSnapshot(snapshot)
	return nil
}
