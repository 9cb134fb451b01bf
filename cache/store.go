package cache

import (
	"sync"
)

// store is a key→slot mapping guarded by a structural lock. The lock covers
// only insertion and removal of slots; slot contents have their own locks.
// E is a pointer type in practice (comparable for identity checks).
type store[K comparable, E comparable] struct {
	mu sync.RWMutex
	m  map[K]E
}

func newStore[K comparable, E comparable]() *store[K, E] {
	return &store[K, E]{m: make(map[K]E)}
}

// getOrInsert returns the slot for k, creating it via mk if absent.
// A read-preferring double-checked strategy: the common hit path takes only
// the read lock; insertion re-checks under the write lock so at most one
// slot is ever created per key, even under contention.
func (s *store[K, E]) getOrInsert(k K, mk func() E) (e E, inserted bool) {
	s.mu.RLock()
	e, ok := s.m[k]
	s.mu.RUnlock()
	if ok {
		return e, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[k]; ok {
		return e, false
	}
	e = mk()
	s.m[k] = e
	return e, true
}

// remove unmaps k and returns the removed slot.
func (s *store[K, E]) remove(k K) (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[k]
	if ok {
		delete(s.m, k)
	}
	return e, ok
}

// removeExact unmaps k only while it still maps to e. Used when the caller
// decided the slot's fate outside the lock and a newer slot may have taken
// the key since.
func (s *store[K, E]) removeExact(k K, e E) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[k]
	if !ok || cur != e {
		return false
	}
	delete(s.m, k)
	return true
}

// removeWhere unmaps and returns the first slot matching pred.
func (s *store[K, E]) removeWhere(pred func(E) bool) (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.m {
		if pred(e) {
			delete(s.m, k)
			return e, true
		}
	}
	var zero E
	return zero, false
}

// removeIf unmaps every slot matching pred under one exclusive section and
// returns them for out-of-band disposal.
func (s *store[K, E]) removeIf(pred func(E) bool) []E {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []E
	for k, e := range s.m {
		if pred(e) {
			delete(s.m, k)
			out = append(out, e)
		}
	}
	return out
}

// snapshot returns the current slots. The slice is private to the caller;
// the slots it points to are shared.
func (s *store[K, E]) snapshot() []E {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]E, 0, len(s.m))
	for _, e := range s.m {
		out = append(out, e)
	}
	return out
}

// clear atomically swaps out the whole mapping and returns the old slots so
// the caller can dispose them without holding the structural lock.
func (s *store[K, E]) clear() []E {
	s.mu.Lock()
	old := s.m
	s.m = make(map[K]E)
	s.mu.Unlock()

	out := make([]E, 0, len(old))
	for _, e := range old {
		out = append(out, e)
	}
	return out
}

// len returns the number of resident slots.
func (s *store[K, E]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
