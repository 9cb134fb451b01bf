package cache

import (
	"sync"
	"time"
)

// entry is the slot holding one cached value for one key. It owns the
// create-or-refresh logic behind its own lock; the store that maps keys to
// entries has a separate, coarser lock. Lock order is always store → entry.
type entry[K comparable, V any] struct {
	key K

	// ---- guarded by mu ----
	mu    sync.RWMutex
	val   V
	ready bool  // value has been materialized
	exp   int64 // absolute UnixNano deadline; 0 = no expiry
}

func newEntry[K comparable, V any](k K) *entry[K, V] {
	return &entry[K, V]{key: k}
}

// value returns the cached value, materializing it through factory on first
// access or after the deadline passed. created reports whether this call
// invoked the factory.
//
// Fast path: a read lock and no factory call. Slow path: the exclusive entry
// lock with a re-check, so the factory runs at most once per miss even under
// contention, and never concurrently for the same key. A factory error
// leaves the entry non-materialized; the next call retries.
//
// retire, when non-nil, receives the previous value before the slot is
// reused for a refresh (TTL expiry replacement).
func (e *entry[K, V]) value(
	factory func(K) (V, error),
	ttl time.Duration,
	now func() int64,
	retire func(K, V),
) (v V, created bool, err error) {
	e.mu.RLock()
	if e.ready && !deadlinePassed(e.exp, now) {
		v = e.val
		e.mu.RUnlock()
		return v, false, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have won the race while we waited for the lock.
	if e.ready {
		if !deadlinePassed(e.exp, now) {
			return e.val, false, nil
		}
		// Expired: retire the old value before the slot is reused.
		old := e.val
		var zero V
		e.val, e.ready = zero, false
		if retire != nil {
			retire(e.key, old)
		}
	}

	v, err = factory(e.key)
	if err != nil {
		var zero V
		return zero, false, err
	}
	e.val = v
	e.ready = true
	if ttl > 0 {
		e.exp = now() + int64(ttl)
	} else {
		e.exp = 0
	}
	return v, true, nil
}

// take removes and returns the materialized value, leaving the entry empty.
// Extraction is exclusive, so a value instance can only ever be retired once:
// either by the refresh path or by whoever took it, never both.
func (e *entry[K, V]) take() (V, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.val, e.ready
	var zero V
	e.val, e.ready, e.exp = zero, false, 0
	return v, ok
}

// canFlush reports whether a sweep may prune this entry: either the value
// expired, or it was never materialized (a failed or abandoned creation).
func (e *entry[K, V]) canFlush(nowNano int64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.ready {
		return true
	}
	return e.exp != 0 && nowNano > e.exp
}

// deadline returns the entry's expiry instant; ok is false for entries that
// are not materialized or never expire.
func (e *entry[K, V]) deadline() (int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exp, e.ready && e.exp != 0
}

// holds reports whether the entry currently carries v (identity via same,
// or interface equality when same is nil).
func (e *entry[K, V]) holds(v V, same func(a, b V) bool) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.ready {
		return false
	}
	if same != nil {
		return same(e.val, v)
	}
	return any(e.val) == any(v)
}

func deadlinePassed(exp int64, now func() int64) bool {
	return exp != 0 && now() > exp
}

// disposeValue invokes the Disposer contract if the value implements it.
func disposeValue[V any](v V) {
	if d, ok := any(v).(Disposer); ok {
		d.Dispose()
	}
}
