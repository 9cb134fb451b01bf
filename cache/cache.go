package cache

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/objcache/internal/util"
)

// ErrClosed is returned by operations on a cache that has been closed.
// The check is advisory: it is best-effort under a race with a concurrent
// Close, not a safety guarantee.
var ErrClosed = errorsNew("cache: closed")

// lightweight local errors.New to avoid importing std 'errors' everywhere
func errorsNew(s string) error { return &strErr{s} }

type strErr struct{ s string }

func (e *strErr) Error() string { return e.s }

// ttlCache composes the entry store with the expiry scheduler.
// All methods are safe for concurrent use by multiple goroutines.
type ttlCache[K comparable, V any] struct {
	store *store[K, *entry[K, V]]
	sched *scheduler
	opt   Options[K, V]

	closed      atomic.Bool
	autoFlush   atomic.Bool
	autoDispose atomic.Bool

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_       util.CacheLinePad
	hits    util.PaddedAtomicInt64
	misses  util.PaddedAtomicInt64
	flushed util.PaddedAtomicUint64
}

// New constructs a TTL cache with the provided Options.
// Options.Factory is required; a nil factory panics here, synchronously,
// before any lock is taken.
// Defaults:
//   - nil Metrics -> NoopMetrics
//   - nil OnError -> standard log
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.Factory == nil {
		panic("Factory must be non-nil")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.OnError == nil {
		opt.OnError = func(err error) { log.Printf("cache: %v", err) }
	}

	c := &ttlCache[K, V]{
		store: newStore[K, *entry[K, V]](),
		opt:   opt,
	}
	c.autoDispose.Store(opt.AutoDispose)
	c.sched = newScheduler(c.now, func() { c.Flush() }, c.nextDue, opt.OnError)
	if opt.AutoFlush {
		c.autoFlush.Store(true)
		// Nothing to arm yet: the store is empty, nextDue is "never".
	}

	// return pointer-to-impl as the interface (avoids unexported-return lint)
	return c
}

// ---- Cache[K,V] implementation ----

// Get returns the value for k, creating or refreshing it via the Factory.
func (c *ttlCache[K, V]) Get(k K) (V, error) {
	if c.closed.Load() {
		var zero V
		return zero, ErrClosed
	}

	e, _ := c.store.getOrInsert(k, func() *entry[K, V] { return newEntry[K, V](k) })
	v, created, err := e.value(c.opt.Factory, c.opt.TTL, c.now, c.retire)
	if err != nil {
		c.misses.Add(1)
		c.opt.Metrics.Miss()
		var zero V
		return zero, err
	}

	if created {
		c.misses.Add(1)
		c.opt.Metrics.Miss()
		c.opt.Metrics.Size(c.store.len())
		// A new deadline may now be the earliest one.
		c.reschedule()
	} else {
		c.hits.Add(1)
		c.opt.Metrics.Hit()
	}
	return v, nil
}

// Flush removes every entry whose can-flush predicate holds (expired, or
// never materialized), disposes the removed values outside the structural
// lock, re-arms the scheduler, and fires OnFlush iff anything was removed.
func (c *ttlCache[K, V]) Flush() int {
	if c.closed.Load() {
		return 0
	}

	now := c.now()
	victims := c.store.removeIf(func(e *entry[K, V]) bool { return e.canFlush(now) })
	if len(victims) > 0 {
		c.opt.Metrics.Size(c.store.len())
		for _, e := range victims {
			c.evict(e, EvictExpired, false)
		}
	}
	c.reschedule()

	if len(victims) > 0 {
		c.flushed.Add(uint64(len(victims)))
		if cb := c.opt.OnFlush; cb != nil {
			cb(len(victims))
		}
	}
	return len(victims)
}

// Clear removes all entries. The store is observably empty on return;
// disposal of the removed values runs on its own goroutine so a slow
// Disposer cannot stall the caller.
func (c *ttlCache[K, V]) Clear() {
	if c.closed.Load() {
		return
	}

	old := c.store.clear()
	c.opt.Metrics.Size(0)
	c.reschedule()
	if len(old) == 0 {
		return
	}
	go func() {
		for _, e := range old {
			c.evict(e, EvictCleared, false)
		}
	}()
}

// Delete removes the entry for k if present.
func (c *ttlCache[K, V]) Delete(k K) bool {
	if c.closed.Load() {
		return false
	}
	e, ok := c.store.remove(k)
	if !ok {
		return false
	}
	c.opt.Metrics.Size(c.store.len())
	c.reschedule()
	c.evict(e, EvictDeleted, false)
	return true
}

// DeleteValue removes the first entry holding v (linear scan, identity per
// Options.Same).
func (c *ttlCache[K, V]) DeleteValue(v V) bool {
	if c.closed.Load() {
		return false
	}
	e, ok := c.store.removeWhere(func(e *entry[K, V]) bool { return e.holds(v, c.opt.Same) })
	if !ok {
		return false
	}
	c.opt.Metrics.Size(c.store.len())
	c.reschedule()
	c.evict(e, EvictDeleted, false)
	return true
}

// Len returns the number of resident entries.
func (c *ttlCache[K, V]) Len() int {
	return c.store.len()
}

// AutoFlush reports whether the sweep scheduler is active.
func (c *ttlCache[K, V]) AutoFlush() bool { return c.autoFlush.Load() }

// SetAutoFlush toggles the sweep scheduler. Enabling arms it at the earliest
// deadline immediately; disabling sets the due time to "never". A redundant
// set is a no-op.
func (c *ttlCache[K, V]) SetAutoFlush(on bool) {
	if c.closed.Load() {
		return
	}
	if !c.autoFlush.CompareAndSwap(!on, on) {
		return
	}
	// nextDue observes the new flag value, so one recompute covers both
	// directions: it arms at the earliest deadline or disarms.
	c.reschedule()
}

// AutoDispose reports whether evicted/replaced values are disposed.
func (c *ttlCache[K, V]) AutoDispose() bool { return c.autoDispose.Load() }

// SetAutoDispose toggles disposal of evicted/replaced values.
func (c *ttlCache[K, V]) SetAutoDispose(on bool) {
	c.autoDispose.Store(on)
}

// Close disposes every contained value (regardless of the auto-dispose flag:
// closing the cache is the end of every value's lifetime), releases the
// scheduler, and marks the cache closed.
func (c *ttlCache[K, V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.sched.stop()
	for _, e := range c.store.clear() {
		c.evict(e, EvictClosed, true)
	}
	c.opt.Metrics.Size(0)
	return nil
}

// ---- internals ----

// retire reports and disposes a value that was replaced after its TTL
// elapsed. Runs under the entry lock, before the slot is reused.
func (c *ttlCache[K, V]) retire(k K, v V) {
	c.opt.Metrics.Evict(EvictReplaced)
	if cb := c.opt.OnEvict; cb != nil {
		cb(k, v, EvictReplaced)
	}
	if c.autoDispose.Load() {
		disposeValue(v)
	}
}

// evict reports a removed entry and disposes its value. Disposal runs
// outside all locks; a panicking Dispose is forwarded to OnError so one bad
// value cannot abort the rest of a sweep. force bypasses the auto-dispose
// flag (cache Close).
func (c *ttlCache[K, V]) evict(e *entry[K, V], reason EvictReason, force bool) {
	c.opt.Metrics.Evict(reason)
	v, ok := e.take()
	if !ok {
		return // never materialized; nothing to dispose
	}
	if cb := c.opt.OnEvict; cb != nil {
		cb(e.key, v, reason)
	}
	if !force && !c.autoDispose.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.opt.OnError(fmt.Errorf("dispose %v: %v", e.key, r))
		}
	}()
	disposeValue(v)
}

// nextDue computes the earliest expiry deadline across materialized entries,
// or 0 ("never") when auto-flush is off or nothing expires.
// A linear scan: recomputed only when the store changes or a flush ends,
// and entry counts here are expected to stay small.
func (c *ttlCache[K, V]) nextDue() int64 {
	if !c.autoFlush.Load() || c.closed.Load() {
		return 0
	}
	var min int64
	for _, e := range c.store.snapshot() {
		exp, ok := e.deadline()
		if !ok {
			continue
		}
		if min == 0 || exp < min {
			min = exp
		}
	}
	return min
}

func (c *ttlCache[K, V]) reschedule() {
	c.sched.rearm()
}

func (c *ttlCache[K, V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}
