package cache

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/IvanBrykalov/objcache/internal/util"
)

// ErrNilHandle is returned by Acquire when a custom HandleFactory violates
// its contract by returning nil instead of a handle.
var ErrNilHandle = errorsNew("cache: handle factory returned nil")

// Ref is the reference-counted slot for one key. It reuses the same lazy
// entry machinery as the TTL cache but is destroyed rather than refreshed:
// once its count drains to zero the slot is dead forever, and re-acquiring
// the key creates a fresh slot with a fresh token.
type Ref[K comparable, V any] struct {
	slot  *entry[K, V]
	token Token
	owner *refCache[K, V]

	// ---- guarded by mu ----
	mu    sync.Mutex
	count int
	dead  bool
}

// Key returns the key this slot was created for.
func (r *Ref[K, V]) Key() K { return r.slot.key }

// Token returns the slot's opaque identifier.
func (r *Ref[K, V]) Token() Token { return r.token }

// Handle wraps r in a new proxy handle carrying its token. It does NOT
// adjust the reference count — Acquire and Clone already did. It exists so
// a custom RefOptions.HandleFactory can decorate handle creation.
func (r *Ref[K, V]) Handle() *Handle[K, V] {
	return &Handle[K, V]{ref: r, token: r.token}
}

// retain increments the count, failing if the slot is already dead. A failed
// retain means the caller raced the last release and must start over with a
// fresh slot.
func (r *Ref[K, V]) retain() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return false
	}
	r.count++
	return true
}

// release decrements the count and reports whether this call took it to
// zero. The 1→0 transition marks the slot dead, irreversibly.
func (r *Ref[K, V]) release() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead || r.count == 0 {
		return false
	}
	r.count--
	if r.count > 0 {
		return false
	}
	r.dead = true
	return true
}

// kill marks the slot dead regardless of its count (cache Close). Returns
// false if the slot was dead already.
func (r *Ref[K, V]) kill() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return false
	}
	r.dead = true
	r.count = 0
	return true
}

func (r *Ref[K, V]) value() (V, error) {
	c := r.owner
	if c.closed.Load() {
		var zero V
		return zero, ErrClosed
	}
	v, created, err := r.slot.value(c.opt.Factory, 0, c.now, nil)
	if err != nil {
		c.misses.Add(1)
		c.opt.Metrics.Miss()
		return v, err
	}
	if created {
		c.misses.Add(1)
		c.opt.Metrics.Miss()
	} else {
		c.hits.Add(1)
		c.opt.Metrics.Hit()
	}
	return v, nil
}

// refCache shares one lazily-created value per key across proxy handles.
// All methods are safe for concurrent use by multiple goroutines.
type refCache[K comparable, V any] struct {
	store  *store[K, *Ref[K, V]]
	opt    RefOptions[K, V]
	closed atomic.Bool

	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
}

// NewRef constructs a reference-counting cache with the provided RefOptions.
// RefOptions.Factory is required; a nil factory panics here, synchronously,
// before any lock is taken.
func NewRef[K comparable, V any](opt RefOptions[K, V]) RefCache[K, V] {
	if opt.Factory == nil {
		panic("Factory must be non-nil")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.OnError == nil {
		opt.OnError = func(err error) { log.Printf("cache: %v", err) }
	}
	return &refCache[K, V]{
		store: newStore[K, *Ref[K, V]](),
		opt:   opt,
	}
}

// Acquire finds or creates the slot for k, increments its count, and issues
// a new handle. The value itself stays unmaterialized until Handle.Value.
func (c *refCache[K, V]) Acquire(k K) (*Handle[K, V], error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	for {
		r, inserted := c.store.getOrInsert(k, func() *Ref[K, V] {
			return &Ref[K, V]{slot: newEntry[K, V](k), token: uuid.New(), owner: c}
		})
		if !r.retain() {
			// Lost the race against the last release: drop the dead slot
			// if it is still mapped and start over with a fresh one.
			c.store.removeExact(k, r)
			continue
		}
		if inserted {
			c.opt.Metrics.Size(c.store.len())
		}

		if c.opt.HandleFactory == nil {
			return r.Handle(), nil
		}
		h := c.opt.HandleFactory(r)
		if h == nil {
			// Contract violation; undo the retain so the slot does not leak.
			c.releaseRef(r)
			return nil, ErrNilHandle
		}
		return h, nil
	}
}

// Delete forcibly unmaps the slot for k, independent of its count.
func (c *refCache[K, V]) Delete(k K) bool {
	if c.closed.Load() {
		return false
	}
	_, ok := c.store.remove(k)
	if ok {
		c.opt.Metrics.Size(c.store.len())
		c.opt.Metrics.Evict(EvictDeleted)
	}
	return ok
}

// DeleteValue forcibly unmaps the first slot holding v (linear scan).
func (c *refCache[K, V]) DeleteValue(v V) bool {
	if c.closed.Load() {
		return false
	}
	_, ok := c.store.removeWhere(func(r *Ref[K, V]) bool { return r.slot.holds(v, c.opt.Same) })
	if ok {
		c.opt.Metrics.Size(c.store.len())
		c.opt.Metrics.Evict(EvictDeleted)
	}
	return ok
}

// Len returns the number of resident slots.
func (c *refCache[K, V]) Len() int {
	return c.store.len()
}

// Close destroys every resident value and marks the cache closed.
// Outstanding handles stay safe: their slots are marked dead, so Dispose
// becomes a no-op and Value reports ErrClosed.
func (c *refCache[K, V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, r := range c.store.clear() {
		if !r.kill() {
			continue
		}
		c.opt.Metrics.Evict(EvictClosed)
		if v, ok := r.slot.take(); ok {
			c.dispose(r.Key(), v)
		}
	}
	c.opt.Metrics.Size(0)
	return nil
}

// releaseRef drops one reference to r. The final release destroys the value,
// unmaps the slot, and emits the OnRelease notification. Slots that drain
// before their value ever materialized unmap silently: there is no value to
// notify about.
func (c *refCache[K, V]) releaseRef(r *Ref[K, V]) {
	if !r.release() {
		return
	}

	v, ok := r.slot.take()
	if ok {
		c.dispose(r.Key(), v)
	}
	// The key may already map to a fresh slot (forcible Delete followed by
	// re-Acquire), so only remove our own.
	if c.store.removeExact(r.Key(), r) {
		c.opt.Metrics.Size(c.store.len())
	}
	c.opt.Metrics.Evict(EvictReleased)
	if ok {
		if cb := c.opt.OnRelease; cb != nil {
			cb(r.Key(), v)
		}
	}
}

// dispose runs the value's Disposer with panic isolation.
func (c *refCache[K, V]) dispose(k K, v V) {
	defer func() {
		if r := recover(); r != nil {
			c.opt.OnError(fmt.Errorf("dispose %v: %v", k, r))
		}
	}()
	disposeValue(v)
}

func (c *refCache[K, V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}
