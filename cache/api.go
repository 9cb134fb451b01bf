package cache

// Disposer is the disposal contract for cached values that hold releasable
// resources (file handles, connections, subscriptions). The caches invoke it
// exactly once per value instance when the value is evicted, replaced, or
// destroyed; values that do not implement it are simply dropped.
type Disposer interface {
	Dispose()
}

// Cache is a lazily-populating, TTL-bound key/value cache.
// All methods are safe for concurrent use by multiple goroutines.
//
// Values are created on first Get via the configured Factory and refreshed
// in place after their TTL elapses. Eviction is driven either by an explicit
// Flush or by a background sweep scheduler (auto-flush).
type Cache[K comparable, V any] interface {
	// Get returns the value for k, creating it via the Factory on first
	// access or after the TTL elapsed. Factory errors propagate directly;
	// nothing is cached on failure, so the next Get retries.
	Get(k K) (V, error)

	// Flush removes every entry that is expired or was never materialized,
	// disposing removed values when auto-dispose is on, and re-arms the
	// sweep scheduler. Returns the number of entries removed.
	Flush() int

	// Clear removes all entries. The store is observably empty on return;
	// disposal of removed values completes out-of-band.
	Clear()

	// Delete removes the entry for k if present and returns true on success.
	Delete(k K) bool

	// DeleteValue removes the first entry holding v (identity per
	// Options.Same) and returns true on success. Linear scan.
	DeleteValue(v V) bool

	// Len returns the number of resident entries, materialized or not.
	Len() int

	// AutoFlush reports whether the background sweep scheduler is active.
	AutoFlush() bool

	// SetAutoFlush toggles the background sweep scheduler. Enabling arms it
	// immediately; disabling disarms it. Redundant sets are cheap no-ops.
	SetAutoFlush(on bool)

	// AutoDispose reports whether evicted/replaced values are disposed.
	AutoDispose() bool

	// SetAutoDispose toggles disposal of evicted/replaced values.
	SetAutoDispose(on bool)

	// Close disposes every contained value, releases the sweep scheduler,
	// and marks the cache closed. Later Gets return ErrClosed.
	Close() error
}

// RefCache is a reference-counting cache: it shares one lazily-created value
// per key across any number of proxy handles and destroys the value exactly
// once, when its last handle is disposed.
// All methods are safe for concurrent use by multiple goroutines.
type RefCache[K comparable, V any] interface {
	// Acquire finds or creates the reference-counted slot for k, increments
	// its count, and returns a new handle for it. The value itself is still
	// created lazily, on the first Handle.Value call.
	Acquire(k K) (*Handle[K, V], error)

	// Delete forcibly unmaps the slot for k regardless of its count.
	// Outstanding handles keep working; the value is still destroyed when
	// their count drains to zero. A later Acquire creates a fresh slot.
	Delete(k K) bool

	// DeleteValue forcibly unmaps the first slot holding v (identity per
	// RefOptions.Same). Linear scan.
	DeleteValue(v V) bool

	// Len returns the number of resident slots.
	Len() int

	// Close destroys every resident value, marks all slots dead, and marks
	// the cache closed. Later Acquires return ErrClosed; disposing handles
	// that are still outstanding remains a safe no-op.
	Close() error
}
