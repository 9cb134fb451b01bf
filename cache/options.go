package cache

import (
	"time"
)

// EvictReason explains why a value left the cache.
type EvictReason int

const (
	// EvictExpired — removed by a flush because its TTL elapsed (or it was
	// never materialized and got pruned by the sweep).
	EvictExpired EvictReason = iota
	// EvictReplaced — an expired value was refreshed in place; the old
	// instance was retired before the slot was reused.
	EvictReplaced
	// EvictDeleted — removed by an explicit Delete/DeleteValue.
	EvictDeleted
	// EvictCleared — removed by Clear.
	EvictCleared
	// EvictReleased — a reference-counted value whose last handle was disposed.
	EvictReleased
	// EvictClosed — removed because the cache itself was closed.
	EvictClosed
)

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures a TTL cache. Zero values are safe except Factory,
// which is required; sane defaults are applied in New():
//   - nil Metrics => NoopMetrics
//   - nil OnError => standard log
//   - TTL <= 0    => values never expire (flush only prunes failed creations)
type Options[K comparable, V any] struct {
	// TTL is the duration a materialized value stays valid. Non-positive
	// means values never expire.
	TTL time.Duration

	// Factory materializes the value for a key on first access (and again
	// after the TTL elapses). Required; New panics when nil.
	// Errors propagate to the Get caller and nothing is cached, so the next
	// Get retries (no negative caching).
	Factory func(k K) (V, error)

	// AutoDispose controls whether evicted/replaced values that implement
	// Disposer are disposed. Mutable later via SetAutoDispose.
	AutoDispose bool

	// AutoFlush arms the background sweep scheduler from the start.
	// Mutable later via SetAutoFlush.
	AutoFlush bool

	// OnFlush is called after a sweep that removed at least one entry,
	// with the number of entries removed. Sweeps that remove nothing do
	// not fire it.
	OnFlush func(removed int)

	// OnEvict is called for every value leaving the cache. For EvictReplaced
	// it runs under the entry lock; keep callbacks lightweight.
	OnEvict func(k K, v V, reason EvictReason)

	// OnError receives failures that must not crash the sweep timer
	// (panicking sweeps, panicking Dispose implementations).
	// Nil => the standard log package.
	OnError func(error)

	// Same reports whether two values are the same instance; used by
	// DeleteValue. Nil => interface equality (any(a) == any(b)), which
	// requires V to be comparable or a pointer type.
	Same func(a, b V) bool

	// Observability sink; nil => NoopMetrics.
	Metrics Metrics

	// Clock allows overriding the time source (tests). Nil => time.Now().
	Clock Clock
}

// RefOptions configures a reference-counting cache.
type RefOptions[K comparable, V any] struct {
	// Factory materializes the shared value on first Handle.Value call.
	// Required; NewRef panics when nil.
	Factory func(k K) (V, error)

	// HandleFactory optionally decorates handle creation. It receives the
	// Ref after its count was incremented and must return a handle for it
	// (typically wrapping r.Handle()). A nil result is an invariant
	// violation surfaced as ErrNilHandle. Nil factory => plain handles.
	HandleFactory func(r *Ref[K, V]) *Handle[K, V]

	// OnRelease is called after the last handle for a key is disposed and
	// the value has been destroyed. Slots whose value never materialized
	// (no Handle.Value call succeeded) are released silently.
	OnRelease func(k K, v V)

	// Same reports value identity for DeleteValue; see Options.Same.
	Same func(a, b V) bool

	// OnError receives panics from Disposer implementations.
	// Nil => the standard log package.
	OnError func(error)

	// Observability sink; nil => NoopMetrics.
	Metrics Metrics

	// Clock allows overriding the time source (tests). Nil => time.Now().
	Clock Clock
}
