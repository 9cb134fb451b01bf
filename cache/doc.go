// Package cache provides two in-process lifecycle caches built on one
// shared, concurrency-safe entry core: a TTL cache that lazily creates and
// periodically evicts values, and a reference-counting cache that shares a
// value across proxy handles and destroys it exactly once, when the last
// handle is released.
//
// Design
//
//   - Concurrency: a coarse structural lock (RWMutex) guards insertion and
//     removal in the key→entry map; each entry carries its own fine-grained
//     lock that linearizes value creation. Locks nest store→entry only, so
//     the two levels cannot deadlock.
//
//   - Creation: entries materialize on demand via a caller-supplied Factory.
//     Both the store insert and the value materialization use double-checked
//     locking: the common hit path takes only read locks, while the slow path
//     re-checks under the exclusive lock, guaranteeing at most one entry per
//     key and at most one factory call per miss. Factory errors propagate to
//     the caller and cache nothing (no negative caching).
//
//   - TTL: materialized values carry an absolute UnixNano deadline. An
//     expired value is replaced in place on the next Get (the old instance is
//     retired first) or removed by a flush.
//
//   - Auto-flush: a single lazily-created timer is armed at the earliest
//     deadline across all entries and re-armed only when that deadline
//     changes. Deadlines already in the past are clamped to a minimum
//     positive delay to avoid tight re-fire loops. Sweep failures are
//     forwarded to Options.OnError and never crash the timer goroutine; the
//     timer is always re-armed after a sweep, even a failed one.
//
//   - Disposal: values implementing Disposer are disposed when evicted,
//     replaced, or destroyed (TTL cache: when auto-dispose is on; closing a
//     cache always disposes). Disposal runs outside the structural lock so a
//     slow Dispose cannot stall the hot path.
//
//   - Reference counting: RefCache issues Handle proxies. Every Acquire and
//     Clone adds one to the slot's count; every Dispose removes one. The 1→0
//     transition destroys the value irreversibly — re-acquiring the key
//     yields a fresh slot with a fresh Token. Handles compare equal iff
//     their tokens match.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals.
//     By default NoopMetrics is used; plug the Prometheus adapter from
//     metrics/prom to export them.
//
// TTL cache
//
//	c := cache.New[string, *Conn](cache.Options[string, *Conn]{
//	    TTL:         time.Minute,
//	    Factory:     dial,          // func(addr string) (*Conn, error)
//	    AutoFlush:   true,          // background sweeps
//	    AutoDispose: true,          // evicted *Conn values get Dispose()d
//	})
//	defer c.Close()
//
//	conn, err := c.Get("db-1") // created on first use, shared within TTL
//
// Reference-counting cache
//
//	rc := cache.NewRef[string, *Session](cache.RefOptions[string, *Session]{
//	    Factory: open, // func(id string) (*Session, error)
//	})
//	defer rc.Close()
//
//	h1, _ := rc.Acquire("s1")
//	h2 := h1.Clone()  // same token, count = 2
//	h1.Dispose()      // value still alive
//	h2.Dispose()      // count hits zero: value disposed, slot destroyed
//
// Thread-safety
//
// All methods on Cache, RefCache, and Handle are safe for concurrent use.
// Once a key's entry exists, all readers observe the same entry instance;
// no two goroutines ever run the factory concurrently for the same key.
package cache
