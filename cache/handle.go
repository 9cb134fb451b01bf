package cache

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Token is the opaque identifier shared by all handles referring to the same
// underlying reference-counted value. Tokens support only equality; they
// carry no ordering guarantees. A destroyed key re-acquired later gets a
// brand-new token.
type Token = uuid.UUID

// ErrDisposed is returned when a handle is used after it was disposed.
var ErrDisposed = errorsNew("cache: handle is disposed")

// Handle is a disposable proxy reference to a shared cached value. Each
// handle contributes exactly one unit to its slot's reference count; the
// value is destroyed when the last handle is disposed.
//
// A handle is disposable exactly once: double-disposal is a no-op.
type Handle[K comparable, V any] struct {
	ref      *Ref[K, V]
	token    Token
	disposed atomic.Bool
}

// Value materializes (on first use across all handles) and returns the
// shared value. Returns ErrDisposed after Dispose.
func (h *Handle[K, V]) Value() (V, error) {
	if h.disposed.Load() {
		var zero V
		return zero, ErrDisposed
	}
	return h.ref.value()
}

// Key returns the key this handle was acquired for.
func (h *Handle[K, V]) Key() K { return h.ref.Key() }

// Token returns the identifier shared by every handle of the same underlying
// value. Two handles refer to the same value iff their tokens are equal;
// token identity survives Clone.
func (h *Handle[K, V]) Token() Token { return h.token }

// Same reports whether other refers to the same underlying value.
func (h *Handle[K, V]) Same(other *Handle[K, V]) bool {
	return other != nil && h.token == other.token
}

// Clone increments the reference count and returns an additional handle
// sharing this handle's token, without re-resolving the key.
// Returns nil if this handle was already disposed.
func (h *Handle[K, V]) Clone() *Handle[K, V] {
	if h.disposed.Load() {
		return nil
	}
	if !h.ref.retain() {
		// Only reachable when racing a concurrent Dispose of this same
		// handle; an undisposed handle keeps the slot alive.
		return nil
	}
	return &Handle[K, V]{ref: h.ref, token: h.token}
}

// Dispose releases this handle's reference. When the count reaches zero the
// underlying value is destroyed and the slot removed from its cache.
// Disposing an already-disposed handle is a no-op.
func (h *Handle[K, V]) Dispose() {
	if !h.disposed.CompareAndSwap(false, true) {
		return
	}
	h.ref.owner.releaseRef(h.ref)
}
