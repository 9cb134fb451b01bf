package cache

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type fakeClock struct{ t atomic.Int64 }

func (f *fakeClock) NowUnixNano() int64  { return f.t.Load() }
func (f *fakeClock) add(d time.Duration) { f.t.Add(int64(d)) }

// res is a disposable test value tagged with its creation sequence number.
type res struct {
	id       int64
	disposed atomic.Bool
}

func (r *res) Dispose() {
	if !r.disposed.CompareAndSwap(false, true) {
		panic("double dispose")
	}
}

// resFactory returns a factory producing a fresh tagged res per call and a
// counter of how many times it ran.
func resFactory(calls *atomic.Int64) func(string) (*res, error) {
	return func(string) (*res, error) {
		return &res{id: calls.Add(1)}, nil
	}
}

// Uses a fake clock to avoid timing flakiness.
// Within the TTL, Get returns the identical instance; after the TTL elapses
// an access refreshes the value and retires the old one.
func TestCache_TTLRefresh_FakeClock(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	clk := &fakeClock{}
	c := New[string, *res](Options[string, *res]{
		TTL:         100 * time.Millisecond,
		Factory:     resFactory(&calls),
		AutoDispose: true,
		Clock:       clk,
	})
	t.Cleanup(func() { _ = c.Close() })

	v1, err := c.Get("A")
	if err != nil {
		t.Fatal(err)
	}
	v2, err := c.Get("A")
	if err != nil {
		t.Fatal(err)
	}
	if v1 != v2 {
		t.Fatal("second Get within TTL must return the identical instance")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("factory ran %d times, want 1", got)
	}

	clk.add(150 * time.Millisecond)
	v3, err := c.Get("A")
	if err != nil {
		t.Fatal(err)
	}
	if v3 == v1 {
		t.Fatal("Get after TTL must return a fresh instance")
	}
	if !v1.disposed.Load() {
		t.Fatal("replaced value must be disposed when auto-dispose is on")
	}
	if v3.disposed.Load() {
		t.Fatal("fresh value must not be disposed")
	}
}

// With auto-dispose off, a replaced value is dropped but not disposed.
func TestCache_ReplaceWithoutAutoDispose(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	clk := &fakeClock{}
	c := New[string, *res](Options[string, *res]{
		TTL:     50 * time.Millisecond,
		Factory: resFactory(&calls),
		Clock:   clk,
	})
	t.Cleanup(func() { _ = c.Close() })

	v1, _ := c.Get("A")
	clk.add(time.Second)
	v2, _ := c.Get("A")
	if v1 == v2 {
		t.Fatal("expected refresh")
	}
	if v1.disposed.Load() {
		t.Fatal("auto-dispose is off; old value must not be disposed")
	}
}

// Single-creation property: arbitrarily many concurrent first-time accesses
// for one key run the factory exactly once and observe the same instance.
func TestCache_SingleCreation(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c := New[string, *res](Options[string, *res]{
		Factory: func(string) (*res, error) {
			time.Sleep(5 * time.Millisecond) // widen the race window
			return &res{id: calls.Add(1)}, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	const N = 64
	vals := make([]*res, N)
	var g errgroup.Group
	for i := 0; i < N; i++ {
		i := i
		g.Go(func() error {
			v, err := c.Get("k")
			if err != nil {
				return err
			}
			vals[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("factory must run exactly once, got %d", got)
	}
	for i := 1; i < N; i++ {
		if vals[i] != vals[0] {
			t.Fatal("all readers must observe the same instance")
		}
	}
}

// Factory errors propagate to the caller and cache nothing, so the next Get
// retries creation.
func TestCache_FactoryErrorNoNegativeCaching(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	boom := fmt.Errorf("backend down")
	c := New[string, *res](Options[string, *res]{
		Factory: func(string) (*res, error) {
			if calls.Add(1) == 1 {
				return nil, boom
			}
			return &res{id: calls.Load()}, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.Get("k"); err != boom {
		t.Fatalf("want factory error, got %v", err)
	}
	v, err := c.Get("k")
	if err != nil || v == nil {
		t.Fatalf("second Get must retry: v=%v err=%v", v, err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("factory ran %d times, want 2", got)
	}
}

// Never-materialized entries (failed creations) are prunable by Flush.
func TestCache_FlushPrunesUnmaterialized(t *testing.T) {
	t.Parallel()

	c := New[string, *res](Options[string, *res]{
		Factory: func(string) (*res, error) { return nil, fmt.Errorf("always fails") },
	})
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.Get("k"); err == nil {
		t.Fatal("expected factory error")
	}
	if c.Len() != 1 {
		t.Fatalf("entry slot must stay resident, Len=%d", c.Len())
	}
	if removed := c.Flush(); removed != 1 {
		t.Fatalf("Flush removed %d, want 1", removed)
	}
	if c.Len() != 0 {
		t.Fatalf("Len=%d after flush, want 0", c.Len())
	}
}

// OnFlush fires only when a sweep actually removed something.
func TestCache_OnFlushFiresOnlyOnRemoval(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	var notified atomic.Int64
	clk := &fakeClock{}
	c := New[string, *res](Options[string, *res]{
		TTL:     10 * time.Millisecond,
		Factory: resFactory(&calls),
		Clock:   clk,
		OnFlush: func(removed int) { notified.Add(int64(removed)) },
	})
	t.Cleanup(func() { _ = c.Close() })

	if c.Flush() != 0 {
		t.Fatal("empty cache: nothing to flush")
	}
	if notified.Load() != 0 {
		t.Fatal("OnFlush must not fire for an empty sweep")
	}

	if _, err := c.Get("a"); err != nil {
		t.Fatal(err)
	}
	if c.Flush() != 0 {
		t.Fatal("fresh entry must not be flushed")
	}

	clk.add(time.Second)
	if c.Flush() != 1 {
		t.Fatal("expired entry must be flushed")
	}
	if notified.Load() != 1 {
		t.Fatalf("OnFlush got %d, want 1", notified.Load())
	}
}

// Clear empties the store synchronously; disposal of the removed values may
// complete slightly later.
func TestCache_ClearIsSynchronous(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c := New[string, *res](Options[string, *res]{
		Factory:     resFactory(&calls),
		AutoDispose: true,
	})
	t.Cleanup(func() { _ = c.Close() })

	var vals []*res
	for i := 0; i < 8; i++ {
		v, err := c.Get(fmt.Sprintf("k%d", i))
		if err != nil {
			t.Fatal(err)
		}
		vals = append(vals, v)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len=%d immediately after Clear, want 0", c.Len())
	}

	deadline := time.Now().Add(2 * time.Second)
	for _, v := range vals {
		for !v.disposed.Load() {
			if time.Now().After(deadline) {
				t.Fatal("cleared values must eventually be disposed")
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// Delete removes by key; DeleteValue removes by value identity.
func TestCache_DeleteAndDeleteValue(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c := New[string, *res](Options[string, *res]{
		Factory:     resFactory(&calls),
		AutoDispose: true,
	})
	t.Cleanup(func() { _ = c.Close() })

	va, _ := c.Get("a")
	vb, _ := c.Get("b")

	if !c.Delete("a") {
		t.Fatal("Delete a must succeed")
	}
	if c.Delete("a") {
		t.Fatal("second Delete a must report absence")
	}
	if !va.disposed.Load() {
		t.Fatal("deleted value must be disposed")
	}

	if !c.DeleteValue(vb) {
		t.Fatal("DeleteValue b must succeed")
	}
	if c.DeleteValue(vb) {
		t.Fatal("second DeleteValue must report absence")
	}
	if c.Len() != 0 {
		t.Fatalf("Len=%d, want 0", c.Len())
	}
}

// Close disposes every contained value and rejects further Gets.
func TestCache_Close(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c := New[string, *res](Options[string, *res]{Factory: resFactory(&calls)})

	v, _ := c.Get("a")
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if !v.disposed.Load() {
		t.Fatal("Close must dispose contained values")
	}
	if _, err := c.Get("a"); err != ErrClosed {
		t.Fatalf("Get after Close: got %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Fatal("double Close must be a no-op")
	}
}

// A nil Factory is rejected synchronously, before any lock is taken.
func TestCache_NilFactoryPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("New with nil Factory must panic")
		}
	}()
	New[string, int](Options[string, int]{})
}

// OnEvict observes every value leaving the cache, with its reason.
func TestCache_OnEvictReasons(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	clk := &fakeClock{}
	type evt struct {
		k      string
		reason EvictReason
	}
	events := make(chan evt, 16)
	c := New[string, *res](Options[string, *res]{
		TTL:         10 * time.Millisecond,
		Factory:     resFactory(&calls),
		AutoDispose: true,
		Clock:       clk,
		OnEvict:     func(k string, _ *res, r EvictReason) { events <- evt{k, r} },
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Get("replace")
	clk.add(time.Second)
	c.Get("replace") // refresh in place
	if e := <-events; e.reason != EvictReplaced {
		t.Fatalf("got reason %v, want EvictReplaced", e.reason)
	}

	c.Get("del")
	c.Delete("del")
	if e := <-events; e.k != "del" || e.reason != EvictDeleted {
		t.Fatalf("got %+v, want del/EvictDeleted", e)
	}

	clk.add(time.Second)
	c.Flush()
	if e := <-events; e.reason != EvictExpired {
		t.Fatalf("got reason %v, want EvictExpired", e.reason)
	}
}
