package cache

import (
	"fmt"
	"sync"
	"time"
)

// minArmDelay is the floor applied when a computed due time is already in
// the past (clock skew, sub-millisecond TTLs). Arming with a zero or
// negative delay would make the timer re-fire in a tight loop.
const minArmDelay = time.Millisecond

// scheduler owns the single timer that drives auto-flush sweeps. It is armed
// at the earliest expiry deadline across the store and re-armed whenever
// that deadline changes.
//
// The timer callback runs on its own goroutine; the sweep it invokes takes
// the same structural lock as ordinary cache operations, so a sweep and
// normal access are mutually exclusive but never interleave partially.
type scheduler struct {
	sweep   func()       // one flush pass; may panic
	nextDue func() int64 // recomputes the earliest deadline (0 = never); called under mu
	onError func(error)
	now     func() int64

	mu      sync.Mutex
	timer   *time.Timer // lazily created on first arm
	due     int64       // armed deadline (UnixNano); 0 = disarmed
	stopped bool
}

func newScheduler(now func() int64, sweep func(), nextDue func() int64, onError func(error)) *scheduler {
	return &scheduler{sweep: sweep, nextDue: nextDue, onError: onError, now: now}
}

// rearm recomputes the earliest deadline through nextDue and arms the timer
// at it; a "never" result disarms. The recompute runs under the scheduler
// mutex (lock order scheduler → store read lock, taken nowhere in reverse),
// so concurrent rearms serialize and the applied deadline always matches the
// store at application time: a disarm computed against an emptier store can
// never land after, and cancel, the arm for a newer entry. Re-arming at an
// unchanged deadline is a no-op, so callers can invoke this after every
// store change without timer churn.
func (s *scheduler) rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	due := s.nextDue()
	if due == s.due {
		return
	}
	s.due = due
	if due == 0 {
		if s.timer != nil {
			s.timer.Stop()
		}
		return
	}

	d := time.Duration(due - s.now())
	if d < minArmDelay {
		d = minArmDelay
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(d, s.fire)
		return
	}
	s.timer.Stop()
	s.timer.Reset(d)
}

// stop disarms the timer permanently. Safe to call more than once.
func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.due = 0
	if s.timer != nil {
		s.timer.Stop()
	}
}

// fire runs one sweep on the timer goroutine. The armed deadline is consumed
// first so the sweep's own rearm call is never mistaken for a redundant
// re-arm, and the timer is re-armed afterwards even when the sweep panicked.
func (s *scheduler) fire() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.due = 0
	s.mu.Unlock()

	s.runSweep()
	s.rearm()
}

// runSweep isolates sweep failures: a panic is forwarded to onError instead
// of crashing the timer goroutine.
func (s *scheduler) runSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.onError(fmt.Errorf("sweep: %v", r))
		}
	}()
	s.sweep()
}
