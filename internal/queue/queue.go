// Package queue implements the scheduler's ready queue: a bounded
// multi-producer/multi-consumer ring that carries packed job identifiers
// between submitters and worker contexts. The ring shape (head/tail
// counters modulo a power-of-two mask) mirrors the kernel-ring structuring
// used elsewhere in this codebase's lineage, but the waits here are plain
// mutex/condvar pairs instead of a syscall-backed completion mechanism —
// there is no I/O to block on, only other goroutines.
package queue

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Signal is an out-of-band control word threaded through the ring.
// Producers refuse to enqueue once a non-zero signal is set; consumers
// keep draining until the ring runs dry, then observe the signal instead
// of blocking forever.
type Signal uint32

const (
	// SignalClear is the steady-state value: no control action pending.
	SignalClear Signal = 0
	// SignalTerminate asks producers to stop and consumers to drain-then-stop.
	SignalTerminate Signal = 1
	// User-defined signal codes start at 2.
)

// Queue is a bounded MPMC ring of packed job identifiers.
type Queue struct {
	id   uint32
	mu   sync.Mutex
	full *sync.Cond
	room *sync.Cond

	buf  []uint32
	mask uint64
	push uint64 // monotonic count of items ever pushed
	take uint64 // monotonic count of items ever taken

	signal atomic.Uint32
}

// New creates a Queue with the given id and capacity. Capacity must be a
// power of two (the ring index is a mask of the counters); New panics
// otherwise, mirroring the slot table's own power-of-two requirement.
func New(id uint32, capacity int) *Queue {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic(fmt.Sprintf("queue: capacity %d is not a positive power of two", capacity))
	}
	q := &Queue{
		id:   id,
		buf:  make([]uint32, capacity),
		mask: uint64(capacity - 1),
	}
	q.full = sync.NewCond(&q.mu)
	q.room = sync.NewCond(&q.mu)
	return q
}

// ID returns the queue's identity, as registered with the scheduler.
func (q *Queue) ID() uint32 { return q.id }

func (q *Queue) depth() uint64 { return q.push - q.take }

func (q *Queue) isFull() bool  { return q.depth() == uint64(len(q.buf)) }
func (q *Queue) isEmpty() bool { return q.depth() == 0 }

// Depth reports the number of items currently queued. Intended for metrics
// sampling; racy by nature in a concurrent ring, which is fine for a gauge.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.depth())
}

// Push enqueues job, blocking while the ring is full and unsignaled. If a
// non-zero signal is set (before or after waiting), Push refuses to
// enqueue and returns false: once a queue is signaled, it stops accepting
// new work even if space frees up, while Take keeps draining whatever is
// already queued.
func (q *Queue) Push(job uint32) bool {
	q.mu.Lock()
	for q.isFull() && q.signal.Load() == uint32(SignalClear) {
		q.room.Wait()
	}
	if q.signal.Load() != uint32(SignalClear) {
		q.mu.Unlock()
		return false
	}
	q.buf[q.push&q.mask] = job
	q.push++
	q.mu.Unlock()
	q.full.Signal()
	return true
}

// Take dequeues the next job, blocking while the ring is empty and
// unsignaled. Returns false only when the ring is empty and a signal has
// been set — a signaled-but-nonempty queue still yields its remaining
// items normally, so callers can drain fully before observing shutdown.
func (q *Queue) Take() (uint32, bool) {
	q.mu.Lock()
	for q.isEmpty() && q.signal.Load() == uint32(SignalClear) {
		q.full.Wait()
	}
	if q.isEmpty() {
		q.mu.Unlock()
		return 0, false
	}
	job := q.buf[q.take&q.mask]
	q.take++
	q.mu.Unlock()
	q.room.Signal()
	return job, true
}

// Flush resets the ring to empty without touching the signal word. Used
// when a scheduler wants to discard queued work (e.g. after a coordinated
// cancellation) without tearing the queue down.
func (q *Queue) Flush() {
	q.mu.Lock()
	q.push = 0
	q.take = 0
	q.mu.Unlock()
	q.room.Broadcast()
}

// Signal sets the control word and, for non-zero codes, wakes every
// blocked producer and consumer so they can re-check their wait
// conditions. Setting SignalClear back never requires a wakeup: nothing
// blocks on the signal alone, only on fullness/emptiness, and those
// waiters already observed the prior non-zero signal and returned.
func (q *Queue) Signal(code Signal) {
	q.signal.Store(uint32(code))
	if code != SignalClear {
		q.mu.Lock()
		q.full.Broadcast()
		q.room.Broadcast()
		q.mu.Unlock()
	}
}

// CheckSignal returns the current control word without blocking.
func (q *Queue) CheckSignal() Signal {
	return Signal(q.signal.Load())
}
