package taskgraph

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vorta-labs/taskgraph/internal/arena"
	"github.com/vorta-labs/taskgraph/internal/queue"
)

// Context is a worker's handle into a Scheduler: the ready queue it pulls
// from and submits into, the owner thread id it was acquired with, and
// the arena buffer it currently carves job payloads from. A Context is
// not safe for concurrent use by more than one goroutine at a time,
// mirroring one queue/one owning thread in the design this is adapted
// from.
type Context struct {
	sched    *Scheduler
	queue    *queue.Queue
	queueID  uint32
	threadID uint64
	buffer   *arena.Buffer
}

// Scheduler returns the Scheduler ctx was acquired from.
func (ctx *Context) Scheduler() *Scheduler { return ctx.sched }

// Queue returns the ready queue ctx currently submits into and pulls from.
func (ctx *Context) Queue() *queue.Queue { return ctx.queue }

// ThreadID returns the owner thread id ctx was bound to by AcquireContext.
func (ctx *Context) ThreadID() uint64 { return ctx.threadID }

// CreateJob reserves a slot and a payload of size bytes (aligned to
// align) from ctx's active buffer, rolling over to a fresh buffer
// automatically if the current one lacks room. Returns ErrCodeSlotExhausted
// if every slot in the table is occupied, or ErrCodeBufferExhausted if the
// arena pool cannot supply a replacement buffer when one is needed.
func (ctx *Context) CreateJob(parent JobID, entry EntryFunc, size, align int) (JobID, error) {
	idx, err := ctx.sched.allocSlot()
	if err != nil {
		return InvalidJobID, err
	}

	off, ok := ctx.buffer.Bump(size, align)
	if !ok {
		if rerr := ctx.rotateBuffer(); rerr != nil {
			ctx.sched.freeSlot(idx)
			return InvalidJobID, rerr
		}
		off, ok = ctx.buffer.Bump(size, align)
		if !ok {
			ctx.sched.freeSlot(idx)
			return InvalidJobID, NewError("create_job", ErrCodeBufferExhausted, "payload larger than buffer capacity")
		}
	}
	payload := ctx.buffer.Payload(off, size)
	ctx.buffer.Retain()

	id := ctx.sched.slots.claim(idx, parent, entry, payload)
	ctx.sched.slots.setQueueAndBuffer(id, ctx.queue, ctx.buffer)

	if parent.valid() {
		ctx.sched.slots.addWork(parent, 1)
	}

	ctx.sched.observer.ObserveJobCreated()
	ctx.sched.logDebug("job created", "id", uint32(id), "parent", uint32(parent))
	return id, nil
}

// rotateBuffer hands ctx's current buffer back to the arena pool (which
// reclaims it immediately if no job still references it) and replaces it
// with a fresh one.
func (ctx *Context) rotateBuffer() error {
	next, ok := ctx.sched.pool.Acquire(ctx.buffer)
	if !ok {
		return NewError("create_job", ErrCodeBufferExhausted, "job buffer pool exhausted")
	}
	ctx.buffer = next
	return nil
}

// SubmitJob makes id eligible to run once its dependencies are satisfied,
// or marks it Canceled without ever running if kind is SubmitCancel.
// deps that have already completed or never existed are silently
// dropped; deps still pending are recorded and id transitions to Ready
// only once every one of them has completed. Returns SubmitTooManyWaiters
// as soon as registering id against one of its dependencies would
// overflow that dependency's waiter list; id is then left unsubmitted,
// and registrations already made against dependencies earlier in deps
// are not undone.
func (ctx *Context) SubmitJob(id JobID, deps []JobID, kind SubmitKind) (SubmitResult, error) {
	if _, ok := ctx.sched.Resolve(id); !ok {
		return SubmitInvalidJob, NewJobError("submit_job", id, ErrCodeInvalidJob, "unknown or stale job id")
	}

	if kind == SubmitCancel {
		ctx.sched.Cancel(id)
		ctx.CompleteJob(id)
		return SubmitSuccess, nil
	}

	for _, dep := range deps {
		if dep == id || !dep.valid() {
			continue
		}
		if _, ok := ctx.sched.Resolve(dep); !ok {
			continue // already resolved or never existed: nothing to wait on
		}
		if !ctx.sched.slots.addDependency(id, dep) {
			ctx.sched.observer.ObserveWaiterOverflow()
			return SubmitTooManyWaiters, NewJobError("submit_job", dep, ErrCodeTooManyWaiters, "dependency waiter list full")
		}
	}

	ctx.sched.slots.desc[id.index()].submitAt = time.Now().UnixNano()

	if ctx.sched.slots.finalizeSubmit(id) {
		ctx.enqueueReady(id)
	}
	return SubmitSuccess, nil
}

// enqueueReady pushes id onto its own descriptor's queue (which may
// differ from ctx's queue if a job was created for routing elsewhere).
func (ctx *Context) enqueueReady(id JobID) {
	desc, ok := ctx.sched.Resolve(id)
	if !ok {
		return
	}
	q := desc.Queue
	if q == nil {
		q = ctx.queue
	}
	q.Push(uint32(id))
	ctx.sched.observer.ObserveQueueDepth(q.ID(), q.Depth())
}

// WaitReadyJob blocks on ctx's queue until a runnable job is available or
// the queue is signaled and drained, in which case it returns ok=false. A
// job canceled after being queued but before being dequeued is never
// handed back to the caller: WaitReadyJob drives it straight through
// CompleteJob (cleanup only, no execute call) and keeps waiting.
func (ctx *Context) WaitReadyJob() (*Descriptor, bool) {
	for {
		raw, ok := ctx.queue.Take()
		if !ok {
			return nil, false
		}
		id := JobID(raw)
		desc, ok := ctx.sched.Resolve(id)
		if !ok {
			continue
		}
		if ctx.sched.State(id) == StateCanceled || ctx.ancestorCanceled(desc.Parent) {
			ctx.sched.Cancel(id)
			ctx.CompleteJob(id)
			continue
		}
		ctx.sched.slots.markRunning(id)
		return &desc, true
	}
}

// ancestorCanceled walks the parent chain starting at parent, reporting
// whether any ancestor has been Canceled. The chain is guaranteed acyclic
// by construction (a job's parent must already exist at submit time), so
// this always terminates; it stops as soon as it hits an invalid id (the
// root of the chain) or a stale one (an ancestor that has itself already
// completed and been retired, which can no longer be canceled).
func (ctx *Context) ancestorCanceled(parent JobID) bool {
	id := parent
	for id.valid() {
		desc, ok := ctx.sched.Resolve(id)
		if !ok {
			return false
		}
		if ctx.sched.State(id) == StateCanceled {
			return true
		}
		id = desc.Parent
	}
	return false
}

// WaitJob blocks the calling goroutine until the job addressed by id
// reaches a terminal state, polling its state at a short interval. It
// returns true once the job is Completed or Canceled, or once id is stale
// (the job finished and its slot was retired), and false if ctx's queue
// is signaled first. Intended for coordination from outside a worker's
// own run loop (e.g. a submitter waiting on a leaf job it has no other
// signal for); workers driven by WaitReadyJob never need this.
func (ctx *Context) WaitJob(id JobID) bool {
	for {
		switch ctx.sched.State(id) {
		case StateCompleted, StateCanceled, StateUninitialized:
			return true
		}
		if ctx.queue.CheckSignal() != queue.SignalClear {
			return false
		}
		runtime.Gosched()
		time.Sleep(time.Microsecond * 50)
	}
}

// CompleteJob runs the full completion protocol for job: decrements its
// work counter, and if that brings it to zero, invokes its cleanup entry
// point, releases its arena payload, notifies every job waiting on it
// (pushing any that become Ready as a result onto their queue), propagates
// one unit of completed work to its parent (recursing into the parent's
// own completion if it was the parent's last outstanding child), records
// completion metrics, retires the slot's generation, and returns it to
// the free list.
//
// Calling CompleteJob again for a job that has already finished (e.g.
// once from a worker after CallExecute and once from a cancellation path)
// is a no-op: completion retires the id, and a stale id is ignored. While
// the job is still live (e.g. a parent waiting on children), every call
// removes one unit of work, and only the call that observes the work
// counter cross zero runs the completion side effects.
func (ctx *Context) CompleteJob(id JobID) {
	ctx.completeWork(id)
}

func (ctx *Context) completeWork(id JobID) {
	if _, ok := ctx.sched.Resolve(id); !ok {
		return // already retired: its completion has run
	}
	idx := id.index()
	if ctx.sched.slots.addWork(id, -1) > 0 {
		return // other outstanding work (usually a child) remains
	}
	if !ctx.sched.slots.completeIfDone(id) {
		return // already completed via another path; idempotent no-op
	}

	desc := ctx.sched.slots.desc[idx]
	if desc.Entry != nil {
		desc.Entry(ctx, &desc, CallCleanup)
	}
	if desc.buffer != nil {
		ctx.sched.pool.Release(desc.buffer)
	}

	latencyNs := uint64(0)
	if desc.submitAt > 0 {
		latencyNs = uint64(time.Now().UnixNano() - desc.submitAt)
	}
	ctx.sched.observer.ObserveJobCompleted(latencyNs)

	for _, waiter := range ctx.sched.slots.drainWaiters(id) {
		if ctx.sched.slots.resolveWaiter(waiter) {
			ctx.enqueueReady(waiter)
		}
	}

	if desc.Parent.valid() {
		ctx.completeWork(desc.Parent)
	}

	ctx.sched.slots.retire(idx)
	ctx.sched.freeSlot(idx)
}

// CancelJob cancels id without running its execute call, then drives it
// through the same completion protocol as a normal finish (cleanup call,
// dependent notification, parent propagation) so waiters are never left
// hanging on a job that will never run.
func (ctx *Context) CancelJob(id JobID) State {
	st := ctx.sched.Cancel(id)
	ctx.CompleteJob(id)
	return st
}

// Run executes job's entry point and completes it, the convenience path
// for a worker loop driven by WaitReadyJob:
//
//	for {
//		job, ok := ctx.WaitReadyJob()
//		if !ok { break }
//		ctx.Run(job)
//	}
func (ctx *Context) Run(job *Descriptor) {
	if job.Entry != nil {
		job.ExitCode = job.Entry(ctx, job, CallExecute)
	}
	ctx.CompleteJob(job.ID)
}

// PinToCPU pins the calling OS thread to cpu and locks the goroutine to
// it for the remainder of its lifetime. Must be called from the
// goroutine that will run ctx's work loop, since Go provides no way to
// pin a goroutine to a thread from outside it.
func (ctx *Context) PinToCPU(cpu int) error {
	runtime.LockOSThread()
	var mask unix.CPUSet
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		ctx.sched.logWarn("failed to set CPU affinity", "cpu", cpu, "err", err)
		return WrapError("pin_to_cpu", err)
	}
	ctx.sched.logDebug("set CPU affinity", "cpu", cpu)
	return nil
}

// Close returns ctx to its scheduler's context free list. Callers that
// called PinToCPU should not call Close from a different goroutine than
// the one that pinned it.
func (ctx *Context) Close() {
	ctx.sched.ReleaseContext(ctx)
}
