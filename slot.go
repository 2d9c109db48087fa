package taskgraph

import (
	"sync"
	"sync/atomic"

	"github.com/vorta-labs/taskgraph/internal/arena"
	"github.com/vorta-labs/taskgraph/internal/constants"
	"github.com/vorta-labs/taskgraph/internal/queue"
)

// executionRecord is a slot's private bookkeeping: its current state, the
// additive wait/work counters from the submission protocol, and its fixed
// waiter list. One mutex per slot; every mutation of a slot's state goes
// through it, and no two slots' locks are ever held at once, so the
// dependency -> job -> parent locking order the protocol calls for is
// satisfied trivially by never nesting.
type executionRecord struct {
	mu          sync.Mutex
	state       State
	wait        int32 // dependency balance: goes to zero when the job may run
	work        int32 // self + outstanding children; zero means fully done
	waiters     [constants.DefaultMaxWaiters]uint32
	waiterCount int
	maxWaiters  int // effective cap, <= len(waiters), from Config.MaxWaiters
}

// slotTable is the scheduler's fixed array of (id, descriptor, execution
// record) triples. ids is read lock-free by resolve's fast path; a slot's
// descriptor is only trustworthy while its execution-record lock is held
// or after the id has been confirmed current under that lock.
type slotTable struct {
	ids  []atomic.Uint32
	desc []Descriptor
	exec []executionRecord
}

func newSlotTable(capacity, maxWaiters int) *slotTable {
	return &slotTable{
		ids:  make([]atomic.Uint32, capacity),
		desc: make([]Descriptor, capacity),
		exec: initExecRecords(capacity, maxWaiters),
	}
}

func initExecRecords(capacity, maxWaiters int) []executionRecord {
	recs := make([]executionRecord, capacity)
	for i := range recs {
		recs[i].maxWaiters = maxWaiters
	}
	return recs
}

func (t *slotTable) capacity() int { return len(t.ids) }

// resolve returns a snapshot of the descriptor for id if id is still the
// slot's current, live identity. The fast path (an atomic load and
// compare) costs nothing for the common stale-id case; only a genuine
// match pays for the lock needed to take a consistent copy.
func (t *slotTable) resolve(id JobID) (Descriptor, bool) {
	if !id.valid() {
		return Descriptor{}, false
	}
	idx := id.index()
	if int(idx) >= len(t.ids) {
		return Descriptor{}, false
	}
	if JobID(t.ids[idx].Load()) != id {
		return Descriptor{}, false
	}
	rec := &t.exec[idx]
	rec.mu.Lock()
	d := t.desc[idx]
	ok := JobID(t.ids[idx].Load()) == id
	rec.mu.Unlock()
	return d, ok
}

// state returns the current state of the slot addressed by id, or
// StateUninitialized if id is stale or out of range.
func (t *slotTable) state(id JobID) State {
	idx := id.index()
	if !id.valid() || int(idx) >= len(t.ids) || JobID(t.ids[idx].Load()) != id {
		return StateUninitialized
	}
	rec := &t.exec[idx]
	rec.mu.Lock()
	s := rec.state
	rec.mu.Unlock()
	return s
}

// cancel marks the slot addressed by id Canceled, unless it has already
// reached a terminal state (Completed or a running job that has already
// been marked Canceled), and reports the resulting state. Reads the
// current state under the lock before branching on it — a prior version
// of this code read state into a zero-valued local before acquiring the
// lock, which could observe a torn/uninitialized value on a fresh slot;
// that class of bug is why the read happens after Lock here.
func (t *slotTable) cancel(id JobID) State {
	idx := id.index()
	if !id.valid() || int(idx) >= len(t.ids) || JobID(t.ids[idx].Load()) != id {
		return StateUninitialized
	}
	rec := &t.exec[idx]
	rec.mu.Lock()
	defer rec.mu.Unlock()
	switch rec.state {
	case StateCompleted, StateCanceled:
		// Already terminal; no-op.
	default:
		rec.state = StateCanceled
	}
	return rec.state
}

// claim installs a fresh job at idx, using the slot's current generation
// (bumped by the previous occupant's completion, or zero for a never-used
// slot) and returns its new JobID. The caller fills in Queue and buffer
// on the returned descriptor separately, under the slot lock, via
// setQueueAndBuffer.
func (t *slotTable) claim(idx uint32, parent JobID, entry EntryFunc, payload []byte) JobID {
	gen := (JobID(t.ids[idx].Load())).generation()
	id := packJobID(idx, gen)
	t.ids[idx].Store(uint32(id))

	rec := &t.exec[idx]
	rec.mu.Lock()
	rec.state = StateNotSubmitted
	rec.wait = 0
	rec.work = 1
	rec.waiterCount = 0
	rec.mu.Unlock()

	t.desc[idx] = Descriptor{ID: id, Parent: parent, Entry: entry, Payload: payload}
	return id
}

// addDependency records that id depends on dep, which has not yet
// completed. It appends id to dep's waiter list and increments id's wait
// counter. Returns false if dep's waiter list is already at maxWaiters.
// Caller holds no locks; addDependency takes dep's lock and then id's,
// one at a time, never both together.
func (t *slotTable) addDependency(id, dep JobID) bool {
	depIdx := dep.index()
	depRec := &t.exec[depIdx]
	depRec.mu.Lock()
	if JobID(t.ids[depIdx].Load()) != dep || depRec.state == StateCompleted || depRec.state == StateCanceled {
		depRec.mu.Unlock()
		return true // dependency already resolved/gone: nothing to wait on
	}
	if depRec.waiterCount >= depRec.maxWaiters {
		depRec.mu.Unlock()
		return false
	}
	depRec.waiters[depRec.waiterCount] = uint32(id)
	depRec.waiterCount++
	depRec.mu.Unlock()

	idx := id.index()
	rec := &t.exec[idx]
	rec.mu.Lock()
	rec.wait++
	rec.mu.Unlock()
	return true
}

// resolveWaiter decrements dep's wait counter by 1 and reports whether the
// caller should push dep onto its queue: either because this was its last
// outstanding dependency and it transitions NotReady -> Ready, or because
// dep was canceled while still blocked on dependencies and, per the
// invariant that every queue entry is Ready or Canceled, still needs to
// reach a worker so CompleteJob's cleanup/waiter-release/parent-propagation
// runs for it. A canceled dep's state is left untouched (Canceled is never
// overwritten), only the enqueue decision is affected.
func (t *slotTable) resolveWaiter(dep JobID) bool {
	idx := dep.index()
	rec := &t.exec[idx]
	rec.mu.Lock()
	rec.wait--
	ready := false
	if rec.wait <= 0 {
		switch rec.state {
		case StateNotReady:
			rec.state = StateReady
			ready = true
		case StateCanceled:
			ready = true
		}
	}
	rec.mu.Unlock()
	return ready
}

// drainWaiters empties id's waiter list and returns its previous
// contents, so the caller can notify each one that id has completed.
func (t *slotTable) drainWaiters(id JobID) []JobID {
	idx := id.index()
	rec := &t.exec[idx]
	rec.mu.Lock()
	out := make([]JobID, rec.waiterCount)
	for i := 0; i < rec.waiterCount; i++ {
		out[i] = JobID(rec.waiters[i])
	}
	rec.waiterCount = 0
	rec.mu.Unlock()
	return out
}

// finalizeSubmit is submit_job's commit point: under id's lock, it checks
// the wait counter accumulated by addDependency calls (which may already
// have been decremented back toward zero by dependencies that completed
// concurrently, mid-registration) and transitions to Ready or NotReady
// based on what it observes right now, atomically with that transition.
//
// This is what makes the additive wait protocol race-free: a dependency
// completing between this job's last addDependency call and this call
// decrements wait under the same per-slot lock finalizeSubmit takes, so
// there is no window where both sides believe the other will do the
// Ready transition. Reports whether the caller should enqueue id: either
// because it became Ready, or because id was already Canceled (e.g. a
// concurrent cancel_job raced submit_job, before any dependency waiter
// was ever registered against it) and this is the only place left that
// will ever push it to a queue for cleanup. Never overwrites a job
// already Canceled with Ready or NotReady.
func (t *slotTable) finalizeSubmit(id JobID) bool {
	idx := id.index()
	rec := &t.exec[idx]
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state == StateCanceled {
		return true
	}
	if rec.wait <= 0 {
		rec.state = StateReady
		return true
	}
	rec.state = StateNotReady
	return false
}

// markRunning transitions id to Running as a worker begins executing it.
func (t *slotTable) markRunning(id JobID) {
	idx := id.index()
	rec := &t.exec[idx]
	rec.mu.Lock()
	rec.state = StateRunning
	rec.mu.Unlock()
}

// addWork adds delta to id's outstanding-work counter (self plus
// children) and returns the result. claim seeds a fresh job's counter to
// 1 directly; CreateJob adds 1 to the parent when each child is created,
// not when it is submitted, so a child that is created but never
// submitted keeps its parent from completing; completeWork subtracts 1
// per completion.
func (t *slotTable) addWork(id JobID, delta int32) int32 {
	idx := id.index()
	rec := &t.exec[idx]
	rec.mu.Lock()
	rec.work += delta
	w := rec.work
	rec.mu.Unlock()
	return w
}

// completeIfDone reports whether id's work counter has just reached zero
// here, and if so marks it Completed — unless it is already Canceled, in
// which case Canceled is left standing; cancellation is terminal and the
// rest of this file never overwrites it, completion included. Safe to
// call more than once; only the caller that observes the zero-crossing
// gets true.
func (t *slotTable) completeIfDone(id JobID) bool {
	idx := id.index()
	rec := &t.exec[idx]
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.work > 0 || rec.state == StateCompleted {
		return false
	}
	if rec.state != StateCanceled {
		rec.state = StateCompleted
	}
	return true
}

// setQueueAndBuffer attaches the ready queue and arena buffer backing a
// just-claimed job. CreateJob calls it right after claim, with the buffer
// the job's payload was carved from (the bump allocation, and any buffer
// rollover it needed, happens before the slot is claimed).
func (t *slotTable) setQueueAndBuffer(id JobID, q *queue.Queue, buf *arena.Buffer) {
	idx := id.index()
	rec := &t.exec[idx]
	rec.mu.Lock()
	if JobID(t.ids[idx].Load()) == id {
		t.desc[idx].Queue = q
		t.desc[idx].buffer = buf
	}
	rec.mu.Unlock()
}

// retire bumps idx's generation and marks it idle, so resolve(id) fails
// for anyone still holding the completed job's old id even though the
// slot has not yet been reclaimed by a new job.
func (t *slotTable) retire(idx uint32) {
	gen := (JobID(t.ids[idx].Load())).generation()
	next := (gen + 1) % constants.MaxGeneration
	t.ids[idx].Store(uint32(next) << jobIDGenShift) // valid bit left clear
}
