package taskgraph

import (
	"sync"

	"github.com/vorta-labs/taskgraph/internal/arena"
	"github.com/vorta-labs/taskgraph/internal/queue"
)

// Scheduler owns the slot table, the job buffer arena, and the registry
// of ready queues that contexts submit into and pull from. One Scheduler
// backs an entire job graph; contexts are cheap, short-lived handles
// acquired from it per worker goroutine.
type Scheduler struct {
	cfg Config

	slots   *slotTable
	pool    *arena.Pool
	freeIdx chan uint32

	queuesMu sync.Mutex
	queues   map[uint32]*queue.Queue

	workersMu sync.Mutex
	workers   map[uint32]int // ref-counted count of live contexts per queue id

	ctxMu   sync.Mutex
	freeCtx []*Context

	observer Observer
	logger   Logger
}

// NewScheduler builds a Scheduler from cfg, filling unset fields from
// DefaultConfig and validating the result.
func NewScheduler(cfg Config) (*Scheduler, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:      cfg,
		slots:    newSlotTable(cfg.SlotCapacity, cfg.MaxWaiters),
		pool:     arena.NewPool(cfg.BufferSize, cfg.JobsPerBuffer, cfg.SlotCapacity),
		freeIdx:  make(chan uint32, cfg.SlotCapacity),
		queues:   make(map[uint32]*queue.Queue, cfg.MaxQueues),
		workers:  make(map[uint32]int, cfg.MaxQueues),
		observer: cfg.Observer,
		logger:   cfg.Logger,
	}
	for i := 0; i < cfg.SlotCapacity; i++ {
		s.freeIdx <- uint32(i)
	}
	return s, nil
}

func (s *Scheduler) logDebug(msg string, fields ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, fields...)
	}
}

func (s *Scheduler) logWarn(msg string, fields ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, fields...)
	}
}

// RegisterQueue creates and registers a ready queue of the given id and
// capacity (must be a power of two), failing once MaxQueues registrations
// have been made or id is already taken.
func (s *Scheduler) RegisterQueue(id uint32, capacity int) (*queue.Queue, error) {
	s.queuesMu.Lock()
	defer s.queuesMu.Unlock()

	if _, exists := s.queues[id]; exists {
		return nil, NewError("register_queue", ErrCodeInvalidConfig, "queue id already registered")
	}
	if len(s.queues) >= s.cfg.MaxQueues {
		return nil, NewError("register_queue", ErrCodeQueueExhausted, "queue registry exhausted")
	}
	q := queue.New(id, capacity)
	s.queues[id] = q
	return q, nil
}

// GetQueue looks up a previously registered queue by id.
func (s *Scheduler) GetQueue(id uint32) (*queue.Queue, bool) {
	s.queuesMu.Lock()
	defer s.queuesMu.Unlock()
	q, ok := s.queues[id]
	return q, ok
}

// Terminate signals every registered queue to stop accepting new work and
// drain, waking any goroutines blocked in Push or Take.
func (s *Scheduler) Terminate() {
	s.queuesMu.Lock()
	defer s.queuesMu.Unlock()
	for _, q := range s.queues {
		q.Signal(queue.SignalTerminate)
	}
}

// AcquireContext returns a Context bound to the named queue and to
// ownerThreadID, reusing one from the free list if available and
// allocating a fresh one (with its own arena buffer) otherwise. The free
// list has no upper bound: a Context pool "exhausted" condition in this
// scheduler means the arena pool backing new buffers is out of buffers,
// not that the context free list has a cap — tracked as allocation
// failure from Acquire below, not simulated against a fixed pool size.
//
// Acquiring against queueID bumps that queue's entry in the worker
// registry: first sight of a queue id adds the entry at 1, every further
// acquire against it just bumps the count. ReleaseContext decrements it
// and drops the entry entirely once it reaches zero. GetWorkerCount
// reports the registry's current view of a queue.
func (s *Scheduler) AcquireContext(queueID uint32, ownerThreadID uint64) (*Context, error) {
	q, ok := s.GetQueue(queueID)
	if !ok {
		return nil, NewError("acquire_context", ErrCodeInvalidConfig, "unknown queue id")
	}
	s.bumpWorkerCount(queueID, 1)

	s.ctxMu.Lock()
	if n := len(s.freeCtx); n > 0 {
		ctx := s.freeCtx[n-1]
		s.freeCtx = s.freeCtx[:n-1]
		s.ctxMu.Unlock()
		ctx.queue = q
		ctx.queueID = queueID
		ctx.threadID = ownerThreadID
		return ctx, nil
	}
	s.ctxMu.Unlock()

	buf, ok := s.pool.Acquire(nil)
	if !ok {
		s.bumpWorkerCount(queueID, -1)
		return nil, NewError("acquire_context", ErrCodeBufferExhausted, "job buffer pool exhausted")
	}
	return &Context{sched: s, queue: q, queueID: queueID, threadID: ownerThreadID, buffer: buf}, nil
}

// ReleaseContext returns ctx to the free list for reuse by a future
// AcquireContext call and drops ctx's reservation against its queue in
// the worker registry. ctx must not be used again by its caller after
// this returns.
func (s *Scheduler) ReleaseContext(ctx *Context) {
	s.bumpWorkerCount(ctx.queueID, -1)
	s.ctxMu.Lock()
	s.freeCtx = append(s.freeCtx, ctx)
	s.ctxMu.Unlock()
}

// bumpWorkerCount adds delta to queueID's live-context count in the
// worker registry, removing the entry outright once it reaches zero
// rather than leaving a stale zero behind.
func (s *Scheduler) bumpWorkerCount(queueID uint32, delta int) {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	n := s.workers[queueID] + delta
	if n <= 0 {
		delete(s.workers, queueID)
		return
	}
	s.workers[queueID] = n
}

// GetWorkerCount reports how many contexts are currently acquired against
// queueID, and whether the registry has an entry for it at all (ok=false
// means no context has ever been acquired against it, or the count has
// since dropped back to zero and the entry was removed).
func (s *Scheduler) GetWorkerCount(queueID uint32) (int, bool) {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	n, ok := s.workers[queueID]
	return n, ok
}

// allocSlot reserves a free slot index, failing with ErrCodeSlotExhausted
// once every slot in the table is occupied.
func (s *Scheduler) allocSlot() (uint32, error) {
	select {
	case idx := <-s.freeIdx:
		return idx, nil
	default:
		return 0, NewError("create_job", ErrCodeSlotExhausted, "slot table exhausted")
	}
}

// freeSlot returns idx to the free pool after its occupant has completed
// and its generation has been bumped.
func (s *Scheduler) freeSlot(idx uint32) {
	s.freeIdx <- idx
}

// Resolve returns a snapshot of the descriptor addressed by id, or
// ok=false if id is invalid, out of range, or stale (its slot has moved
// on to a later generation).
func (s *Scheduler) Resolve(id JobID) (Descriptor, bool) {
	return s.slots.resolve(id)
}

// State reports the current lifecycle state of the job addressed by id.
func (s *Scheduler) State(id JobID) State {
	return s.slots.state(id)
}

// Cancel marks the job addressed by id Canceled unless it has already
// reached a terminal state, returning the resulting state.
func (s *Scheduler) Cancel(id JobID) State {
	st := s.slots.cancel(id)
	if st == StateCanceled {
		s.observer.ObserveJobCanceled()
	}
	return st
}

// SlotCapacity reports the configured size of the slot table.
func (s *Scheduler) SlotCapacity() int { return s.slots.capacity() }
