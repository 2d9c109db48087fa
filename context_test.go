package taskgraph

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, queueCapacity int) (*Scheduler, *Context) {
	t.Helper()
	s, err := NewScheduler(Config{SlotCapacity: 64, JobsPerBuffer: 4, BufferSize: 1024, MaxWaiters: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.RegisterQueue(0, queueCapacity); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, err := s.AcquireContext(0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s, ctx
}

func countingEntry(counter *int32) EntryFunc {
	return func(ctx *Context, job *Descriptor, call CallType) int32 {
		if call == CallExecute {
			atomic.AddInt32(counter, 1)
		}
		return 0
	}
}

func TestCreateJobAndRunSingle(t *testing.T) {
	s, ctx := newTestScheduler(t, 8)

	var ran int32
	id, err := ctx.CreateJob(InvalidJobID, countingEntry(&ran), 16, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ctx.SubmitJob(id, nil, SubmitRun); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job, ok := ctx.WaitReadyJob()
	if !ok {
		t.Fatal("expected a ready job")
	}
	ctx.Run(job)

	if atomic.LoadInt32(&ran) != 1 {
		t.Errorf("expected execute to run exactly once, got %d", ran)
	}
	// Completion retires the slot's generation immediately (so resolve can
	// report null the instant a job finishes, per the stale-id scenario),
	// which means the id is already stale by the time we can ask about it.
	if _, ok := s.Resolve(id); ok {
		t.Error("expected resolve to fail immediately after completion")
	}
	if s.State(id) != StateUninitialized {
		t.Errorf("expected a retired id to read StateUninitialized, got %v", s.State(id))
	}
}

func TestContextAccessors(t *testing.T) {
	s, err := NewScheduler(Config{SlotCapacity: 16, JobsPerBuffer: 4, BufferSize: 256})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.RegisterQueue(0, 8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, err := s.AcquireContext(0, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Scheduler() != s {
		t.Error("expected Scheduler() to return the owning scheduler")
	}
	q, _ := s.GetQueue(0)
	if ctx.Queue() != q {
		t.Error("expected Queue() to return the bound ready queue")
	}
	if ctx.ThreadID() != 42 {
		t.Errorf("expected ThreadID() 42, got %d", ctx.ThreadID())
	}
}

func TestLinearChainRunsInOrder(t *testing.T) {
	_, ctx := newTestScheduler(t, 8)

	var order []int
	var mu sync.Mutex
	mark := func(n int) EntryFunc {
		return func(ctx *Context, job *Descriptor, call CallType) int32 {
			if call == CallExecute {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
			}
			return 0
		}
	}

	j1, _ := ctx.CreateJob(InvalidJobID, mark(1), 0, 1)
	j2, _ := ctx.CreateJob(InvalidJobID, mark(2), 0, 1)
	j3, _ := ctx.CreateJob(InvalidJobID, mark(3), 0, 1)

	ctx.SubmitJob(j1, nil, SubmitRun)
	ctx.SubmitJob(j2, []JobID{j1}, SubmitRun)
	ctx.SubmitJob(j3, []JobID{j2}, SubmitRun)

	for i := 0; i < 3; i++ {
		job, ok := ctx.WaitReadyJob()
		if !ok {
			t.Fatal("expected a ready job")
		}
		ctx.Run(job)
	}

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected execution order [1 2 3], got %v", order)
	}
}

func TestFanOutFanInCompletesParentLast(t *testing.T) {
	_, ctx := newTestScheduler(t, 16)

	var childRuns int32
	noop := func(ctx *Context, job *Descriptor, call CallType) int32 { return 0 }

	parent, _ := ctx.CreateJob(InvalidJobID, noop, 0, 1)
	ctx.SubmitJob(parent, nil, SubmitRun)

	const n = 8
	children := make([]JobID, n)
	for i := range children {
		children[i], _ = ctx.CreateJob(parent, countingEntry(&childRuns), 0, 1)
	}
	barrier, _ := ctx.CreateJob(parent, noop, 0, 1)

	for _, c := range children {
		ctx.SubmitJob(c, nil, SubmitRun)
	}
	ctx.SubmitJob(barrier, children, SubmitRun)

	// parent (ready immediately, no deps) + n children + the barrier,
	// which only becomes ready once all n children have completed.
	for i := 0; i < n+2; i++ {
		job, ok := ctx.WaitReadyJob()
		if !ok {
			t.Fatal("expected a ready job")
		}
		ctx.Run(job)
	}

	if atomic.LoadInt32(&childRuns) != n {
		t.Errorf("expected %d child executions, got %d", n, childRuns)
	}

	// Every job above ran synchronously on this goroutine via ctx.Run, so
	// by the time the barrier's own Run call returns, parent's work
	// counter has already reached zero and it has completed and retired
	// its slot — no spin-wait needed, and StateCompleted was never
	// observable from here in the first place (retire runs in the same
	// call that crosses the zero line).
	if _, ok := ctx.sched.Resolve(parent); ok {
		t.Error("expected parent to be retired once every child and the barrier finished")
	}
}

func TestCancellationSkipsExecuteButRunsCleanup(t *testing.T) {
	s, ctx := newTestScheduler(t, 8)

	var executed, cleaned int32
	entry := func(ctx *Context, job *Descriptor, call CallType) int32 {
		switch call {
		case CallExecute:
			atomic.AddInt32(&executed, 1)
		case CallCleanup:
			atomic.AddInt32(&cleaned, 1)
		}
		return 0
	}

	a, _ := ctx.CreateJob(InvalidJobID, entry, 0, 1)
	dependent, _ := ctx.CreateJob(InvalidJobID, countingEntry(&executed), 0, 1)

	ctx.SubmitJob(a, nil, SubmitRun)
	ctx.SubmitJob(dependent, []JobID{a}, SubmitRun)

	s.Cancel(a)

	job, ok := ctx.WaitReadyJob()
	if !ok {
		t.Fatal("expected the dependent job to become ready once a's cancellation propagated")
	}
	if job.ID != dependent {
		t.Fatalf("expected dependent job to be delivered, got %v", job.ID)
	}
	ctx.Run(job)

	if atomic.LoadInt32(&cleaned) != 1 {
		t.Errorf("expected exactly one cleanup call for the canceled job, got %d", cleaned)
	}
	// a was driven through completion (cleanup only) inside WaitReadyJob
	// before dependent was ever handed back, and dependent completed via
	// ctx.Run above: both retire their slot's generation the instant they
	// finish, so neither id resolves any more.
	if _, ok := s.Resolve(a); ok {
		t.Error("expected a's id to be retired once its cancellation completed")
	}
	if _, ok := s.Resolve(dependent); ok {
		t.Error("expected dependent's id to be retired once it completed despite a's cancellation")
	}
}

func TestCancelWhileBlockedOnDependencyStillCompletes(t *testing.T) {
	s, ctx := newTestScheduler(t, 8)

	var parentCleaned, childCleaned, depExecuted int32
	parentEntry := func(ctx *Context, job *Descriptor, call CallType) int32 {
		if call == CallCleanup {
			atomic.AddInt32(&parentCleaned, 1)
		}
		return 0
	}
	childEntry := func(ctx *Context, job *Descriptor, call CallType) int32 {
		if call == CallCleanup {
			atomic.AddInt32(&childCleaned, 1)
		}
		return 0
	}

	parent, _ := ctx.CreateJob(InvalidJobID, parentEntry, 0, 1)
	ctx.SubmitJob(parent, nil, SubmitRun)

	dep, _ := ctx.CreateJob(InvalidJobID, countingEntry(&depExecuted), 0, 1)
	ctx.SubmitJob(dep, nil, SubmitRun)

	child, _ := ctx.CreateJob(parent, childEntry, 0, 1)
	if _, err := ctx.SubmitJob(child, []JobID{dep}, SubmitRun); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st := s.State(child); st != StateNotReady {
		t.Fatalf("expected child NotReady pending its dependency, got %v", st)
	}

	// Cancel the child directly while it is still blocked on dep, not via
	// submit_job(kind=Cancel): this is the path that used to strand a
	// job forever once its one outstanding dependency later resolved,
	// since resolveWaiter only pushed NotReady waiters to their queue.
	s.Cancel(child)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			job, ok := ctx.WaitReadyJob()
			if !ok {
				return
			}
			ctx.Run(job)
		}
	}()

	deadline := time.Now().Add(time.Second)
	for (atomic.LoadInt32(&childCleaned) == 0 || atomic.LoadInt32(&parentCleaned) == 0) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if atomic.LoadInt32(&depExecuted) != 1 {
		t.Errorf("expected dep to execute once, got %d", depExecuted)
	}
	if atomic.LoadInt32(&childCleaned) != 1 {
		t.Errorf("expected the canceled child to still receive exactly one cleanup call, got %d", childCleaned)
	}
	if atomic.LoadInt32(&parentCleaned) != 1 {
		t.Errorf("expected the parent to complete once its canceled child's work was accounted for, got %d", parentCleaned)
	}
	// Both retired the moment the completion the childCleaned/parentCleaned
	// counters above already confirmed actually happened: completion
	// retires a slot's generation immediately, so resolve is the only
	// thing left to check here, not the now-stale state.
	if _, ok := s.Resolve(child); ok {
		t.Error("expected child's id to be retired once its cancellation completed")
	}
	if _, ok := s.Resolve(parent); ok {
		t.Error("expected parent's id to be retired once it completed")
	}

	s.Terminate()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected worker goroutine to exit after terminate")
	}
}

func TestAncestorCancellationPropagatesToChildren(t *testing.T) {
	s, ctx := newTestScheduler(t, 8)

	var executed, cleaned int32
	entry := func(ctx *Context, job *Descriptor, call CallType) int32 {
		switch call {
		case CallExecute:
			atomic.AddInt32(&executed, 1)
		case CallCleanup:
			atomic.AddInt32(&cleaned, 1)
		}
		return 0
	}

	parent, _ := ctx.CreateJob(InvalidJobID, entry, 0, 1)
	ctx.SubmitJob(parent, nil, SubmitRun)

	child, _ := ctx.CreateJob(parent, entry, 0, 1)
	ctx.SubmitJob(child, nil, SubmitRun)

	ctx.sched.Cancel(parent)

	// Both parent and child are observed-canceled and completed entirely
	// inside WaitReadyJob's internal retry loop (neither is ever handed
	// back to a caller), so the call itself blocks once the queue runs
	// dry; terminate the scheduler to unblock it and confirm it reports
	// the queue as done rather than a job.
	done := make(chan bool, 1)
	go func() {
		_, ok := ctx.WaitReadyJob()
		done <- ok
	}()

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&cleaned) != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if cur := atomic.LoadInt32(&cleaned); cur != 2 {
		t.Fatalf("expected cleanup on both parent and child, got %d", cur)
	}
	if atomic.LoadInt32(&executed) != 0 {
		t.Errorf("expected neither parent nor child to execute, got %d executions", executed)
	}
	// cleaned==2 already confirms child ran its cancellation-completion
	// path; its slot retired in the same call, so resolve is what's left
	// to check rather than its now-stale state.
	if _, ok := ctx.sched.Resolve(child); ok {
		t.Errorf("expected child's id to be retired once observed-canceled via its parent")
	}

	s.Terminate()
	select {
	case ok := <-done:
		if ok {
			t.Error("expected WaitReadyJob to report the queue done after terminate")
		}
	case <-time.After(time.Second):
		t.Fatal("expected WaitReadyJob to unblock after terminate")
	}
}

func TestWaiterOverflowReturnsTooManyWaiters(t *testing.T) {
	s, err := NewScheduler(Config{SlotCapacity: 128, JobsPerBuffer: 4, BufferSize: 1024, MaxWaiters: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.RegisterQueue(0, 128); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, err := s.AcquireContext(0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	noop := func(ctx *Context, job *Descriptor, call CallType) int32 { return 0 }
	d, _ := ctx.CreateJob(InvalidJobID, noop, 0, 1)
	ctx.SubmitJob(d, nil, SubmitRun)

	results := make([]SubmitResult, 3)
	for i := 0; i < 3; i++ {
		id, _ := ctx.CreateJob(InvalidJobID, noop, 0, 1)
		results[i], _ = ctx.SubmitJob(id, []JobID{d}, SubmitRun)
	}

	if results[0] != SubmitSuccess || results[1] != SubmitSuccess {
		t.Errorf("expected the first two dependents to succeed, got %v", results)
	}
	if results[2] != SubmitTooManyWaiters {
		t.Errorf("expected the third dependent to overflow, got %v", results[2])
	}
}

func TestTerminateWakesBlockedWaitReadyJob(t *testing.T) {
	s, err := NewScheduler(Config{SlotCapacity: 16, JobsPerBuffer: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.RegisterQueue(0, 8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := 0; i < 4; i++ {
		ctx, err := s.AcquireContext(0, uint64(i+1))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		wg.Add(1)
		go func(i int, c *Context) {
			defer wg.Done()
			_, ok := c.WaitReadyJob()
			results[i] = ok
		}(i, ctx)
	}

	time.Sleep(10 * time.Millisecond)
	s.Terminate()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected all blocked WaitReadyJob calls to return after Terminate")
	}

	for i, ok := range results {
		if ok {
			t.Errorf("expected worker %d's WaitReadyJob to return false after terminate", i)
		}
	}
}

func TestResolveAndCancelAfterCompletion(t *testing.T) {
	s, ctx := newTestScheduler(t, 8)
	noop := func(ctx *Context, job *Descriptor, call CallType) int32 { return 0 }

	id, _ := ctx.CreateJob(InvalidJobID, noop, 0, 1)
	ctx.SubmitJob(id, nil, SubmitRun)
	job, ok := ctx.WaitReadyJob()
	if !ok {
		t.Fatal("expected a ready job")
	}
	ctx.Run(job)

	if _, ok := s.Resolve(id); ok {
		t.Error("expected resolve to fail immediately after completion")
	}
	if got := s.Cancel(id); got != StateUninitialized {
		t.Errorf("expected cancel on a completed-then-stale id to return Uninitialized, got %v", got)
	}
}
