package taskgraph

import "testing"

func TestPackJobIDRoundTrip(t *testing.T) {
	id := packJobID(42, 7)
	if !id.valid() {
		t.Fatal("expected packed id to be valid")
	}
	if id.index() != 42 {
		t.Errorf("expected index 42, got %d", id.index())
	}
	if id.generation() != 7 {
		t.Errorf("expected generation 7, got %d", id.generation())
	}
}

func TestInvalidJobIDIsZero(t *testing.T) {
	if InvalidJobID.valid() {
		t.Error("expected the zero JobID to be invalid")
	}
}

func TestSlotTableClaimAndResolve(t *testing.T) {
	st := newSlotTable(8, 4)
	id := st.claim(3, InvalidJobID, nil, nil)

	d, ok := st.resolve(id)
	if !ok {
		t.Fatal("expected resolve to succeed for a freshly claimed slot")
	}
	if d.ID != id {
		t.Errorf("expected descriptor id %v, got %v", id, d.ID)
	}
	if st.state(id) != StateNotSubmitted {
		t.Errorf("expected StateNotSubmitted, got %v", st.state(id))
	}
}

func TestSlotTableRetireInvalidatesResolve(t *testing.T) {
	st := newSlotTable(8, 4)
	id := st.claim(1, InvalidJobID, nil, nil)

	st.retire(1)

	if _, ok := st.resolve(id); ok {
		t.Error("expected resolve to fail for a retired slot's old id")
	}

	next := st.claim(1, InvalidJobID, nil, nil)
	if next.generation() != id.generation()+1 {
		t.Errorf("expected generation to advance by 1 on reuse, got %d -> %d",
			id.generation(), next.generation())
	}
}

func TestSlotTableCancelIsIdempotentAtTerminal(t *testing.T) {
	st := newSlotTable(8, 4)
	id := st.claim(0, InvalidJobID, nil, nil)

	if st.cancel(id) != StateCanceled {
		t.Error("expected first cancel to transition to Canceled")
	}
	if st.cancel(id) != StateCanceled {
		t.Error("expected second cancel to remain Canceled")
	}
}

func TestSlotTableCancelStaleIDReturnsUninitialized(t *testing.T) {
	st := newSlotTable(8, 4)
	id := st.claim(0, InvalidJobID, nil, nil)
	st.retire(0)

	if got := st.cancel(id); got != StateUninitialized {
		t.Errorf("expected cancel on a stale id to return Uninitialized, got %v", got)
	}
}

func TestSlotTableDependencyWaiterOverflow(t *testing.T) {
	st := newSlotTable(8, 2)
	dep := st.claim(0, InvalidJobID, nil, nil)

	a := st.claim(1, InvalidJobID, nil, nil)
	b := st.claim(2, InvalidJobID, nil, nil)
	c := st.claim(3, InvalidJobID, nil, nil)

	if !st.addDependency(a, dep) {
		t.Fatal("expected first dependency registration to succeed")
	}
	if !st.addDependency(b, dep) {
		t.Fatal("expected second dependency registration to succeed")
	}
	if st.addDependency(c, dep) {
		t.Fatal("expected third dependency registration to overflow the 2-slot waiter list")
	}
}

func TestSlotTableDrainWaitersResolvesDependents(t *testing.T) {
	st := newSlotTable(8, 4)
	dep := st.claim(0, InvalidJobID, nil, nil)
	a := st.claim(1, InvalidJobID, nil, nil)

	st.addDependency(a, dep)
	st.finalizeSubmit(a)

	waiters := st.drainWaiters(dep)
	if len(waiters) != 1 || waiters[0] != a {
		t.Fatalf("expected exactly [a] drained, got %v", waiters)
	}
	if !st.resolveWaiter(a) {
		t.Error("expected resolving a's last dependency to report ready")
	}
	if st.state(a) != StateReady {
		t.Errorf("expected a to be Ready after its dependency resolved, got %v", st.state(a))
	}
}

func TestSlotTableWorkCounterCompletion(t *testing.T) {
	st := newSlotTable(8, 4)
	id := st.claim(0, InvalidJobID, nil, nil) // work starts at 1

	if st.completeIfDone(id) {
		t.Fatal("expected completeIfDone to report false while work is outstanding")
	}

	st.addWork(id, -1)
	if !st.completeIfDone(id) {
		t.Fatal("expected completeIfDone to report true once work reaches zero")
	}
	if st.state(id) != StateCompleted {
		t.Errorf("expected StateCompleted, got %v", st.state(id))
	}
	if st.completeIfDone(id) {
		t.Error("expected a second completeIfDone call to be a no-op")
	}
}

func TestSlotTableCompleteIfDoneNeverOverwritesCanceled(t *testing.T) {
	st := newSlotTable(8, 4)
	id := st.claim(0, InvalidJobID, nil, nil) // work starts at 1

	st.cancel(id)
	if st.state(id) != StateCanceled {
		t.Fatalf("expected cancel to take effect, got %v", st.state(id))
	}

	st.addWork(id, -1)
	if !st.completeIfDone(id) {
		t.Fatal("expected completeIfDone to report true once work reaches zero even when canceled")
	}
	if st.state(id) != StateCanceled {
		t.Errorf("expected state to remain Canceled, got %v", st.state(id))
	}
}
