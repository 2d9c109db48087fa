package taskgraph

import (
	"testing"
)

func TestMetricsInitialState(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()

	if snap.JobsCreated != 0 || snap.JobsCompleted != 0 {
		t.Errorf("expected zeroed counters on a fresh Metrics, got %+v", snap)
	}
}

func TestMetricsRecordLifecycle(t *testing.T) {
	m := NewMetrics()

	m.RecordCreate()
	m.RecordCreate()
	m.RecordComplete(5_000)
	m.RecordCancel()
	m.RecordWaiterOverflow()

	snap := m.Snapshot()
	if snap.JobsCreated != 2 {
		t.Errorf("expected 2 created, got %d", snap.JobsCreated)
	}
	if snap.JobsCompleted != 1 {
		t.Errorf("expected 1 completed, got %d", snap.JobsCompleted)
	}
	if snap.JobsCanceled != 1 {
		t.Errorf("expected 1 canceled, got %d", snap.JobsCanceled)
	}
	if snap.WaiterOverflows != 1 {
		t.Errorf("expected 1 waiter overflow, got %d", snap.WaiterOverflows)
	}
	if snap.AvgLatencyNs != 5_000 {
		t.Errorf("expected avg latency 5000ns, got %d", snap.AvgLatencyNs)
	}
}

func TestMetricsQueueDepthTracking(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(3)
	m.RecordQueueDepth(9)
	m.RecordQueueDepth(1)

	snap := m.Snapshot()
	if snap.MaxQueueDepth != 9 {
		t.Errorf("expected max depth 9, got %d", snap.MaxQueueDepth)
	}
	wantAvg := float64(3+9+1) / 3
	if snap.AvgQueueDepth != wantAvg {
		t.Errorf("expected avg depth %v, got %v", wantAvg, snap.AvgQueueDepth)
	}
}

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 100; i++ {
		m.RecordComplete(500) // all in the first bucket
	}
	snap := m.Snapshot()
	if snap.LatencyP50Ns == 0 {
		t.Error("expected a non-zero p50 once samples exist")
	}
	if snap.LatencyP50Ns > LatencyBuckets[0] {
		t.Errorf("expected p50 within first bucket bound, got %d", snap.LatencyP50Ns)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordCreate()
	m.RecordComplete(1000)
	m.Reset()

	snap := m.Snapshot()
	if snap.JobsCreated != 0 || snap.JobsCompleted != 0 || snap.AvgLatencyNs != 0 {
		t.Errorf("expected Reset to zero all counters, got %+v", snap)
	}
}

func TestMetricsObserverRouting(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveJobCreated()
	obs.ObserveJobCompleted(2_000)
	obs.ObserveJobCanceled()
	obs.ObserveWaiterOverflow()
	obs.ObserveQueueDepth(0, 4)

	snap := m.Snapshot()
	if snap.JobsCreated != 1 || snap.JobsCompleted != 1 || snap.JobsCanceled != 1 || snap.WaiterOverflows != 1 {
		t.Errorf("expected observer calls to route into Metrics, got %+v", snap)
	}
	if snap.MaxQueueDepth != 4 {
		t.Errorf("expected queue depth 4, got %d", snap.MaxQueueDepth)
	}
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var o NoOpObserver
	o.ObserveJobCreated()
	o.ObserveJobCompleted(1)
	o.ObserveJobCanceled()
	o.ObserveWaiterOverflow()
	o.ObserveQueueDepth(0, 0)
}
