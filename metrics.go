package taskgraph

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets are the job-completion-latency histogram boundaries, in
// nanoseconds, spanning 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks job-lifecycle statistics for a Scheduler.
type Metrics struct {
	JobsCreated   atomic.Uint64
	JobsCompleted atomic.Uint64
	JobsCanceled  atomic.Uint64
	WaiterOverflows atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a Metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCreate records a job creation.
func (m *Metrics) RecordCreate() { m.JobsCreated.Add(1) }

// RecordComplete records a job's observed completion and the latency from
// its submission, in nanoseconds.
func (m *Metrics) RecordComplete(latencyNs uint64) {
	m.JobsCompleted.Add(1)
	m.recordLatency(latencyNs)
}

// RecordCancel records a job transitioning to Canceled.
func (m *Metrics) RecordCancel() { m.JobsCanceled.Add(1) }

// RecordWaiterOverflow records a submit_job call that hit TooManyWaiters.
func (m *Metrics) RecordWaiterOverflow() { m.WaiterOverflows.Add(1) }

// RecordQueueDepth samples a queue's current depth.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the scheduler as torn down.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time copy of Metrics with derived stats.
type MetricsSnapshot struct {
	JobsCreated     uint64
	JobsCompleted   uint64
	JobsCanceled    uint64
	WaiterOverflows uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	CompletionRate float64 // completed jobs per second
}

// Snapshot captures the current counters and derives rate statistics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		JobsCreated:     m.JobsCreated.Load(),
		JobsCompleted:   m.JobsCompleted.Load(),
		JobsCanceled:    m.JobsCanceled.Load(),
		WaiterOverflows: m.WaiterOverflows.Load(),
		MaxQueueDepth:   m.MaxQueueDepth.Load(),
	}

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		snap.CompletionRate = float64(snap.JobsCompleted) / (float64(snap.UptimeNs) / 1e9)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at percentile (0.0-1.0) via
// linear interpolation across the histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters, restarting StartTime at now. Intended for
// tests that want a clean Metrics without constructing a new Scheduler.
func (m *Metrics) Reset() {
	m.JobsCreated.Store(0)
	m.JobsCompleted.Store(0)
	m.JobsCanceled.Store(0)
	m.WaiterOverflows.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable collection of scheduler events, so embedders
// can wire in their own metrics system instead of (or alongside) Metrics.
type Observer interface {
	ObserveJobCreated()
	ObserveJobCompleted(latencyNs uint64)
	ObserveJobCanceled()
	ObserveWaiterOverflow()
	ObserveQueueDepth(queueID uint32, depth int)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveJobCreated()                      {}
func (NoOpObserver) ObserveJobCompleted(uint64)              {}
func (NoOpObserver) ObserveJobCanceled()                     {}
func (NoOpObserver) ObserveWaiterOverflow()                  {}
func (NoOpObserver) ObserveQueueDepth(uint32, int)           {}

// MetricsObserver routes Observer events into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver returns an Observer backed by m.
func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{metrics: m} }

func (o *MetricsObserver) ObserveJobCreated()             { o.metrics.RecordCreate() }
func (o *MetricsObserver) ObserveJobCompleted(ns uint64)  { o.metrics.RecordComplete(ns) }
func (o *MetricsObserver) ObserveJobCanceled()            { o.metrics.RecordCancel() }
func (o *MetricsObserver) ObserveWaiterOverflow()         { o.metrics.RecordWaiterOverflow() }
func (o *MetricsObserver) ObserveQueueDepth(_ uint32, depth int) {
	o.metrics.RecordQueueDepth(uint32(depth))
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
