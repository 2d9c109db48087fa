package taskgraph

import (
	"github.com/vorta-labs/taskgraph/internal/arena"
	"github.com/vorta-labs/taskgraph/internal/constants"
	"github.com/vorta-labs/taskgraph/internal/queue"
)

// JobID is a packed handle into the slot table: bit 0 is a validity flag,
// bits 1-16 are the slot index, and bits 17-31 are the slot's generation
// at the time this id was issued. A resolve against a slot whose current
// generation differs returns nothing — the handle is stale.
type JobID uint32

// InvalidJobID is the zero value: valid bit unset, matching the
// requirement that zeroed storage decodes to an invalid, unresolvable id.
const InvalidJobID JobID = 0

const (
	jobIDIndexShift = 1
	jobIDGenShift   = 1 + constants.JobIDIndexBits
	jobIDIndexMask  = uint32(1<<constants.JobIDIndexBits-1) << jobIDIndexShift
	jobIDGenMask    = uint32(1<<constants.JobIDGenBits-1) << jobIDGenShift
)

func packJobID(index uint32, generation uint32) JobID {
	return JobID(1 | (index << jobIDIndexShift) | ((generation % constants.MaxGeneration) << jobIDGenShift))
}

func (id JobID) valid() bool { return id&1 == 1 }

func (id JobID) index() uint32 { return (uint32(id) & jobIDIndexMask) >> jobIDIndexShift }

func (id JobID) generation() uint32 { return (uint32(id) & jobIDGenMask) >> jobIDGenShift }

// Index exposes the slot index a job id addresses; mainly useful for
// logging and tests.
func (id JobID) Index() uint32 { return id.index() }

// CallType distinguishes the two calls a job entry point receives.
type CallType int

const (
	// CallExecute runs the job's actual work. Every accepted (non-canceled)
	// job receives exactly one Execute call.
	CallExecute CallType = iota
	// CallCleanup releases job-owned resources. Every job that reaches
	// complete_job receives exactly one Cleanup call, whether or not it
	// ever ran — a canceled job that never executed still gets Cleanup.
	CallCleanup
)

// EntryFunc is a job's entry point, invoked once with CallExecute (if the
// job ran) and exactly once with CallCleanup.
type EntryFunc func(ctx *Context, job *Descriptor, call CallType) int32

// State is a job's position in its lifecycle state machine.
type State int32

const (
	// StateUninitialized is the zero value: no job occupies the slot.
	StateUninitialized State = iota
	StateNotSubmitted
	StateNotReady
	StateReady
	StateRunning
	StateCompleted
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateNotSubmitted:
		return "not_submitted"
	case StateNotReady:
		return "not_ready"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// SubmitKind distinguishes a normal submission from a cancellation
// request passed to submit_job.
type SubmitKind int

const (
	SubmitRun SubmitKind = iota
	SubmitCancel
)

// SubmitResult reports how a submission was accepted.
type SubmitResult int

const (
	SubmitSuccess SubmitResult = iota
	SubmitInvalidJob
	SubmitTooManyWaiters
)

// Descriptor is a job's public-facing record: its identity, its place in
// the parent/child and dependency graph, its entry point, and its
// arena-backed payload. Descriptor fields are only safe to mutate while
// holding the owning slot's execution-record lock; callers normally only
// read the copy handed back by resolve/wait_ready_job.
type Descriptor struct {
	ID       JobID
	Parent   JobID
	Queue    *queue.Queue
	Entry    EntryFunc
	Payload  []byte
	ExitCode int32
	submitAt int64 // UnixNano at submit_job, for latency metrics

	buffer *arena.Buffer
}
