// Package constants holds the compile-time bounds of the scheduler core.
// They are deliberately fixed per build rather than runtime-resizable: the
// specification treats dynamic resizing of the slot space as a non-goal.
package constants

// Default configuration constants. These mirror the values a host embedding
// the scheduler is expected to compile with; Config overrides them per
// Scheduler instance but DefaultConfig returns exactly these.
const (
	// DefaultSlotCapacity is the number of (descriptor, execution-record)
	// pairs in the slot table. Must be a power of two. Ready queues are
	// sized separately, by the capacity passed when each is registered.
	DefaultSlotCapacity = 1 << 16 // 65536

	// DefaultJobsPerBuffer sizes the arena pool
	// (ceil(SlotCapacity/DefaultJobsPerBuffer) buffers). It does not cap how
	// many jobs are carved from one buffer; a context rolls over to a fresh
	// buffer only when the current one runs out of bytes.
	DefaultJobsPerBuffer = 64

	// DefaultBufferSize is the backing capacity, in bytes, of one job
	// buffer.
	DefaultBufferSize = DefaultJobsPerBuffer * 1024 // 64 KiB

	// DefaultMaxWaiters bounds the waiter-slot array embedded in every
	// execution record. A dependency whose waiter list is full rejects the
	// registration with TooManyWaiters rather than growing unbounded.
	DefaultMaxWaiters = 32

	// DefaultMaxQueues bounds the scheduler's queue registry.
	DefaultMaxQueues = 16
)

// Packed job-identifier layout: bit 0 is the valid flag, the next 16 bits
// are the slot index, and the high 15 bits are the generation.
const (
	JobIDValidBits = 1
	JobIDIndexBits = 16
	JobIDGenBits   = 15

	// MaxGeneration is one past the highest representable generation value;
	// generations wrap modulo this.
	MaxGeneration = 1 << JobIDGenBits
)