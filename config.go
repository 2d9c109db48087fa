package taskgraph

import "github.com/vorta-labs/taskgraph/internal/logging"

// Logger is the minimal logging surface the scheduler and job context
// depend on. internal/logging.Logger satisfies it structurally;
// callers may plug in any logger that does.
type Logger interface {
	Debug(msg string, fields ...any)
	Warn(msg string, fields ...any)
}

var _ Logger = (*logging.Logger)(nil)

// Config configures a Scheduler. Zero-valued fields are filled in by
// DefaultConfig's values when passed through NewScheduler.
type Config struct {
	// SlotCapacity is the number of job slots; must be a power of two.
	SlotCapacity int
	// JobsPerBuffer sizes the job buffer pool: at most
	// ceil(SlotCapacity/JobsPerBuffer) buffers exist. It does not cap how
	// many jobs one buffer backs; a context rolls to a fresh buffer only
	// when the current one runs out of bytes.
	JobsPerBuffer int
	// BufferSize is the byte capacity of each job buffer.
	BufferSize int
	// MaxWaiters bounds the waiter list on every execution record.
	MaxWaiters int
	// MaxQueues bounds the scheduler's queue registry.
	MaxQueues int
	// Logger receives diagnostic events; nil disables logging.
	Logger Logger
	// Observer receives lifecycle metrics events; nil disables them.
	Observer Observer
}

// DefaultConfig returns the §6 constant defaults.
func DefaultConfig() Config {
	return Config{
		SlotCapacity:  DefaultSlotCapacity,
		JobsPerBuffer: DefaultJobsPerBuffer,
		BufferSize:    DefaultBufferSize,
		MaxWaiters:    DefaultMaxWaiters,
		MaxQueues:     DefaultMaxQueues,
	}
}

// normalize fills zero fields from DefaultConfig and validates the result.
func (c Config) normalize() (Config, error) {
	d := DefaultConfig()
	if c.SlotCapacity == 0 {
		c.SlotCapacity = d.SlotCapacity
	}
	if c.JobsPerBuffer == 0 {
		c.JobsPerBuffer = d.JobsPerBuffer
	}
	if c.BufferSize == 0 {
		c.BufferSize = d.BufferSize
	}
	if c.MaxWaiters == 0 {
		c.MaxWaiters = d.MaxWaiters
	}
	if c.MaxQueues == 0 {
		c.MaxQueues = d.MaxQueues
	}
	if c.Observer == nil {
		c.Observer = NoOpObserver{}
	}

	if c.SlotCapacity <= 0 || c.SlotCapacity&(c.SlotCapacity-1) != 0 {
		return c, NewError("new_scheduler", ErrCodeInvalidConfig, "slot capacity must be a positive power of two")
	}
	if c.JobsPerBuffer <= 0 {
		return c, NewError("new_scheduler", ErrCodeInvalidConfig, "jobs per buffer must be positive")
	}
	if c.BufferSize <= 0 {
		return c, NewError("new_scheduler", ErrCodeInvalidConfig, "buffer size must be positive")
	}
	if c.MaxWaiters <= 0 || c.MaxWaiters > DefaultMaxWaiters {
		return c, NewError("new_scheduler", ErrCodeInvalidConfig, "max waiters must be in (0, DefaultMaxWaiters]")
	}
	if c.MaxQueues <= 0 {
		return c, NewError("new_scheduler", ErrCodeInvalidConfig, "max queues must be positive")
	}
	return c, nil
}
