package taskgraph

import "github.com/vorta-labs/taskgraph/internal/constants"

// Re-exported defaults. DefaultConfig returns these, and NewScheduler fills
// zero Config fields from them.
const (
	DefaultSlotCapacity  = constants.DefaultSlotCapacity
	DefaultJobsPerBuffer = constants.DefaultJobsPerBuffer
	DefaultBufferSize    = constants.DefaultBufferSize
	DefaultMaxWaiters    = constants.DefaultMaxWaiters
	DefaultMaxQueues     = constants.DefaultMaxQueues
)
