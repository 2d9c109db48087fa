package taskgraph

import (
	"errors"
	"fmt"
)

// Error is a structured error carrying enough context to diagnose a
// scheduler failure without parsing a message string.
type Error struct {
	Op    string    // operation that failed, e.g. "create_job", "submit_job"
	JobID JobID     // associated job, if any (InvalidJobID if not applicable)
	Queue uint32    // associated queue id, if any
	Code  ErrorCode // high-level error category
	Msg   string    // human-readable detail
	Inner error     // wrapped error, if any
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.JobID != InvalidJobID {
		parts = append(parts, fmt.Sprintf("job=%#x", uint32(e.JobID)))
	}
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("taskgraph: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("taskgraph: %s", msg)
}

// Unwrap supports errors.Is/As against the wrapped error.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison by error code, matching either a
// structured *Error or a bare ErrorCode sentinel.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if code, ok := target.(ErrorCode); ok {
		return e.Code == code
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode categorizes scheduler failures at a level callers can branch
// on without string matching.
type ErrorCode string

func (c ErrorCode) Error() string { return string(c) }

const (
	ErrCodeInvalidJob      ErrorCode = "invalid job"
	ErrCodeTooManyWaiters  ErrorCode = "too many waiters"
	ErrCodeSlotExhausted   ErrorCode = "slot table exhausted"
	ErrCodeBufferExhausted ErrorCode = "job buffer pool exhausted"
	ErrCodeQueueExhausted  ErrorCode = "queue registry exhausted"
	ErrCodeInvalidConfig   ErrorCode = "invalid configuration"
)

// NewError constructs a structured error for op with no extra context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewJobError constructs a structured error scoped to a specific job.
func NewJobError(op string, id JobID, code ErrorCode, msg string) *Error {
	return &Error{Op: op, JobID: id, Code: code, Msg: msg}
}

// WrapError wraps inner with operation context, preserving its code if it
// is already a *Error.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		return &Error{Op: op, JobID: e.JobID, Queue: e.Queue, Code: e.Code, Msg: e.Msg, Inner: e.Inner}
	}
	return &Error{Op: op, Code: ErrCodeInvalidConfig, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err (or something it wraps) carries code.
func IsCode(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return errors.Is(err, code)
}
