package stagesched

import (
	"errors"
	"fmt"
)

// ErrThreadIDsExhausted is returned by thread creation when a full sweep of
// the id space finds no free id.
var ErrThreadIDsExhausted = errors.New("stagesched: thread id space exhausted")

// ErrStageCapacityExceeded is returned by Scheduler.DefineStage when all
// stage slots are in use.
var ErrStageCapacityExceeded = errors.New("stagesched: stage capacity exceeded")

// ErrSchedulerTerminated reports that the scheduler has begun shutting
// down. No function in this package returns it; operations after Shutdown
// are not rejected.
var ErrSchedulerTerminated = errors.New("stagesched: scheduler terminated")

// ErrThreadTerminated reports that a thread has already exited. No function
// in this package returns it; Pin and the other thread operations do not
// check for a terminated target.
var ErrThreadTerminated = errors.New("stagesched: thread already terminated")

// TimeoutError is returned by Thread.WaitUntil when a timeout elapses before
// the predicate becomes true.
type TimeoutError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "stagesched: wait timed out"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// WrapError wraps an error with a message, preserving the cause chain so
// that errors.Is(result, cause) == true.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}

// invariantViolation is the panic value used by assertInvariant. It is
// never recovered in production: an invariant violation means a CAS
// protocol observed a state the state machine proves cannot happen, and
// continuing to run risks corrupting run queues shared with other CPUs.
type invariantViolation struct {
	msg string
}

func (p invariantViolation) String() string {
	return p.msg
}

// assertInvariant is the single choke point through which every protocol
// violation detected by the scheduler core passes. It always panics; there
// is deliberately no recoverable error path here -- a broken scheduler
// invariant means the process's state is no longer trustworthy.
func assertInvariant(cond bool, format string, args ...any) {
	if cond {
		return
	}
	panic(invariantViolation{msg: fmt.Sprintf(format, args...)})
}
