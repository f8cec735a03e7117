package sched

import (
	"errors"
	"fmt"
)

// Caller errors returned by the queue operations. These report bad
// arguments or preconditions and leave scheduler state untouched.
var (
	// ErrInvalidThread indicates a nil thread or one without an
	// initialized scheduling context.
	ErrInvalidThread = errors.New("invalid thread: no scheduling context")

	// ErrAlreadyQueued indicates an enqueue of a thread that is
	// already sitting on a ready queue.
	ErrAlreadyQueued = errors.New("thread already on a ready queue")

	// ErrInvalidAffinity indicates an enqueue whose resolved
	// destination names a core outside the configured range.
	ErrInvalidAffinity = errors.New("affinity does not resolve to a valid core")

	// ErrInvalidCore indicates an operation invoked with a core
	// identifier outside the configured range.
	ErrInvalidCore = errors.New("core identifier out of range")

	// ErrNotRemovable indicates a dequeue of an idle thread, which
	// never sits on a ready queue.
	ErrNotRemovable = errors.New("idle threads cannot be dequeued")

	// ErrWrongCore indicates a dequeue issued on a core other than
	// the one holding the thread.
	ErrWrongCore = errors.New("thread is queued on a different core")

	// ErrNotQueued indicates a dequeue of a thread that is not in the
	// READY state.
	ErrNotQueued = errors.New("thread is not on a ready queue")
)

// InvariantError is the panic payload raised when the scheduler detects
// corrupted internal state, such as a queued thread whose recorded core
// or state disagrees with the queue holding it. It is not recoverable:
// continuing to schedule from a corrupted queue would hand out threads
// whose context cannot be trusted.
type InvariantError struct {
	// Core is the core on which the violation was detected.
	Core CoreID

	// Thread is the offending thread, if one is involved.
	Thread *Thread

	// Msg describes the violated invariant.
	Msg string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Thread != nil {
		return fmt.Sprintf("scheduler invariant violated on core %d: %s: %s", e.Core, e.Msg, e.Thread)
	}
	return fmt.Sprintf("scheduler invariant violated on core %d: %s", e.Core, e.Msg)
}

// IsInvariantError reports whether a recovered panic value carries an
// InvariantError, for harnesses that contain scheduler failures.
func IsInvariantError(v any) (*InvariantError, bool) {
	err, ok := v.(error)
	if !ok {
		return nil, false
	}
	var inv *InvariantError
	if errors.As(err, &inv) {
		return inv, true
	}
	return nil, false
}
