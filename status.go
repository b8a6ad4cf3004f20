package stagesched

import (
	"sync/atomic"
)

// Status is one value of a thread's status word. It encodes both the
// scheduler state and, for states that participate in
// the wakeup protocol, a "_run"/"_sto" suffix distinguishing "has already
// scheduled out" from "still on-CPU".
type Status uint32

const (
	StatusInvalid Status = iota // sentinel; never a thread's steady-state status

	StatusUnstarted  // created, not yet runnable
	StatusPrestarted // created before SMP brought up

	StatusWaitingRun // about to sleep, still executing
	StatusWaitingSto // sleeping, context-switched out

	StatusSendingLockRun // mutex wait-morphing in progress (still on-CPU)
	StatusSendingLockSto // mutex wait-morphing in progress (scheduled out)

	StatusWakingRun // wake requested, thread has not yet scheduled out
	StatusWakingSto // wake requested, thread must be enqueued by the drainer

	StatusStagemigRun // migrating CPUs due to stage change, still on-CPU
	StatusStagemigSto // migrating CPUs due to stage change, scheduled out

	StatusQueued // on a CPU's run queue
	StatusRunning // currently executing

	StatusTerminating // has left the scheduler, awaits finalization
	StatusTerminated  // finalized; join may return
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusUnstarted:
		return "unstarted"
	case StatusPrestarted:
		return "prestarted"
	case StatusWaitingRun:
		return "waiting_run"
	case StatusWaitingSto:
		return "waiting_sto"
	case StatusSendingLockRun:
		return "sending_lock_run"
	case StatusSendingLockSto:
		return "sending_lock_sto"
	case StatusWakingRun:
		return "waking_run"
	case StatusWakingSto:
		return "waking_sto"
	case StatusStagemigRun:
		return "stagemig_run"
	case StatusStagemigSto:
		return "stagemig_sto"
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusTerminating:
		return "terminating"
	case StatusTerminated:
		return "terminated"
	default:
		return "invalid"
	}
}

// sto returns the "_sto" (scheduled out) counterpart of a "_run" status. It
// returns s unchanged for every other status, including the "_sto" members
// of each pair.
func (s Status) sto() Status {
	switch s {
	case StatusWaitingRun:
		return StatusWaitingSto
	case StatusSendingLockRun:
		return StatusSendingLockSto
	case StatusWakingRun:
		return StatusWakingSto
	case StatusStagemigRun:
		return StatusStagemigSto
	default:
		return s
	}
}

// statusWord is a lock-free, cache-line-padded atomic holder of a thread's
// Status: pure CAS, no mutex, no built-in transition validation on the hot
// path (validation, where it happens, is a separate debug-only check via
// assertInvariant).
type statusWord struct { //nolint:govet // cache-line padding intentionally breaks natural alignment
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

// newStatusWord creates a status word initialized to the given status.
func newStatusWord(initial Status) *statusWord {
	w := &statusWord{}
	w.v.Store(uint32(initial))
	return w
}

// Load returns the current status.
func (w *statusWord) Load() Status {
	return Status(w.v.Load())
}

// Store unconditionally sets the status. Reserved for irreversible
// transitions (e.g. StatusTerminated) where no concurrent CAS race is
// possible by construction.
func (w *statusWord) Store(s Status) {
	w.v.Store(uint32(s))
}

// CompareAndSwap attempts from -> to and reports whether it succeeded.
func (w *statusWord) CompareAndSwap(from, to Status) bool {
	return w.v.CompareAndSwap(uint32(from), uint32(to))
}

