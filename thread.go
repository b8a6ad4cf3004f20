package stagesched

import (
	"sync/atomic"
	"time"
)

const (
	detachFlagDetached  uint32 = 1 << 0
	detachFlagCompleted uint32 = 1 << 1
)

// ThreadFunc is the body of a Thread, supplied to Scheduler.CreateThread. It
// runs on a dedicated goroutine that only executes while the thread holds
// its home CPU's run token; calls into t.WaitUntil/t.Yield hand that token
// back to the scheduler for the duration of the suspension.
type ThreadFunc func(t *Thread)

// ThreadAttr configures a thread at creation time.
type ThreadAttr struct {
	Name     string
	Pin      *CPU // non-nil pins the thread to a specific CPU from birth
	Detached bool
}

// Thread is a user-level scheduling entity. Its status word is the single
// authority for where it may be touched; every concurrent primitive in this
// package is built on CAS sequences over it.
type Thread struct {
	id   uint32
	name string
	fn   ThreadFunc

	scheduler *Scheduler
	status    *statusWord

	cpuRef atomic.Pointer[CPU]
	stage  atomic.Pointer[Stage]

	rqNext, rqPrev *Thread // runQueue intrusive link
	wqNext         *Thread // wakeupQueue intrusive link
	smqNext        *Thread // stageMigrationQueue intrusive link

	activeTimers activeTimerList
	cputime      cputimeEstimator
	totalCPUTime atomic.Int64

	// migratingTimers holds timers suspended by migrateForWake until the
	// target CPU's drain loop re-arms them; nil outside of a migration.
	migratingTimers []*Timer

	contextSwitches atomic.Uint64
	preemptions     atomic.Uint64
	migrations      atomic.Uint64

	wokenAt atomic.Int64 // nowNs() at the last successful Wake, consumed once by the CPU that dispatches it

	pinned         atomic.Bool
	migrateDisable atomic.Int32

	detachFlags atomic.Uint32
	terminatedCh chan struct{}
	resumeCh     chan struct{}

	cleanup func()

	tls []any

	exitNotifiers *notifierList

	idle bool // true only for a CPU's idle thread
}

// Priority levels a Thread may report through Priority. Thread dispatch
// order is governed entirely by run queue position; these values are
// informational only, mirroring the upstream scheduler's own stubbed
// priority controls (set_priority is a no-op there too).
const (
	PriorityIdle    float64 = -1
	PriorityDefault float64 = 0
)

// newThread allocates a Thread. It does not register it; the caller
// (Scheduler.newManagedThread) adds it to the scheduler's registry.
func newThread(s *Scheduler, id uint32, attr ThreadAttr, fn ThreadFunc) *Thread {
	t := &Thread{
		id:            id,
		name:          attr.Name,
		fn:            fn,
		scheduler:     s,
		status:        newStatusWord(StatusUnstarted),
		terminatedCh:  make(chan struct{}),
		resumeCh:      make(chan struct{}, 1),
		exitNotifiers: newNotifierList(),
		tls:           make([]any, s.tlsSlots),
	}
	if attr.Detached {
		t.detachFlags.Store(detachFlagDetached)
	}
	if attr.Pin != nil {
		t.pinned.Store(true)
		t.cpuRef.Store(attr.Pin)
	}
	return t
}

// newIdleThread builds the always-runnable idle thread for a CPU. It never
// goes through the registry and carries idle (lowest, non-preemptable)
// scheduling priority.
func newIdleThread(cpu *CPU) *Thread {
	t := &Thread{
		id:           0,
		name:         "idle",
		scheduler:    cpu.scheduler,
		status:       newStatusWord(StatusRunning),
		terminatedCh: make(chan struct{}),
		resumeCh:     make(chan struct{}, 1),
		idle:         true,
	}
	t.cpuRef.Store(cpu)
	return t
}

// ID returns the thread's unique, small-integer identifier.
func (t *Thread) ID() uint32 { return t.id }

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// Status returns the thread's current status word value.
func (t *Thread) Status() Status { return t.status.Load() }

// CPU returns the thread's current home CPU.
func (t *Thread) CPU() *CPU { return t.cpuRef.Load() }

func (t *Thread) homeCPU() *CPU { return t.cpuRef.Load() }

// SetCleanup registers a closure the reaper runs exactly once, after
// termination.
func (t *Thread) SetCleanup(fn func()) { t.cleanup = fn }

// SetPriority is a no-op: run queue position, not priority, governs
// dispatch order. It exists for parity with callers ported from schedulers
// where priority is a real input; see Priority.
func (t *Thread) SetPriority(priority float64) {}

// Priority reports PriorityIdle for a CPU's idle thread and
// PriorityDefault for every other thread; see SetPriority.
func (t *Thread) Priority() float64 {
	if t.idle {
		return PriorityIdle
	}
	return PriorityDefault
}

// StackInfo describes a thread's stack. Go goroutines grow their stacks
// automatically at the runtime level, so there is nothing analogous to the
// fixed (base, size) allocation this type mirrors; GetStackInfo always
// returns the zero value.
type StackInfo struct {
	Base uintptr
	Size uintptr
}

// GetStackInfo returns the thread's stack descriptor. See StackInfo.
func (t *Thread) GetStackInfo() StackInfo { return StackInfo{} }

// UnsafeStop forces a thread parked in StatusWaitingSto directly to
// StatusTerminated, bypassing its cleanup callback and the reaper. It
// reports whether the thread ended up terminated, either because this call
// won the race or because it had already terminated by some other path.
// Callers that use it must not also Join the thread: nothing on this path
// closes terminatedCh.
func (t *Thread) UnsafeStop() bool {
	if t.status.CompareAndSwap(StatusWaitingSto, StatusTerminated) {
		return true
	}
	return t.status.Load() == StatusTerminated
}

// TLSGet/TLSSet implement the per-thread TLS vector indexed by module;
// slot 0 is reserved for the scheduler core itself.
func (t *Thread) TLSGet(slot int) any {
	if slot < 0 || slot >= len(t.tls) {
		return nil
	}
	return t.tls[slot]
}

func (t *Thread) TLSSet(slot int, v any) {
	if slot < 0 || slot >= len(t.tls) {
		return
	}
	t.tls[slot] = v
}

// RegisterExitNotifier subscribes fn to run when this thread completes,
// returning the notifier's id. Thread has no method that unsubscribes it.
func (t *Thread) RegisterExitNotifier(fn func(*Thread)) uint64 {
	return t.exitNotifiers.add(func(v any) { fn(v.(*Thread)) })
}

// activeTimersPushBack/activeTimersRemove are timer.go's hooks into a
// thread's active-timers list.
func (t *Thread) activeTimersPushBack(tm *Timer) { t.activeTimers.pushBack(tm) }
func (t *Thread) activeTimersRemove(tm *Timer)   { t.activeTimers.remove(tm) }

// drainPendingTimers returns the timers a landing CPU should re-arm: those
// suspended by a cross-CPU migrateForWake, if any, otherwise whatever is
// still linked into the thread's own active-timers list (the ordinary,
// non-migrating wake case).
func (t *Thread) drainPendingTimers() []*Timer {
	if pending := t.migratingTimers; pending != nil {
		t.migratingTimers = nil
		return pending
	}
	return t.activeTimers.drain()
}

// ThreadClock returns the thread's estimated accumulated CPU time as of
// now, using the lock-free cputime estimator while the thread may be
// running.
func (t *Thread) ThreadClock() time.Duration {
	now := nowNs()
	total := t.totalCPUTime.Load()
	if t.status.Load() != StatusRunning {
		return time.Duration(total)
	}
	return time.Duration(t.cputime.estimate(now, total))
}

// Start makes the thread runnable for the first time.
func (t *Thread) Start() {
	cpu := t.cpuRef.Load()
	if cpu == nil {
		cpu = t.scheduler.leastLoadedCPU()
		t.cpuRef.Store(cpu)
	}
	assertInvariant(t.status.CompareAndSwap(StatusUnstarted, StatusWaitingSto),
		"Start: thread %d not unstarted", t.id)
	go t.runBody()
	t.Wake()
}

// runBody is the thread's dedicated goroutine: it waits for its first
// dispatch, runs the user function, then completes.
func (t *Thread) runBody() {
	<-t.resumeCh
	if t.fn != nil {
		t.fn(t)
	}
	t.complete()
}

// wakeTransition is one candidate (source, target) pair tried in order by
// Wake.
type wakeTransition struct {
	from, to Status
}

var wakeTransitions = []wakeTransition{
	{StatusWaitingRun, StatusWakingRun},
	{StatusWaitingSto, StatusWakingSto},
	{StatusSendingLockRun, StatusWakingRun},
	{StatusSendingLockSto, StatusWakingSto},
}

// Wake is infallible by contract: if nothing matches, the thread was
// already woken by someone else or is already running, and Wake silently
// returns.
func (t *Thread) Wake() {
	var wasSto bool
	matched := false
	for _, tr := range wakeTransitions {
		if t.status.CompareAndSwap(tr.from, tr.to) {
			wasSto = tr.to == StatusWakingSto
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	t.wokenAt.Store(nowNs())

	target := t.homeCPU()
	if wasSto && t.migratable() {
		if stage := t.stage.Load(); stage != nil {
			if candidate := stage.enqueuePolicy(); candidate != nil && candidate != target {
				target = t.migrateForWake(candidate)
			}
		}
	}

	target.wakeups.push(0, t)
}

// migratable reports whether the thread may be relocated by the wakeup
// protocol: not pinned, and migration is not disabled.
func (t *Thread) migratable() bool {
	return !t.pinned.Load() && t.migrateDisable.Load() == 0
}

// Yield hands the CPU to the next runnable thread while remaining
// runnable itself, processing any incoming wakeups first.
func (t *Thread) Yield() {
	cpu := t.homeCPU()
	assertInvariant(cpu.Current() == t, "Yield: thread %d is not current", t.id)
	cpu.schedule(t, false)
}

// WaitUntil blocks until pred returns true, or until timeout elapses if
// timeout > 0. If pred is already true, no context switch occurs.
func (t *Thread) WaitUntil(pred func() bool, timeout time.Duration) error {
	cpu := t.homeCPU()
	for {
		if pred() {
			return nil
		}
		assertInvariant(t.status.CompareAndSwap(StatusRunning, StatusWaitingRun),
			"WaitUntil: thread %d not running", t.id)

		var timer *Timer
		if timeout > 0 {
			timer = &Timer{owner: t, callback: func() { t.Wake() }}
			cpu.timers.set(timer, nowNs()+int64(timeout))
		}

		cpu.schedule(t, true)

		if timer != nil {
			if timer.Expired() {
				if !pred() {
					return &TimeoutError{}
				}
			} else {
				cpu.timers.cancel(timer)
			}
		}
	}
}

// Wait blocks until pred returns true, with no timeout.
func (t *Thread) Wait(pred func() bool) { _ = t.WaitUntil(pred, 0) }

// Join blocks until the thread has terminated. Multiple concurrent
// joiners are all released when the thread terminates.
func (t *Thread) Join() error {
	<-t.terminatedCh
	return nil
}

// Detach marks the thread detached; if it has already completed, it is
// immediately enlisted with the reaper.
func (t *Thread) Detach() {
	for {
		old := t.detachFlags.Load()
		next := old | detachFlagDetached
		if old == next {
			return
		}
		if t.detachFlags.CompareAndSwap(old, next) {
			if old&detachFlagCompleted != 0 {
				t.scheduler.reaper.enqueue(t)
			}
			return
		}
	}
}

// markCompleted CASes in the completed flag and reports whether the
// thread was already detached (and should therefore be enlisted with the
// reaper immediately).
func (t *Thread) markCompleted() (alreadyDetached bool) {
	for {
		old := t.detachFlags.Load()
		assertInvariant(old&detachFlagCompleted == 0, "complete: thread %d completed twice", t.id)
		next := old | detachFlagCompleted
		if t.detachFlags.CompareAndSwap(old, next) {
			return old&detachFlagDetached != 0
		}
	}
}

// complete runs exit notifiers, finalizes the detach/complete state
// machine, and hands the CPU off for the last time; the thread's goroutine
// then returns and exits.
func (t *Thread) complete() {
	t.exitNotifiers.notify(t)
	enlist := t.markCompleted()
	t.status.Store(StatusTerminating)

	cpu := t.homeCPU()
	if prior := cpu.terminatingThread.Swap(t); prior != nil {
		t.scheduler.reaper.finalize(prior)
	}
	if enlist {
		t.scheduler.reaper.enqueue(t)
	}
	cpu.scheduleExit(t)
}
