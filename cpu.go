package stagesched

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// CPU is one simulated processor: an independent run queue, timer set, and
// incoming-wakeup fabric, plus an idle thread that runs whenever the queue
// is empty.
//
// Only one goroutine is ever "active" (not parked on its own resumeCh) for
// a given CPU at a time; CPU.schedule enforces this by handing the run
// token from the outgoing thread's goroutine directly to the incoming
// thread's goroutine, which plays the role of the source's switch_to. The
// run queue is therefore touched by exactly one goroutine at a time and has
// no lock of its own; the timer set (which migration reaches into from the
// waker's goroutine), the wakeup fabric and the stage migration queue
// (which other CPUs push into) have their own locks.
type CPU struct {
	id        int
	scheduler *Scheduler

	rq      runQueue
	timers  *cpuTimers
	wakeups wakeupFabric
	incomingStage stageMigrationQueue

	idle *Thread

	current      atomic.Pointer[Thread]
	runningSince atomic.Int64

	terminatingThread atomic.Pointer[Thread]

	bringUpOnce sync.Once
	upCh        chan struct{}
}

func newCPU(id int, s *Scheduler) *CPU {
	c := &CPU{
		id:        id,
		scheduler: s,
		timers:    newCPUTimers(),
		upCh:      make(chan struct{}),
	}
	c.idle = newIdleThread(c)
	return c
}

// ID returns the CPU's immutable identifier.
func (c *CPU) ID() int { return c.id }

// Load returns the current run queue length.
func (c *CPU) Load() int { return c.rq.Len() }

// Current returns the thread currently executing on this CPU.
func (c *CPU) Current() *Thread { return c.current.Load() }

// bringUp starts the CPU's idle loop goroutine. Must be called exactly
// once, from Scheduler.BringUp.
func (c *CPU) bringUp() {
	c.bringUpOnce.Do(func() {
		c.current.Store(c.idle)
		c.idle.status.Store(StatusRunning)
		c.runningSince.Store(nowNs())
		close(c.upCh)
		go c.idleLoop()
		c.scheduler.bringUpNotifiers.notify(c)
	})
}

// idleLoop is the idle thread's body: poll wakeups and the stage migration
// queue, wait when there is nothing to do, and invoke the scheduler when
// work appears.
func (c *CPU) idleLoop() {
	for {
		c.drainIncomingLocked(c.idle)
		if !c.rq.empty() {
			c.schedule(c.idle, false)
			continue
		}
		c.parkIdle()
	}
}

// timerDue reports whether this CPU's earliest armed timer has already
// reached its deadline, so parkIdle knows to stop waiting even with no
// pending wakeup.
func (c *CPU) timerDue() bool {
	last := c.timers.last
	return last != 0 && nowNs() >= last
}

// parkIdle waits for the wakeup mask or stage migration queue to become
// non-empty, via the wait_on_atomic primitive, falling back to a short poll
// loop where that primitive is unavailable. It also wakes on its own once
// the CPU's next armed timer comes due, since nothing else would otherwise
// nudge an idle CPU to expire it.
func (c *CPU) parkIdle() {
	waitOnAtomic(&c.wakeups.mask, func() bool {
		return c.wakeups.pending() || !c.incomingStage.empty() || c.timerDue()
	})
}

// drainIncomingLocked expires any due timers, then processes both the
// incoming-wakeup fabric and the stage migration queue, as every reschedule
// pass must. The stage migration queue is skipped when outgoing is itself
// mid-migration (stagemig_run): its own Enqueue already reassigned this CPU
// as its source, and the thread it is trying to hand off belongs on the
// target CPU's drain pass, not this one's.
func (c *CPU) drainIncomingLocked(outgoing *Thread) (selfWoke bool) {
	c.timers.expireDue(nowNs())
	woken := c.wakeups.drainAll()
	selfWoke = c.processWakeups(outgoing, woken)
	if outgoing.status.Load() != StatusStagemigRun {
		c.stageDequeue()
	}
	return selfWoke
}

// processWakeups handles every thread delivered through the wakeup fabric:
// either it is the outgoing thread waking itself (reported back to the
// caller so the sleep can be cancelled), or it is spin-CAS'd from
// waking_sto to queued and enqueued.
func (c *CPU) processWakeups(outgoing *Thread, woken []*Thread) (selfWoke bool) {
	for _, t := range woken {
		if t == outgoing {
			assertInvariant(t.status.CompareAndSwap(StatusWakingRun, StatusRunning),
				"processWakeups: self-wake thread %d not waking_run", t.id)
			selfWoke = true
			continue
		}
		for !t.status.CompareAndSwap(StatusWakingSto, StatusQueued) {
			if t.status.Load() != StatusWakingRun {
				break
			}
			runtime.Gosched()
		}
		c.rq.pushBack(t)
		if stage := t.stage.Load(); stage != nil {
			stage.incrementCIn()
		}
		resumeTimers(c, t, t.drainPendingTimers())
	}
	return selfWoke
}

// stageDequeue drains the stage migration queue fully, spin-CASing each
// thread from stagemig_sto to queued (retrying while the source CPU's
// context switch is still in flight), then enqueuing it.
func (c *CPU) stageDequeue() {
	for {
		t, ok := c.incomingStage.pop()
		if !ok {
			return
		}
		for !t.status.CompareAndSwap(StatusStagemigSto, StatusQueued) {
			runtime.Gosched()
		}
		c.rq.pushBack(t)
		if stage := t.stage.Load(); stage != nil {
			stage.incrementCIn()
		}
		resumeTimers(c, t, t.drainPendingTimers())
	}
}

// schedule switches the CPU away from outgoing, its current thread.
// outgoing is always the CPU's current thread, calling in from its own
// goroutine; goingToSleep indicates the caller is not runnable here any more
// (Wait, or a cross-CPU Thread.Enqueue; termination goes through
// scheduleExit instead) as opposed to a voluntary Yield or preemption, where
// the outgoing thread remains runnable and is simply re-enqueued.
func (c *CPU) schedule(outgoing *Thread, goingToSleep bool) {
	assertInvariant(c.current.Load() == outgoing, "schedule: %d is not current on cpu %d", outgoing.id, c.id)

	if c.drainIncomingLocked(outgoing) {
		goingToSleep = false // the outgoing thread was woken by itself mid-drain
	}

	now := nowNs()
	interval := now - c.runningSince.Load()
	if interval <= 0 {
		interval = int64(c.scheduler.opts.tickGranularity)
	}
	outgoing.totalCPUTime.Add(interval)

	wasAttributedToStage := outgoing.stage.Load() != nil

	keepRunning := false
	if !goingToSleep && outgoing.status.Load() != StatusStagemigRun {
		switch {
		case outgoing == c.idle && c.rq.empty():
			keepRunning = true
		case c.rq.empty():
			keepRunning = true
		default:
			assertInvariant(outgoing.status.CompareAndSwap(StatusRunning, StatusQueued),
				"schedule: outgoing %d not running before requeue", outgoing.id)
			outgoing.preemptions.Add(1)
			if m := c.scheduler.metrics; m != nil {
				m.recordPreemption()
			}
			c.rq.pushBack(outgoing)
		}
	}

	if !keepRunning && goingToSleep && wasAttributedToStage {
		if stage := outgoing.stage.Load(); stage != nil {
			stage.decrementCIn()
		}
	}

	if keepRunning {
		c.runningSince.Store(now)
		return
	}

	// The outgoing thread is leaving the CPU without being requeued: if its
	// status still carries a "_run" suffix (waiting_run, sending_lock_run,
	// waking_run, stagemig_run), convert it to the matching "_sto" form
	// before handing off, so a wake arriving after this point sees it
	// parked rather than still apparently running.
	if from := outgoing.status.Load(); from.sto() != from {
		to := from.sto()
		assertInvariant(outgoing.status.CompareAndSwap(from, to),
			"schedule: outgoing %d _run->_sto transition failed", outgoing.id)
	}

	next := c.rq.popFront()
	if next == nil {
		next = c.idle
	}
	if next != c.idle {
		assertInvariant(next.status.CompareAndSwap(StatusQueued, StatusRunning),
			"schedule: next %d not queued", next.id)
	} else {
		next.status.Store(StatusRunning)
	}

	c.current.Store(next)
	c.runningSince.Store(now)
	next.contextSwitches.Add(1)
	next.cputime.publish(now, next.totalCPUTime.Load())
	c.recordDispatch(next, now)

	if dying := c.terminatingThread.Swap(nil); dying != nil && dying != next {
		c.scheduler.reaper.finalize(dying)
	}

	if next != outgoing {
		next.resumeCh <- struct{}{}
		<-outgoing.resumeCh
	}
}

// recordDispatch feeds the scheduler's Metrics, if enabled, whenever a
// thread starts running: every dispatch counts as a context switch, and a
// thread woken since its last run contributes one wake-latency sample.
func (c *CPU) recordDispatch(next *Thread, now int64) {
	m := c.scheduler.metrics
	if m == nil {
		return
	}
	m.recordContextSwitch()
	if wa := next.wokenAt.Swap(0); wa != 0 {
		m.RecordWakeLatency(time.Duration(now - wa))
	}
}

// reschedule calls CPU.schedule on behalf of the CPU's current thread, which
// gives up the CPU while remaining runnable.
func (c *CPU) reschedule() {
	c.schedule(c.current.Load(), false)
}

// scheduleExit is CPU.schedule's terminal variant, used by Thread.complete:
// the outgoing thread is never runnable again, so there is no re-enqueue
// branch and, crucially, the calling goroutine never blocks on its own
// resumeCh afterward -- it returns and exits instead.
func (c *CPU) scheduleExit(outgoing *Thread) {
	c.drainIncomingLocked(outgoing)

	now := nowNs()
	interval := now - c.runningSince.Load()
	if interval <= 0 {
		interval = int64(c.scheduler.opts.tickGranularity)
	}
	outgoing.totalCPUTime.Add(interval)

	if stage := outgoing.stage.Load(); stage != nil {
		stage.decrementCIn()
	}

	next := c.rq.popFront()
	if next == nil {
		next = c.idle
	}
	if next != c.idle {
		assertInvariant(next.status.CompareAndSwap(StatusQueued, StatusRunning),
			"scheduleExit: next %d not queued", next.id)
	} else {
		next.status.Store(StatusRunning)
	}

	c.current.Store(next)
	c.runningSince.Store(now)
	next.contextSwitches.Add(1)
	next.cputime.publish(now, next.totalCPUTime.Load())
	c.recordDispatch(next, now)

	if prior := c.terminatingThread.Swap(nil); prior != nil && prior != outgoing {
		c.scheduler.reaper.finalize(prior)
	}
	c.scheduler.reaper.finalize(outgoing)

	next.resumeCh <- struct{}{}
}
