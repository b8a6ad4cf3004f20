package stagesched

// Enqueue declares that t now belongs to stage s and moves it onto one of
// s's designated CPUs, migrating itself there in place if that differs from
// its current CPU. t must be calling this from its own running goroutine;
// calling Enqueue on a thread other than the caller itself is a misuse of
// the API.
//
// This is the stage-migration protocol proper, grounded on
// original_source/core/sched.cc's stage::enqueue: CAS the thread to
// stagemig_run, reattribute it from its old stage (if any) to s, then either
// reschedule locally (same CPU) or hand it to the target CPU's stage
// migration queue and invoke the scheduler to switch away, leaving the
// target's own dequeue pass to pick the thread back up.
func (t *Thread) Enqueue(s *Stage) {
	source := t.homeCPU()
	assertInvariant(source.Current() == t, "Enqueue: thread %d is not current", t.id)
	assertInvariant(t.migratable(), "Enqueue: thread %d is not migratable", t.id)

	target := s.enqueuePolicy()
	if target == nil {
		target = t.scheduler.leastLoadedCPU()
	}

	assertInvariant(t.status.CompareAndSwap(StatusRunning, StatusStagemigRun),
		"Enqueue: thread %d not running", t.id)

	if old := t.stage.Load(); old != nil {
		old.decrementCIn()
	}
	t.stage.Store(s)
	s.incrementCIn()

	if target == source {
		assertInvariant(t.status.CompareAndSwap(StatusStagemigRun, StatusRunning),
			"Enqueue: thread %d stagemig_run not held for same-CPU reschedule", t.id)
		source.schedule(t, false)
		return
	}

	t.migratingTimers = suspendTimers(source, t)
	t.cpuRef.Store(target)
	t.migrations.Add(1)
	if m := t.scheduler.metrics; m != nil {
		m.recordMigration()
	}
	logMigration(t.scheduler.opts.logger, t, source.id, target.id)

	target.incomingStage.push(t)
	target.wakeups.signal(source.id)

	source.schedule(t, true)
}

// migrateForWake relocates a woken, not-yet-running thread from its current
// home CPU to target before the wakeup is actually delivered. It always
// runs on the waker's goroutine, never on the migrating thread's own -- the
// migrating thread is asleep by construction (Wake only reaches here after
// a _sto CAS succeeded).
func (t *Thread) migrateForWake(target *CPU) *CPU {
	old := t.cpuRef.Load()
	if old == nil || old == target {
		return target
	}
	t.migratingTimers = suspendTimers(old, t)
	t.cpuRef.Store(target)
	t.migrations.Add(1)
	if m := t.scheduler.metrics; m != nil {
		m.recordMigration()
	}
	logMigration(t.scheduler.opts.logger, t, old.id, target.id)
	return target
}

// Pin permanently binds the thread to cpu and disables stage-driven
// migration. Any timers currently armed on the thread's old CPU are moved
// to cpu immediately, the same way a stage-driven migration relocates them;
// otherwise a timer set before Pin would go on expiring against a CPU the
// thread is no longer bound to.
func (t *Thread) Pin(cpu *CPU) {
	t.pinned.Store(true)
	old := t.cpuRef.Swap(cpu)
	if old != nil && old != cpu {
		resumeTimers(cpu, t, suspendTimers(old, t))
	}
}

// Unpin releases a pin installed by Pin, making the thread eligible for
// stage-driven migration again.
func (t *Thread) Unpin() {
	t.pinned.Store(false)
}

// DisableMigration and EnableMigration implement a nestable migration-lock
// counter, for code that must not be relocated across a short critical
// section such as a per-CPU access.
func (t *Thread) DisableMigration() {
	t.migrateDisable.Add(1)
}

func (t *Thread) EnableMigration() {
	assertInvariant(t.migrateDisable.Add(-1) >= 0,
		"EnableMigration: thread %d migrate_disable underflow", t.id)
}
