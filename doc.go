// Package stagesched implements a per-CPU, preemptive thread scheduler with
// a cross-CPU "stage" dispatcher layered on top of it.
//
// # Architecture
//
// Each simulated processor ([CPU]) is a dedicated goroutine that owns a run
// queue, a timer heap, and an incoming-wakeup fabric. Scheduling entities
// ([Thread]) are themselves backed by one goroutine each, but that goroutine
// only executes its body while holding the owning CPU's run token:
// [Thread.Wait], [Thread.Yield], and thread termination all hand the token
// back to the CPU's scheduler loop, which plays the role of the
// context-switch boundary between threads.
//
// On top of the per-CPU core sits the [Stage] subsystem: a named logical
// phase of a pipeline that threads join via [Stage.Spawn] (at birth) or
// [Thread.Enqueue] (migrating themselves in, while running). A background
// assignment controller periodically repartitions the CPU set among stages
// in proportion to observed load; a thread migrates onto its stage's newly
// assigned CPU the next time it calls Enqueue or is woken.
//
// # Concurrency model
//
// Parallelism is across CPUs, each with an independent run queue and
// scheduler loop; scheduling within one CPU is cooperative between the
// currently running thread and that CPU's loop. Cross-CPU coordination
// (wakeups, migrations, stage re-assignment) uses lock-free CAS protocols
// over an atomic thread status word, described in status.go.
//
// # Thread safety
//
// [Scheduler], [CPU], and [Thread] methods are safe for concurrent use from
// any goroutine except where documented otherwise.
package stagesched
