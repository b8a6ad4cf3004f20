package stagesched

import "sync/atomic"

// cputimeShift trades ns resolution for range: shifting off the low 10 bits
// gives each 32-bit half of the packed word roughly 1.07ms granularity,
// which in turn gives the packed word a correctness window of a little
// over 2200 seconds between publishes -- far more than any plausible
// context-switch interval.
const cputimeShift = 10

// cputimeEstimator lets thread_clock read a running thread's elapsed CPU
// time without taking a lock. It packs the low 32 bits of running_since and
// the low 32 bits of the thread's total accumulated CPU time into a single
// atomic word, published fresh every time the thread is scheduled in.
// Readers reconstruct the missing high bits from the current wall-clock
// time and from the thread's last fully-known total.
type cputimeEstimator struct {
	packed atomic.Uint64
}

func packCputime(runningSinceNs, totalCPUTimeNs int64) uint64 {
	rsLo := uint32(uint64(runningSinceNs) >> cputimeShift)
	tcLo := uint32(uint64(totalCPUTimeNs) >> cputimeShift)
	return uint64(rsLo)<<32 | uint64(tcLo)
}

// publish records a fresh (running_since, total_cpu_time) pair. Called by
// the scheduler loop every time it schedules a thread in.
func (e *cputimeEstimator) publish(runningSinceNs, totalCPUTimeNs int64) {
	e.packed.Store(packCputime(runningSinceNs, totalCPUTimeNs))
}

// estimate reconstructs the approximate accumulated CPU time for a thread
// that may currently be running, given the current wall-clock time and the
// thread's total as of its most recent schedule-out (lastKnownTotalNs).
func (e *cputimeEstimator) estimate(nowNs, lastKnownTotalNs int64) int64 {
	packed := e.packed.Load()
	rsLo := uint32(packed >> 32)
	tcLo := uint32(packed)

	nowLo := uint32(uint64(nowNs) >> cputimeShift)
	elapsedLo := nowLo - rsLo // wraparound-safe: unsigned subtraction

	refShifted := uint64(lastKnownTotalNs) >> cputimeShift
	refLo := uint32(refShifted)
	hi := refShifted >> 32

	if tcLo > refLo && hi > 0 {
		// The saved low bits are from just before a carry into the high
		// half that the reference value has already observed.
		hi--
	}

	totalShifted := hi<<32 | uint64(tcLo)
	totalShifted += uint64(elapsedLo)
	return int64(totalShifted << cputimeShift)
}
