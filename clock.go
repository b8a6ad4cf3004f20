package stagesched

import "time"

// clockNow is the monotonic time source used throughout the scheduler. It is
// a package variable rather than a hard dependency on time.Now so tests can
// substitute a controllable clock.
var clockNow = time.Now

// nowNs returns the current monotonic time in nanoseconds.
func nowNs() int64 {
	return clockNow().UnixNano()
}
