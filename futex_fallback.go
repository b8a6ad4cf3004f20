//go:build !linux

package stagesched

import (
	"sync/atomic"
	"time"
)

// waitOnAtomic is the portable fallback for platforms without a futex-style
// primitive: a short poll loop. Correctness never depends on wakeAtomic
// actually reaching a parked waiter here, only on bounded latency.
func waitOnAtomic(word *atomic.Uint64, cond func() bool) {
	const pollInterval = time.Millisecond
	for !cond() {
		time.Sleep(pollInterval)
	}
}

func wakeAtomic(word *atomic.Uint64) {}
