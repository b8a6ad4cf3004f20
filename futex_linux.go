//go:build linux

package stagesched

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// golang.org/x/sys/unix has no Futex wrapper, so the syscall is invoked
// directly via its numeric op codes (matching the Linux kernel ABI).
const (
	futexWait = 0
	futexWake = 1
)

// waitOnAtomic parks the calling goroutine until cond reports true, using a
// Linux FUTEX_WAIT on word's low 32 bits to sleep
// between polls instead of busy-spinning. Go has no direct equivalent of a
// hardware monitor/mwait pair for a goroutine, so this is the closest
// available primitive: every futex wake (real or spurious) or timeout
// re-enters the loop and re-checks cond, exactly as FUTEX_WAIT requires.
func waitOnAtomic(word *atomic.Uint64, cond func() bool) {
	addr := (*uint32)(unsafe.Pointer(word))
	for {
		if cond() {
			return
		}
		observed := atomic.LoadUint32(addr)
		ts := unix.Timespec{Sec: 0, Nsec: int64(time.Millisecond)}
		_, _, _ = unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWait, uintptr(observed), uintptr(unsafe.Pointer(&ts)), 0, 0)
	}
}

// wakeAtomic wakes one goroutine parked in waitOnAtomic on word, if any.
// It is a hint only: waitOnAtomic's own timeout bounds the wait regardless.
func wakeAtomic(word *atomic.Uint64) {
	addr := (*uint32)(unsafe.Pointer(word))
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWake, 1, 0, 0, 0)
}
