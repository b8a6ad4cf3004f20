package stagesched

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// timerState is a Timer's lifecycle state.
type timerState int32

const (
	timerFree timerState = iota
	timerArmed
	timerExpired
)

// Timer is a single per-CPU armed deadline, keyed by (fireAt, id). It
// doubles as an entry in its owning thread's active-timers list so
// migration can move pending timers between CPUs.
type Timer struct {
	id       uint64
	fireAt   int64 // ns, monotonic clock domain
	state    atomic.Int32
	callback func()
	owner    *Thread

	heapIndex int // index into the owning CPU's timerHeap; -1 when not queued

	atNext, atPrev *Timer // owner's active-timers list link
}

func (t *Timer) Expired() bool {
	return timerState(t.state.Load()) == timerExpired
}

// timerHeap is a container/heap.Interface keeping armed timers ordered by
// (fireAt, id).
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].fireAt != h[j].fireAt {
		return h[i].fireAt < h[j].fireAt
	}
	return h[i].id < h[j].id
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// cpuTimers is the per-CPU ordered timer set plus a "next expiry" cache. The
// owning CPU's own scheduler-loop goroutine is its usual caller, but thread
// migration also reaches into a CPU's timer set from whichever goroutine is
// handling the wake (migrateForWake, Pin), so the heap and its cached
// deadline are guarded by mu rather than assumed single-goroutine.
type cpuTimers struct {
	mu     sync.Mutex
	h      timerHeap
	nextID uint64
	last   int64 // cached earliest fireAt, or 0 if empty
}

func newCPUTimers() *cpuTimers {
	return &cpuTimers{h: make(timerHeap, 0, 16)}
}

// set arms t, transitioning free/expired -> armed, and inserts it into this
// CPU's list and the owning thread's active-timers list. Reports whether
// the inserted timer became the new earliest deadline (caller should rearm
// the underlying clock event in that case).
func (ct *cpuTimers) set(t *Timer, fireAt int64) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if t.id == 0 {
		ct.nextID++
		t.id = ct.nextID
	}
	t.state.Store(int32(timerArmed))
	t.fireAt = fireAt
	heap.Push(&ct.h, t)
	if t.owner != nil {
		t.owner.activeTimersPushBack(t)
	}
	if ct.last == 0 || fireAt < ct.last {
		ct.last = fireAt
		return true
	}
	return false
}

// cancel reverses set: transitions to free and removes t from both lists.
// No-op if t is not currently armed on this CPU.
func (ct *cpuTimers) cancel(t *Timer) {
	ct.mu.Lock()
	if timerState(t.state.Load()) != timerArmed || t.heapIndex < 0 || t.heapIndex >= len(ct.h) {
		ct.mu.Unlock()
		return
	}
	heap.Remove(&ct.h, t.heapIndex)
	t.state.Store(int32(timerFree))
	ct.recomputeLast()
	ct.mu.Unlock()
	if t.owner != nil {
		t.owner.activeTimersRemove(t)
	}
}

// reset re-arms t with a new fire time, preserving active-timers list
// membership and only moving t within this CPU's heap.
func (ct *cpuTimers) reset(t *Timer, fireAt int64) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if t.heapIndex >= 0 && t.heapIndex < len(ct.h) {
		heap.Remove(&ct.h, t.heapIndex)
	}
	if t.id == 0 {
		ct.nextID++
		t.id = ct.nextID
	}
	t.fireAt = fireAt
	t.state.Store(int32(timerArmed))
	heap.Push(&ct.h, t)
	if ct.last == 0 || fireAt < ct.last {
		ct.last = fireAt
		return true
	}
	ct.recomputeLast()
	return false
}

// expireDue pops and expires every timer whose fireAt <= now, invoking each
// callback (which, for thread timers, wakes the thread) after the heap lock
// is released, since a callback may itself re-enter this CPU's timer set
// (directly, or transitively through Thread.Wake migrating the thread back
// onto this same CPU). Returns the number of timers expired.
func (ct *cpuTimers) expireDue(now int64) int {
	ct.mu.Lock()
	var expired []*Timer
	for len(ct.h) > 0 && ct.h[0].fireAt <= now {
		t := heap.Pop(&ct.h).(*Timer)
		t.state.Store(int32(timerExpired))
		if t.owner != nil {
			t.owner.activeTimersRemove(t)
		}
		expired = append(expired, t)
	}
	ct.recomputeLast()
	ct.mu.Unlock()

	for _, t := range expired {
		if t.callback != nil {
			t.callback()
		}
	}
	return len(expired)
}

// recomputeLast must be called with ct.mu held.
func (ct *cpuTimers) recomputeLast() {
	if len(ct.h) == 0 {
		ct.last = 0
		return
	}
	ct.last = ct.h[0].fireAt
}

// activeTimerList is a thread's intrusive doubly-linked list of currently
// armed timers, protected by its own mutex since migration moves it across
// CPUs concurrently with the owning thread.
type activeTimerList struct {
	mu          sync.Mutex
	head, tail  *Timer
	needsReload bool // set by drain, cleared once resumeTimers lands the thread
}

func (l *activeTimerList) pushBack(t *Timer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t.atPrev = l.tail
	t.atNext = nil
	if l.tail != nil {
		l.tail.atNext = t
	} else {
		l.head = t
	}
	l.tail = t
}

func (l *activeTimerList) remove(t *Timer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.atPrev != nil {
		t.atPrev.atNext = t.atNext
	} else if l.head == t {
		l.head = t.atNext
	}
	if t.atNext != nil {
		t.atNext.atPrev = t.atPrev
	} else if l.tail == t {
		l.tail = t.atPrev
	}
	t.atNext, t.atPrev = nil, nil
}

// drain detaches and returns every currently active timer, used by
// suspendTimers during cross-CPU migration.
func (l *activeTimerList) drain() []*Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Timer
	for t := l.head; t != nil; {
		next := t.atNext
		t.atNext, t.atPrev = nil, nil
		out = append(out, t)
		t = next
	}
	l.head, l.tail = nil, nil
	l.needsReload = true
	return out
}

// suspendTimers removes a thread's timers from its current CPU's heap and
// marks them for reload on the target CPU; resumeTimers completes the move
// once the thread actually lands there. cpu may belong to a different
// goroutine than the caller's (migrateForWake runs on the waker, not on
// cpu's own scheduler loop), so the heap mutation is taken under cpu's own
// lock rather than assumed exclusive.
func suspendTimers(cpu *CPU, t *Thread) []*Timer {
	pending := t.activeTimers.drain()
	cpu.timers.mu.Lock()
	for _, tm := range pending {
		if tm.heapIndex >= 0 && tm.heapIndex < len(cpu.timers.h) {
			heap.Remove(&cpu.timers.h, tm.heapIndex)
		}
		tm.state.Store(int32(timerFree))
	}
	cpu.timers.recomputeLast()
	cpu.timers.mu.Unlock()
	return pending
}

// resumeTimers re-arms a thread's suspended timers on its new CPU.
func resumeTimers(cpu *CPU, t *Thread, pending []*Timer) {
	t.activeTimers.mu.Lock()
	t.activeTimers.needsReload = false
	t.activeTimers.mu.Unlock()
	for _, tm := range pending {
		if tm.fireAt <= 0 {
			continue
		}
		cpu.timers.set(tm, tm.fireAt)
	}
}

// NewTimer creates a Timer owned by this thread. The timer starts unarmed;
// call Set to arm it. callback runs on whichever CPU's scheduler loop
// expires the timer, so it must not block.
func (t *Thread) NewTimer(callback func()) *Timer {
	return &Timer{owner: t, callback: callback, heapIndex: -1}
}

// Set arms the timer to fire after d, on the owning thread's current CPU.
func (tm *Timer) Set(d time.Duration) {
	cpu := tm.owner.homeCPU()
	cpu.timers.set(tm, nowNs()+int64(d))
}

// Reset re-arms an already-used timer with a new duration, whether or not
// it is currently armed.
func (tm *Timer) Reset(d time.Duration) {
	cpu := tm.owner.homeCPU()
	cpu.timers.reset(tm, nowNs()+int64(d))
}

// Cancel disarms the timer if it is currently armed. It is a no-op
// otherwise, including after the timer has already fired.
func (tm *Timer) Cancel() {
	cpu := tm.owner.homeCPU()
	cpu.timers.cancel(tm)
}
