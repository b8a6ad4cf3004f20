package stagesched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUTimersSetOrdersByFireAt(t *testing.T) {
	ct := newCPUTimers()
	owner := &Thread{}

	t3 := &Timer{owner: owner}
	t1 := &Timer{owner: owner}
	t2 := &Timer{owner: owner}

	ct.set(t3, 300)
	ct.set(t1, 100)
	ct.set(t2, 200)

	assert.Equal(t, int64(100), ct.last)
	assert.Equal(t, t1, ct.h[0])
}

func TestCPUTimersExpireDueInvokesCallbacksInOrder(t *testing.T) {
	ct := newCPUTimers()
	owner := &Thread{}

	var fired []int
	mk := func(at int64, tag int) *Timer {
		return &Timer{owner: owner, callback: func() { fired = append(fired, tag) }}
	}

	a := mk(10, 1)
	b := mk(20, 2)
	c := mk(30, 3)
	ct.set(a, 10)
	ct.set(b, 20)
	ct.set(c, 30)

	n := ct.expireDue(25)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{1, 2}, fired)
	assert.True(t, a.Expired())
	assert.True(t, b.Expired())
	assert.False(t, c.Expired())
	assert.Equal(t, int64(30), ct.last)
}

func TestCPUTimersCancel(t *testing.T) {
	ct := newCPUTimers()
	owner := &Thread{}
	a := &Timer{owner: owner}
	b := &Timer{owner: owner}
	ct.set(a, 100)
	ct.set(b, 200)

	ct.cancel(a)
	assert.Equal(t, 1, ct.h.Len())
	assert.Equal(t, int64(200), ct.last)
	assert.Equal(t, timerFree, timerState(a.state.Load()))
}

func TestCPUTimerDue(t *testing.T) {
	c := &CPU{timers: newCPUTimers()}
	assert.False(t, c.timerDue(), "no armed timer")

	owner := &Thread{}
	timer := &Timer{owner: owner}
	c.timers.set(timer, nowNs()+int64(time.Hour))
	assert.False(t, c.timerDue(), "deadline far in the future")

	c.timers.set(&Timer{owner: owner}, nowNs()-1)
	assert.True(t, c.timerDue(), "deadline already passed")
}

func TestTimerPublicSetResetCancel(t *testing.T) {
	sch := &Scheduler{opts: &schedulerOptions{logger: NewNoOpLogger()}}
	cpu := &CPU{id: 0, scheduler: sch, timers: newCPUTimers()}
	sch.cpus = []*CPU{cpu}

	owner := &Thread{scheduler: sch}
	owner.cpuRef.Store(cpu)

	var fired bool
	tm := owner.NewTimer(func() { fired = true })
	tm.Set(time.Hour)
	require.Equal(t, 1, cpu.timers.h.Len())

	tm.Reset(2 * time.Hour)
	require.Equal(t, 1, cpu.timers.h.Len())
	assert.True(t, tm.fireAt > nowNs()+int64(time.Hour))

	tm.Cancel()
	assert.Equal(t, 0, cpu.timers.h.Len())
	assert.False(t, fired)
}

func TestSuspendAndResumeTimersAcrossCPU(t *testing.T) {
	old := &CPU{timers: newCPUTimers()}
	owner := &Thread{}
	timer := &Timer{owner: owner, callback: func() {}}
	old.timers.set(timer, 500)
	require.Equal(t, 1, old.timers.h.Len())

	pending := suspendTimers(old, owner)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, old.timers.h.Len())
	assert.Equal(t, timerFree, timerState(timer.state.Load()))

	landingCPU := &CPU{timers: newCPUTimers()}
	resumeTimers(landingCPU, owner, pending)
	assert.Equal(t, 1, landingCPU.timers.h.Len())
	assert.Equal(t, timerArmed, timerState(timer.state.Load()))
}
