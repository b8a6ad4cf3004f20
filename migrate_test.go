package stagesched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinRelocatesArmedTimers(t *testing.T) {
	old := &CPU{id: 0, timers: newCPUTimers()}
	dest := &CPU{id: 1, timers: newCPUTimers()}

	owner := &Thread{}
	owner.cpuRef.Store(old)

	var fired bool
	timer := owner.NewTimer(func() { fired = true })
	old.timers.set(timer, nowNs()+int64(time.Hour))
	require.Equal(t, 1, old.timers.h.Len())

	owner.Pin(dest)

	assert.True(t, owner.pinned.Load())
	assert.Same(t, dest, owner.cpuRef.Load())
	assert.Equal(t, 0, old.timers.h.Len(), "timer must leave the old CPU's heap")
	assert.Equal(t, 1, dest.timers.h.Len(), "timer must land on the new CPU's heap")
	assert.False(t, fired)
}

func TestPinToSameCPULeavesTimersInPlace(t *testing.T) {
	cpu := &CPU{id: 0, timers: newCPUTimers()}
	owner := &Thread{}
	owner.cpuRef.Store(cpu)

	timer := owner.NewTimer(func() {})
	cpu.timers.set(timer, nowNs()+int64(time.Hour))

	owner.Pin(cpu)

	assert.Equal(t, 1, cpu.timers.h.Len())
}

func TestUnpinClearsPinnedFlag(t *testing.T) {
	cpu := &CPU{id: 0, timers: newCPUTimers()}
	owner := &Thread{}
	owner.cpuRef.Store(cpu)

	owner.Pin(cpu)
	assert.True(t, owner.pinned.Load())
	owner.Unpin()
	assert.False(t, owner.pinned.Load())
}

func TestDisableEnableMigrationNesting(t *testing.T) {
	owner := &Thread{}
	owner.cpuRef.Store(&CPU{id: 0, timers: newCPUTimers()})
	assert.True(t, owner.migratable())

	owner.DisableMigration()
	assert.False(t, owner.migratable())
	owner.DisableMigration()
	assert.False(t, owner.migratable())

	owner.EnableMigration()
	assert.False(t, owner.migratable(), "still disabled once more")
	owner.EnableMigration()
	assert.True(t, owner.migratable())
}

func TestThreadEnqueueSameCPUStaysInPlace(t *testing.T) {
	sch, err := New(WithCPUCount(1))
	require.NoError(t, err)
	sch.BringUp()
	defer sch.Shutdown()

	stage, err := sch.DefineStage("solo")
	require.NoError(t, err)

	done := make(chan struct{})
	var sawCPU *CPU
	var sawCIn int64
	th, err := sch.CreateThread(ThreadAttr{}, func(t *Thread) {
		t.Enqueue(stage)
		sawCPU = t.CPU()
		sawCIn = stage.Load()
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("thread never resumed after same-CPU stage enqueue")
	}

	assert.Same(t, sch.CPU(0), sawCPU)
	assert.Equal(t, int64(1), sawCIn)
	require.NoError(t, th.Join())
}

func TestThreadEnqueueMigratesRunningThreadCrossCPU(t *testing.T) {
	sch, err := New(WithCPUCount(2))
	require.NoError(t, err)
	sch.BringUp()
	defer sch.Shutdown()

	stage, err := sch.DefineStage("migrate-target")
	require.NoError(t, err)

	done := make(chan struct{})
	var source, target, landedOn *CPU
	th, err := sch.CreateThread(ThreadAttr{}, func(t *Thread) {
		source = t.CPU()
		for _, c := range sch.CPUs() {
			if c != source {
				target = c
			}
		}
		stage.assignment.Store(&stageAssignment{cpus: []*CPU{target}, stamp: nowNs()})

		t.Enqueue(stage)

		landedOn = t.CPU()
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("thread never resumed after cross-CPU stage enqueue")
	}

	assert.Same(t, target, landedOn)
	require.NoError(t, th.Join())
}

func TestThreadEnqueueRelocatesArmedTimersCrossCPU(t *testing.T) {
	sch, err := New(WithCPUCount(2))
	require.NoError(t, err)
	sch.BringUp()
	defer sch.Shutdown()

	stage, err := sch.DefineStage("migrate-timers")
	require.NoError(t, err)

	done := make(chan struct{})
	var source, target *CPU
	var sourceLen, targetLen int
	th, err := sch.CreateThread(ThreadAttr{}, func(t *Thread) {
		source = t.CPU()
		for _, c := range sch.CPUs() {
			if c != source {
				target = c
			}
		}
		stage.assignment.Store(&stageAssignment{cpus: []*CPU{target}, stamp: nowNs()})

		tm := t.NewTimer(func() {})
		tm.Set(time.Hour)

		t.Enqueue(stage)

		sourceLen = source.timers.h.Len()
		targetLen = target.timers.h.Len()
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("thread never resumed after cross-CPU stage enqueue")
	}

	assert.Equal(t, 0, sourceLen, "timer must leave the source CPU's heap")
	assert.Equal(t, 1, targetLen, "timer must land on the target CPU's heap")
	require.NoError(t, th.Join())
}
