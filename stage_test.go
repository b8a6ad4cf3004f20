package stagesched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageEnqueuePolicyRoundRobin(t *testing.T) {
	cpus := []*CPU{{id: 0}, {id: 1}, {id: 2}}
	st := newStage(0, "test", nil, cpus)

	var picks []int
	for i := 0; i < 6; i++ {
		picks = append(picks, st.enqueuePolicy().id)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, picks)
}

func TestStageEnqueuePolicyEmptyAssignment(t *testing.T) {
	st := newStage(0, "empty", nil, nil)
	assert.Nil(t, st.enqueuePolicy())
}

func TestStageEnqueuePolicyFallsBackToSchedulerCPUs(t *testing.T) {
	sch := &Scheduler{
		opts:   &schedulerOptions{logger: NewNoOpLogger()},
		stages: map[uint32]*Stage{},
	}
	sch.cpus = []*CPU{{id: 0}, {id: 1}}

	st := newStage(0, "starved", sch, nil)
	assert.Empty(t, st.CPUs())

	var picks []int
	for i := 0; i < 4; i++ {
		picks = append(picks, st.enqueuePolicy().id)
	}
	assert.Equal(t, []int{0, 1, 0, 1}, picks)
}

func TestRebalanceStagesZeroShareStageStaysEmptyNotOverlapping(t *testing.T) {
	sch := &Scheduler{
		opts:   &schedulerOptions{logger: NewNoOpLogger()},
		stages: map[uint32]*Stage{},
	}
	sch.cpus = []*CPU{{id: 0}, {id: 1}}

	heavy := newStage(0, "heavy", sch, sch.cpus)
	starved := newStage(1, "starved", sch, sch.cpus)
	tiny := newStage(2, "tiny", sch, sch.cpus)
	sch.stages[0] = heavy
	sch.stages[1] = starved
	sch.stages[2] = tiny

	heavy.cIn.Store(100)
	starved.cIn.Store(1)
	tiny.cIn.Store(1)

	sch.rebalanceStages()

	total := len(heavy.CPUs()) + len(starved.CPUs()) + len(tiny.CPUs())
	assert.LessOrEqual(t, total, len(sch.cpus), "assignments must not exceed the CPU count")

	seen := map[int]bool{}
	for _, cpus := range [][]*CPU{heavy.CPUs(), starved.CPUs(), tiny.CPUs()} {
		for _, c := range cpus {
			assert.False(t, seen[c.id], "no CPU should be claimed by two stages")
			seen[c.id] = true
		}
	}
}

func TestStageLoadTracking(t *testing.T) {
	st := newStage(0, "loadtest", nil, []*CPU{{id: 0}})
	assert.Equal(t, int64(0), st.Load())
	st.incrementCIn()
	st.incrementCIn()
	assert.Equal(t, int64(2), st.Load())
	st.decrementCIn()
	assert.Equal(t, int64(1), st.Load())
}

func TestStageUpdateEMA(t *testing.T) {
	st := newStage(0, "ema", nil, []*CPU{{id: 0}})
	first := st.updateEMA(10)
	assert.Equal(t, float64(10), first, "first sample seeds the EMA directly")

	second := st.updateEMA(0)
	want := emaAlpha*0 + (1-emaAlpha)*10
	assert.InDelta(t, want, second, 1e-9)
	assert.InDelta(t, want, st.emaLoad(), 1e-9)
}

func TestStageMigrationQueueFIFO(t *testing.T) {
	var q stageMigrationQueue
	assert.True(t, q.empty())

	a := &Thread{id: 1}
	b := &Thread{id: 2}
	q.push(a)
	q.push(b)
	assert.False(t, q.empty())

	got, ok := q.pop()
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = q.pop()
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestRebalanceStagesProportionalShare(t *testing.T) {
	sch := &Scheduler{
		opts:   &schedulerOptions{logger: NewNoOpLogger()},
		stages: map[uint32]*Stage{},
	}
	sch.cpus = []*CPU{{id: 0}, {id: 1}, {id: 2}, {id: 3}}

	heavy := newStage(0, "heavy", sch, sch.cpus)
	light := newStage(1, "light", sch, sch.cpus)
	sch.stages[0] = heavy
	sch.stages[1] = light

	heavy.cIn.Store(30)
	light.cIn.Store(10)

	sch.rebalanceStages()

	assert.Len(t, heavy.CPUs(), 3)
	assert.Len(t, light.CPUs(), 1)

	seen := map[int]bool{}
	for _, c := range append(append([]*CPU{}, heavy.CPUs()...), light.CPUs()...) {
		assert.False(t, seen[c.id], "no CPU should be claimed by two stages")
		seen[c.id] = true
	}
}

func TestRebalanceStagesFixedOverride(t *testing.T) {
	sch := &Scheduler{
		opts:   &schedulerOptions{fixedCPUsPerStage: 2, logger: NewNoOpLogger()},
		stages: map[uint32]*Stage{},
	}
	sch.cpus = []*CPU{{id: 0}, {id: 1}, {id: 2}, {id: 3}}

	a := newStage(0, "a", sch, sch.cpus)
	b := newStage(1, "b", sch, sch.cpus)
	sch.stages[0] = a
	sch.stages[1] = b

	sch.rebalanceStages()

	assert.Len(t, a.CPUs(), 2)
	assert.Len(t, b.CPUs(), 2)
}
