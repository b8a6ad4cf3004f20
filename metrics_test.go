package stagesched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordingAndSnapshot(t *testing.T) {
	m := newMetrics()
	m.recordContextSwitch()
	m.recordContextSwitch()
	m.recordMigration()
	m.recordPreemption()
	m.RecordWakeLatency(5 * time.Millisecond)
	m.RecordRebalanceInterval(20 * time.Millisecond)

	snap := m.Snapshot(nil)
	assert.Equal(t, uint64(2), snap.ContextSwitches)
	assert.Equal(t, uint64(1), snap.Migrations)
	assert.Equal(t, uint64(1), snap.Preemptions)
	assert.Greater(t, snap.WakeLatencyP50, time.Duration(0))
}

func TestMetricsSnapshotQueueDepth(t *testing.T) {
	m := newMetrics()
	c0 := &CPU{id: 0}
	c0.rq.pushBack(&Thread{id: 1})
	c1 := &CPU{id: 1}

	snap := m.Snapshot([]*CPU{c0, c1})
	assert.Equal(t, []int{1, 0}, snap.QueueDepth)
}

func TestTPSCounterIncrementsRate(t *testing.T) {
	c := NewTPSCounter(time.Second, 10*time.Millisecond)
	for i := 0; i < 5; i++ {
		c.Increment()
	}
	assert.Greater(t, c.TPS(), float64(0))
}
