package stagesched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerCreateThreadRunsAndJoins(t *testing.T) {
	sch, err := New(WithCPUCount(2))
	require.NoError(t, err)
	sch.BringUp()
	defer sch.Shutdown()

	var ran atomic.Bool
	th, err := sch.CreateThread(ThreadAttr{Name: "worker"}, func(t *Thread) {
		ran.Store(true)
	})
	require.NoError(t, err)

	require.NoError(t, th.Join())
	assert.True(t, ran.Load())
}

func TestSchedulerFindThreadAndCount(t *testing.T) {
	sch, err := New(WithCPUCount(1))
	require.NoError(t, err)
	sch.BringUp()
	defer sch.Shutdown()

	release := make(chan struct{})
	th, err := sch.CreateThread(ThreadAttr{}, func(t *Thread) {
		<-release
	})
	require.NoError(t, err)

	assert.Same(t, th, sch.FindThread(th.ID()))
	assert.Equal(t, 1, sch.ThreadCount())

	close(release)
	require.NoError(t, th.Join())
}

func TestSchedulerWaitUntilTimeout(t *testing.T) {
	sch, err := New(WithCPUCount(1))
	require.NoError(t, err)
	sch.BringUp()
	defer sch.Shutdown()

	var gotErr error
	done := make(chan struct{})
	_, err = sch.CreateThread(ThreadAttr{}, func(t *Thread) {
		gotErr = t.WaitUntil(func() bool { return false }, 5*time.Millisecond)
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitUntil did not time out")
	}
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, gotErr, &timeoutErr)
}

func TestSchedulerWakeReleasesWaiter(t *testing.T) {
	sch, err := New(WithCPUCount(1))
	require.NoError(t, err)
	sch.BringUp()
	defer sch.Shutdown()

	var flag atomic.Bool
	th, err := sch.CreateThread(ThreadAttr{}, func(t *Thread) {
		t.Wait(func() bool { return flag.Load() })
	})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	flag.Store(true)
	th.Wake()

	require.NoError(t, th.Join())
}

func TestSchedulerDefineStageSpawnDistributesLoad(t *testing.T) {
	sch, err := New(WithCPUCount(4))
	require.NoError(t, err)
	sch.BringUp()
	defer sch.Shutdown()

	stage, err := sch.DefineStage("pipeline-a")
	require.NoError(t, err)

	const n = 8
	var completed atomic.Int32
	release := make(chan struct{})
	var mu sync.Mutex
	cpuSeen := make(map[int]bool)
	for i := 0; i < n; i++ {
		th, err := stage.Spawn(ThreadAttr{}, func(t *Thread) {
			mu.Lock()
			cpuSeen[t.CPU().ID()] = true
			mu.Unlock()
			<-release
			completed.Add(1)
		})
		require.NoError(t, err)
		require.NotNil(t, th)
	}

	close(release)

	require.Eventually(t, func() bool {
		return completed.Load() == n
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(cpuSeen), 1)
}

func TestSchedulerMetricsDisabledByDefault(t *testing.T) {
	sch, err := New(WithCPUCount(1))
	require.NoError(t, err)
	snap := sch.Metrics()
	assert.Equal(t, uint64(0), snap.ContextSwitches)
}

func TestSchedulerMetricsEnabled(t *testing.T) {
	sch, err := New(WithCPUCount(1), WithMetrics(true))
	require.NoError(t, err)
	sch.BringUp()
	defer sch.Shutdown()

	th, err := sch.CreateThread(ThreadAttr{}, func(t *Thread) {})
	require.NoError(t, err)
	require.NoError(t, th.Join())

	snap := sch.Metrics()
	assert.GreaterOrEqual(t, snap.ContextSwitches, uint64(1))
}
