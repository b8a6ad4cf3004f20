package stagesched

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime statistics for a Scheduler, enabled via
// WithMetrics. All recording methods are safe for concurrent use, including
// from the hot context-switch path.
type Metrics struct {
	mu sync.Mutex

	wakeLatency       *pSquareMultiQuantile
	rebalanceInterval *pSquareMultiQuantile

	contextSwitches atomic.Uint64
	migrations      atomic.Uint64
	preemptions     atomic.Uint64

	switchRate *TPSCounter
}

// newMetrics builds a Metrics instance tracking p50/p90/p99 for both wake
// latency and rebalance interval, built on psquare.go's streaming quantile
// estimator.
func newMetrics() *Metrics {
	return &Metrics{
		wakeLatency:       newPSquareMultiQuantile(0.50, 0.90, 0.99),
		rebalanceInterval: newPSquareMultiQuantile(0.50, 0.90, 0.99),
		switchRate:        NewTPSCounter(10*time.Second, 100*time.Millisecond),
	}
}

// RecordWakeLatency records the time between Wake being called and the
// woken thread actually entering StatusRunning.
func (m *Metrics) RecordWakeLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wakeLatency.Update(float64(d))
}

// RecordRebalanceInterval records the wall-clock gap between two successive
// rebalanceStages passes for the same stage.
func (m *Metrics) RecordRebalanceInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebalanceInterval.Update(float64(d))
}

func (m *Metrics) recordContextSwitch() {
	m.contextSwitches.Add(1)
	m.switchRate.Increment()
}

func (m *Metrics) recordMigration()  { m.migrations.Add(1) }
func (m *Metrics) recordPreemption() { m.preemptions.Add(1) }

// MetricsSnapshot is a point-in-time copy of a Scheduler's Metrics, safe to
// read after Scheduler.Metrics returns it.
type MetricsSnapshot struct {
	ContextSwitches uint64
	Migrations      uint64
	Preemptions     uint64
	ContextSwitchHz float64

	WakeLatencyP50, WakeLatencyP90, WakeLatencyP99 time.Duration
	RebalanceP50, RebalanceP90, RebalanceP99       time.Duration

	QueueDepth []int // current run queue length, indexed by CPU id
}

// Snapshot returns a consistent copy of every tracked statistic, plus the
// live run queue depth of every cpu passed in.
func (m *Metrics) Snapshot(cpus []*CPU) MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	depths := make([]int, len(cpus))
	for i, c := range cpus {
		depths[i] = c.Load()
	}

	return MetricsSnapshot{
		ContextSwitches: m.contextSwitches.Load(),
		Migrations:      m.migrations.Load(),
		Preemptions:     m.preemptions.Load(),
		ContextSwitchHz: m.switchRate.TPS(),

		WakeLatencyP50: time.Duration(m.wakeLatency.Quantile(0)),
		WakeLatencyP90: time.Duration(m.wakeLatency.Quantile(1)),
		WakeLatencyP99: time.Duration(m.wakeLatency.Quantile(2)),

		RebalanceP50: time.Duration(m.rebalanceInterval.Quantile(0)),
		RebalanceP90: time.Duration(m.rebalanceInterval.Quantile(1)),
		RebalanceP99: time.Duration(m.rebalanceInterval.Quantile(2)),

		QueueDepth: depths,
	}
}

// TPSCounter tracks events per second over a rolling window (kept from the
// teacher's throughput tracker; here it measures the context-switch rate
// rather than task completions).
//
// Thread Safety: all methods are thread-safe.
type TPSCounter struct {
	lastRotation atomic.Value // stores time.Time
	buckets      []int64
	bucketSize   time.Duration
	windowSize   time.Duration
	totalCount   atomic.Int64
	mu           sync.Mutex
}

// NewTPSCounter creates a new rate counter. windowSize is the time window
// for the rate calculation; bucketSize is the granularity of the rolling
// window.
func NewTPSCounter(windowSize, bucketSize time.Duration) *TPSCounter {
	bucketCount := int(windowSize / bucketSize)
	if bucketCount < 1 {
		bucketCount = 1
	}
	counter := &TPSCounter{
		buckets:    make([]int64, bucketCount),
		bucketSize: bucketSize,
		windowSize: windowSize,
	}
	counter.lastRotation.Store(time.Now())
	return counter
}

// Increment records one event. Thread-safe and O(1).
func (t *TPSCounter) Increment() {
	t.totalCount.Add(1)
	t.rotate()
	t.mu.Lock()
	t.buckets[len(t.buckets)-1]++
	t.mu.Unlock()
}

func (t *TPSCounter) rotate() {
	now := time.Now()
	lastRotation := t.lastRotation.Load().(time.Time)
	elapsed := now.Sub(lastRotation)
	bucketsToAdvance := int(elapsed / t.bucketSize)

	if bucketsToAdvance >= len(t.buckets) {
		t.mu.Lock()
		for i := range t.buckets {
			t.buckets[i] = 0
		}
		t.mu.Unlock()
		t.lastRotation.Store(now)
		return
	}

	if bucketsToAdvance > 0 {
		t.mu.Lock()
		for i := 0; i < len(t.buckets)-bucketsToAdvance; i++ {
			t.buckets[i] = t.buckets[i+bucketsToAdvance]
		}
		for i := len(t.buckets) - bucketsToAdvance; i < len(t.buckets); i++ {
			t.buckets[i] = 0
		}
		t.mu.Unlock()
		t.lastRotation.Store(lastRotation.Add(time.Duration(bucketsToAdvance) * t.bucketSize))
	}
}

// TPS returns the current rate, in events per second.
func (t *TPSCounter) TPS() float64 {
	t.rotate()

	t.mu.Lock()
	defer t.mu.Unlock()

	var sum int64
	for _, count := range t.buckets {
		sum += count
	}
	if sum == 0 {
		return 0
	}
	return float64(sum) / t.windowSize.Seconds()
}
