package stagesched

import (
	"sync"
	"time"
)

// Scheduler owns a fixed set of CPUs, the thread and stage registries, and
// the background services (reaper, stage rebalancer) that tie them
// together. It is the single entry point for creating threads and stages;
// CPU and Thread expose most of the rest of the API once obtained through
// it.
type Scheduler struct {
	opts *schedulerOptions

	cpus []*CPU

	idAlloc  *threadIDAllocator
	registry *threadRegistry
	reaper   *reaper
	metrics  *Metrics // nil unless WithMetrics(true)

	tlsSlots int

	stagesMu  sync.RWMutex
	stages    map[uint32]*Stage
	nextStage uint32

	bringUpNotifiers *notifierList

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Scheduler with the given options but does not yet start any
// CPU: construction and bring-up are distinct steps. Call BringUp to start
// scheduling.
func New(opts ...SchedulerOption) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		opts:             cfg,
		idAlloc:          newThreadIDAllocator(),
		registry:         newThreadRegistry(),
		reaper:           newReaper(),
		stages:           make(map[uint32]*Stage),
		bringUpNotifiers: newNotifierList(),
		stopCh:           make(chan struct{}),
		tlsSlots:         1, // slot 0 reserved for the scheduler core
	}
	if cfg.metricsEnabled {
		s.metrics = newMetrics()
	}

	s.cpus = make([]*CPU, cfg.cpuCount)
	for i := range s.cpus {
		s.cpus[i] = newCPU(i, s)
	}

	return s, nil
}

// CPUs returns every CPU owned by the scheduler, in id order.
func (s *Scheduler) CPUs() []*CPU { return s.cpus }

// CPUCount returns the number of CPUs the scheduler was configured with.
func (s *Scheduler) CPUCount() int { return len(s.cpus) }

// CPU returns the CPU with the given id, or nil if out of range.
func (s *Scheduler) CPU(id int) *CPU {
	if id < 0 || id >= len(s.cpus) {
		return nil
	}
	return s.cpus[id]
}

// leastLoadedCPU implements the default, stage-less placement policy:
// absent an attr.Pin or stage, place the thread on the CPU with the
// shortest run queue.
func (s *Scheduler) leastLoadedCPU() *CPU {
	best := s.cpus[0]
	for _, c := range s.cpus[1:] {
		if c.Load() < best.Load() {
			best = c
		}
	}
	return best
}

// BringUp starts every CPU's idle loop and the scheduler's background
// services (reaper, stage rebalancer), in that order. Must be called
// exactly once before any thread is started.
func (s *Scheduler) BringUp() {
	for _, c := range s.cpus {
		c.bringUp()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reaper.run(s.stopCh)
	}()
	s.wg.Add(1)
	go s.rebalanceLoop()
}

// rebalanceLoop periodically recomputes every stage's CPU assignment on a
// fixed ticker (maxAssignmentAge), rather than gating each pass behind a
// single elected CPU racing to claim an update epoch: with one ticker
// goroutine as the sole writer of every stage's assignment, there is
// nothing to elect or race over in the first place.
func (s *Scheduler) rebalanceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.maxAssignmentAge)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.rebalanceStages()
		}
	}
}

// Shutdown stops the background services (reaper, stage rebalancer) and
// waits for them to exit. It does not stop or drain CPUs: threads already
// running continue to run to completion; there is no "stop the world"
// primitive.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.reaper.wake()
	})
	s.wg.Wait()
}

// newManagedThread allocates an id, constructs, and registers a Thread, but
// does not start it. Shared by CreateThread and Stage.Spawn.
func (s *Scheduler) newManagedThread(attr ThreadAttr, fn ThreadFunc) (*Thread, error) {
	id, err := s.idAlloc.allocate()
	if err != nil {
		return nil, WrapError("newManagedThread", err)
	}
	t := newThread(s, id, attr, fn)
	s.registry.add(t)
	return t, nil
}

// CreateThread allocates, registers, and starts a new thread outside of any
// stage. Use Stage.Spawn to start a thread already attributed to a stage, or
// Thread.Enqueue for a running thread to join one.
func (s *Scheduler) CreateThread(attr ThreadAttr, fn ThreadFunc) (*Thread, error) {
	t, err := s.newManagedThread(attr, fn)
	if err != nil {
		return nil, err
	}
	t.Start()
	return t, nil
}

// FindThread looks up a live thread by id.
func (s *Scheduler) FindThread(id uint32) *Thread {
	return s.registry.findByID(id)
}

// WithAllThreads calls fn once per currently-registered thread. fn must not
// create, join, or otherwise block on another thread from within the call.
func (s *Scheduler) WithAllThreads(fn func(*Thread)) {
	s.registry.withAllThreads(fn)
}

// ThreadCount returns the number of threads currently registered.
func (s *Scheduler) ThreadCount() int { return s.registry.count() }

// OnCPUBringUp registers fn to run once for every CPU, the moment that CPU's
// idle loop starts (including CPUs already up at registration time being
// missed -- register before calling BringUp to see all of them). It returns
// an id usable with RemoveCPUBringUpNotifier.
func (s *Scheduler) OnCPUBringUp(fn func(*CPU)) uint64 {
	return s.bringUpNotifiers.add(func(v any) { fn(v.(*CPU)) })
}

// RemoveCPUBringUpNotifier unregisters a callback added by OnCPUBringUp.
func (s *Scheduler) RemoveCPUBringUpNotifier(id uint64) {
	s.bringUpNotifiers.remove(id)
}

// maxStages bounds the number of concurrently defined stages.
const maxStages = 256

// DefineStage creates a new named stage spanning every CPU initially; its
// assignment narrows to a subset once rebalanceStages first runs.
func (s *Scheduler) DefineStage(name string) (*Stage, error) {
	s.stagesMu.Lock()
	defer s.stagesMu.Unlock()

	if len(s.stages) >= maxStages {
		return nil, ErrStageCapacityExceeded
	}

	id := s.nextStage
	s.nextStage++
	st := newStage(id, name, s, s.cpus)
	s.stages[id] = st
	return st, nil
}

// FindStage looks up a stage by id.
func (s *Scheduler) FindStage(id uint32) *Stage {
	s.stagesMu.RLock()
	defer s.stagesMu.RUnlock()
	return s.stages[id]
}

// Stages returns every currently defined stage, in no particular order.
func (s *Scheduler) Stages() []*Stage {
	s.stagesMu.RLock()
	defer s.stagesMu.RUnlock()
	out := make([]*Stage, 0, len(s.stages))
	for _, st := range s.stages {
		out = append(out, st)
	}
	return out
}

// Metrics returns a snapshot of runtime statistics, or the zero value if
// WithMetrics was never enabled.
func (s *Scheduler) Metrics() MetricsSnapshot {
	if s.metrics == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.Snapshot(s.cpus)
}
