package stagesched

import "sync"

// reaper is the scheduler-wide system service that runs cleanup for
// terminated threads off the hot context-switch path.
// CPU.schedule/scheduleExit hand it a thread the
// instant nothing is executing it any more; Thread.Detach/markCompleted hand
// it a thread the instant both "completed" and "detached" are true. Either
// path converges on finalize, which is idempotent per thread.
type reaper struct {
	mu      sync.Mutex
	pending []*Thread
	cond    *sync.Cond
	done    map[uint32]struct{}
}

func newReaper() *reaper {
	r := &reaper{done: make(map[uint32]struct{})}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// enqueue hands a detached, already-completed thread to the reaper for
// asynchronous cleanup.
func (r *reaper) enqueue(t *Thread) {
	r.mu.Lock()
	r.pending = append(r.pending, t)
	r.mu.Unlock()
	r.cond.Signal()
}

// finalize runs a thread's registered cleanup exactly once and removes it
// from the scheduler's registry. Safe to call from any goroutine, including
// the schedule/scheduleExit fast path, since it only touches the thread
// itself and the registry's own lock.
func (r *reaper) finalize(t *Thread) {
	r.mu.Lock()
	if _, already := r.done[t.id]; already {
		r.mu.Unlock()
		return
	}
	r.done[t.id] = struct{}{}
	r.mu.Unlock()

	if t.cleanup != nil {
		t.cleanup()
	}
	t.status.Store(StatusTerminated)
	if t.scheduler != nil {
		if t.scheduler.registry != nil {
			t.scheduler.registry.remove(t.id)
		}
		if t.scheduler.idAlloc != nil {
			t.scheduler.idAlloc.release(t.id)
		}
		logReaperFinalize(t.scheduler.opts.logger, t)
	}
	close(t.terminatedCh)
}

// run is the reaper system thread's body: drain whatever is pending,
// finalize it, and park until more arrives or stop is requested.
func (r *reaper) run(stop <-chan struct{}) {
	for {
		r.mu.Lock()
		for len(r.pending) == 0 {
			select {
			case <-stop:
				r.mu.Unlock()
				return
			default:
			}
			r.cond.Wait()
		}
		batch := r.pending
		r.pending = nil
		r.mu.Unlock()

		for _, t := range batch {
			r.finalize(t)
		}

		select {
		case <-stop:
			return
		default:
		}
	}
}

// wake wakes a blocked run loop so it can observe a closed stop channel.
func (r *reaper) wake() {
	r.cond.Broadcast()
}
