package stagesched

import (
	"sync"
)

// tidMax bounds thread ids, grounded on the original implementation's
// tid_max = UINT_MAX - 4096: a margin is reserved above the allocator's wrap
// point so sentinel/debug values above tid_max are never confused with a
// live id.
const tidMax = 0xFFFFFFFF - 4096

// threadIDAllocator hands out small integer thread ids, recycling ids of
// threads that have been removed from the registry: it allocates by linear
// probe from a monotonic generator, skipping live ids, wrapping at tidMax,
// and failing loudly if no free id exists after one full sweep.
type threadIDAllocator struct {
	mu   sync.Mutex
	next uint32
	live map[uint32]struct{}
}

func newThreadIDAllocator() *threadIDAllocator {
	return &threadIDAllocator{
		next: 1, // id 0 is reserved as a null marker
		live: make(map[uint32]struct{}),
	}
}

// allocate returns a fresh id not currently live, or ErrThreadIDsExhausted
// if a full sweep of [1, tidMax] finds none free.
func (a *threadIDAllocator) allocate() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.next
	for {
		id := a.next
		a.next++
		if a.next > tidMax {
			a.next = 1
		}
		if _, taken := a.live[id]; !taken {
			a.live[id] = struct{}{}
			return id, nil
		}
		if a.next == start {
			return 0, ErrThreadIDsExhausted
		}
	}
}

// release frees id for reuse.
func (a *threadIDAllocator) release(id uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, id)
}
