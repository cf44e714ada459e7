package session

import "sync"

// resequencer restores registration order for results that complete
// out of order. Slots are registered on the hot path in segment
// start-time order; Complete and Abandon release results strictly in
// that order, holding back anything whose predecessors are still in
// flight.
type resequencer struct {
	mu      sync.Mutex
	nextReg uint64
	nextOut uint64
	pending map[uint64]*slotState
}

type slotState struct {
	done      bool
	abandoned bool
	value     any
}

func newResequencer() *resequencer {
	return &resequencer{pending: make(map[uint64]*slotState)}
}

func (r *resequencer) Register() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.nextReg
	r.nextReg++
	r.pending[slot] = &slotState{}
	return slot
}

// Complete stores the slot's value and returns every value now ready
// for emission, in registration order.
func (r *resequencer) Complete(slot uint64, value any) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.pending[slot]; ok {
		st.done = true
		st.value = value
	}
	return r.drainLocked()
}

// Abandon marks the slot as resolved with no emission, unblocking its
// successors.
func (r *resequencer) Abandon(slot uint64) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.pending[slot]; ok {
		st.done = true
		st.abandoned = true
	}
	return r.drainLocked()
}

// Reset drops all slots, for session stop. Slot numbers keep
// increasing so a stale completion from a previous run can never
// collide with a fresh slot.
func (r *resequencer) Reset() {
	r.mu.Lock()
	r.nextOut = r.nextReg
	r.pending = make(map[uint64]*slotState)
	r.mu.Unlock()
}

func (r *resequencer) drainLocked() []any {
	var out []any
	for {
		st, ok := r.pending[r.nextOut]
		if !ok || !st.done {
			return out
		}
		if !st.abandoned {
			out = append(out, st.value)
		}
		delete(r.pending, r.nextOut)
		r.nextOut++
	}
}
