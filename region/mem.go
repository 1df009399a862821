package region

import (
	"fmt"
	"sync"
)

// WriteEvent records one descriptor write observed by MemRegion, in the
// order it was issued. Tests use this to assert the ordering guarantee
// from the concurrency model: a descriptor's new state must be persisted
// before the dependent data transfer is submitted, and the terminal state
// persisted only after that transfer completes.
type WriteEvent struct {
	Slot   uint32
	State  State
	Sector uint64
}

// MemRegion is a slice-backed NvRegion used by unit tests. It never
// touches real memory mappings; StoreFence is a no-op beyond making the
// write visible (Go's memory model already guarantees that once
// WriteDescriptor returns under the caller's lock), but every write is
// still recorded so recovery and ordering tests can inspect the exact
// sequence of descriptor mutations.
type MemRegion struct {
	mu     sync.Mutex
	header Header
	layout Layout
	desc   []uint64
	pages  [][]byte // one slice per page of the data area, flattened by slot

	history []WriteEvent
}

// NewMemRegion allocates a fake region sized per layout.
func NewMemRegion(h Header, layout Layout) *MemRegion {
	r := &MemRegion{
		header: h,
		layout: layout,
		desc:   make([]uint64, layout.TotalBlocks),
		pages:  make([][]byte, layout.TotalBlocks*layout.BlockPages),
	}
	for i := range r.pages {
		r.pages[i] = make([]byte, PageSize)
	}
	return r
}

func (r *MemRegion) Header() Header { return r.header }
func (r *MemRegion) Layout() Layout { return r.layout }

func (r *MemRegion) checkSlot(slot uint32) error {
	if int(slot) >= r.layout.TotalBlocks {
		return fmt.Errorf("region: slot %d out of range (total %d)", slot, r.layout.TotalBlocks)
	}
	return nil
}

func (r *MemRegion) ReadDescriptor(slot uint32) (State, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSlot(slot); err != nil {
		return 0, 0, err
	}
	st, sector := DecodeDescriptor(r.desc[slot])
	return st, sector, nil
}

func (r *MemRegion) WriteDescriptor(slot uint32, st State, sector uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSlot(slot); err != nil {
		return err
	}
	r.desc[slot] = EncodeDescriptor(st, sector)
	r.history = append(r.history, WriteEvent{Slot: slot, State: st, Sector: sector})
	return nil
}

func (r *MemRegion) StoreFence() {}

func (r *MemRegion) DataPage(slot uint32, pageInBlock int) []byte {
	idx := int(slot)*r.layout.BlockPages + pageInBlock
	return r.pages[idx]
}

func (r *MemRegion) Sync() error { return nil }

func (r *MemRegion) Close() error { return nil }

// History returns a copy of the descriptor write order observed so far.
func (r *MemRegion) History() []WriteEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WriteEvent, len(r.history))
	copy(out, r.history)
	return out
}

// ForceDescriptor directly overwrites a descriptor word, bypassing normal
// write bookkeeping. Used by crash-simulation tests to plant a transient
// lock state before exercising recovery.
func (r *MemRegion) ForceDescriptor(slot uint32, st State, sector uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.desc[slot] = EncodeDescriptor(st, sector)
}
