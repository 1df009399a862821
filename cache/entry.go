package cache

import (
	"container/list"
	"sync"

	"github.com/nvbbu/bbucache/region"
)

// entry is a group of M blocks treated as a stripe member set. It is the
// unit the hash indexes, the LRU tracks, and the worker processes.
type entry struct {
	idx int32 // stable arena index, used as the hash/list identity

	mu sync.Mutex // the per-entry lock: protects blocks, flags, refcount

	stripeSector uint64
	refcount     int32
	flags        EntryFlag
	blocks       []block // length M

	hashNext *entry // next entry in this hash bucket's chain

	// membership in exactly one of free / freeDirty / handle (invariant
	// P1); listElem is this entry's node in whichever container/list
	// currently owns it, nil if untracked (mid-transition).
	inList   entryList
	listElem *list.Element

	// overlapCond wakes requesters that backed off after losing a race to
	// queue an overlapping bio against one of this entry's blocks.
	overlapCond *sync.Cond
}

type entryList uint8

const (
	listNone entryList = iota
	listFree
	listFreeDirty
	listHandle
)

func newEntry(idx int32, members int) *entry {
	e := &entry{idx: idx, blocks: make([]block, members)}
	for i := range e.blocks {
		e.blocks[i].slot = uint32(idx)*uint32(members) + uint32(i)
	}
	e.overlapCond = sync.NewCond(&e.mu)
	return e
}

func (e *entry) has(f EntryFlag) bool  { return e.flags.has(f) }
func (e *entry) setFlag(f EntryFlag)   { e.flags |= f }
func (e *entry) clearFlag(f EntryFlag) { e.flags &^= f }

// initEnt resets every block's descriptor to Unassociated, persisting each
// with a store fence first — matching the source's init_ent/recycle path
// (§4.3 step 3). The entry's hash identity (stripeSector, and its bucket
// chain membership) is the cache-wide lock's responsibility, not e.mu's;
// callers re-key it under c.mu before or after calling initEnt, never here.
func (e *entry) initEnt(r region.NvRegion) {
	r.StoreFence()
	for i := range e.blocks {
		b := &e.blocks[i]
		b.reset()
		_ = r.WriteDescriptor(b.slot, Unassociated, 0)
	}
	r.StoreFence()
}

// dirtyCount reports how many blocks in the entry carry FlagDirty.
func (e *entry) dirtyCount() int {
	n := 0
	for i := range e.blocks {
		if e.blocks[i].has(FlagDirty) {
			n++
		}
	}
	return n
}

func (e *entry) allUptodate() bool {
	for i := range e.blocks {
		if !e.blocks[i].has(FlagUptodate) {
			return false
		}
	}
	return true
}

func (e *entry) anyLocked() int {
	n := 0
	for i := range e.blocks {
		if e.blocks[i].has(FlagLocked) {
			n++
		}
	}
	return n
}
