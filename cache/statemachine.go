package cache

// processEntry runs the fixed sequence of rules against one entry picked
// off the handle list, in order: finish any completed biofill, fail
// blocks with a recorded read error, start new fills, start new drains
// (write admission), opportunistically issue writeback for newly dirtied
// blocks when the barrier is waiting on them, and finally decide whether
// the entry has more work pending (goes back on the handle list) or is
// quiescent (goes to free or free-dirty). Caller must not hold c.mu or
// e.mu.
func (c *Cache) processEntry(e *entry) {
	e.mu.Lock()

	for i := range e.blocks {
		blk := &e.blocks[i]

		// Rule 1: deliver a completed fill to its waiting readers.
		if e.has(EntryBiofillRun) && !blk.has(FlagLocked) && blk.toread != nil &&
			(blk.has(FlagUptodate) || blk.has(FlagReadError)) {
			c.deliverBiofill(e, i)
		}

		// Rule 2: a read error fails every queued reader immediately,
		// independent of whether a fill is still formally "running".
		if blk.has(FlagReadError) && blk.toread != nil {
			c.deliverBiofill(e, i)
		}

		// Rule 3: start a fill for blocks that need one — a waiting
		// reader, or a queued write that doesn't fully cover the block
		// (no FlagOverwrite), which must fetch the untouched sectors
		// before the write can be admitted over them.
		needsFill := blk.has(FlagWantread) || (blk.has(FlagWantwrite) && !blk.has(FlagOverwrite))
		if needsFill && !blk.has(FlagUptodate) && !blk.has(FlagLocked) {
			c.startFill(e, i)
			continue
		}

		// Rule 4/6: admit queued writes once the block is either already
		// up to date (a read-modify-write is safe) or the queued chain
		// fully overwrites it (FlagOverwrite — no stale sectors survive).
		if blk.has(FlagWantwrite) && !blk.has(FlagLocked) && (blk.has(FlagUptodate) || blk.has(FlagOverwrite)) {
			c.admitWrites(e, i)
		}

		// Rule 3 again: a block can gain readers for data a write just
		// drained; once finishDrain has marked it Uptodate and the block
		// is no longer locked, simply deliver.
		if blk.toread != nil && blk.has(FlagUptodate) && !blk.has(FlagLocked) {
			c.deliverBiofill(e, i)
		}

		// Rule 5: opportunistic writeback, triggered when a barrier is
		// draining the cache to quiescence; ordinary watermark-driven
		// writeback is laundry's job (laundry.go), not the worker's.
		if c.barrierActive && blk.has(FlagDirty) && !blk.has(FlagLocked) {
			c.issueWriteback(e, i)
		}
	}

	pending := e.anyLocked() > 0
	if !pending {
		for i := range e.blocks {
			b := &e.blocks[i]
			if b.has(FlagWantread) || b.has(FlagWantwrite) || b.toread != nil || b.towrite != nil {
				pending = true
				break
			}
		}
	}
	e.mu.Unlock()

	// Rule 8: dispatch. An entry with in-flight or queued work stays on
	// the handle list; otherwise it is released to whichever free list
	// matches its dirtiness.
	c.mu.Lock()
	if pending {
		c.pushHandle(e)
	} else {
		c.releaseEntry(e)
		c.freeCond.Signal()
	}
	if c.barrierActive && c.quiescentLocked() {
		c.barrierCond.Broadcast()
	}
	c.mu.Unlock()
}

// quiescentLocked reports whether every entry is free of in-flight work.
// Caller holds c.mu.
func (c *Cache) quiescentLocked() bool {
	return c.writebackActive == 0 && c.handle.Len() == 0 && c.activeBypass == 0
}
