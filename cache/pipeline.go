package cache

import (
	"context"

	"github.com/nvbbu/bbucache/backend"
)

// blockSector computes the backing-device sector a given member of a
// stripe entry mirrors: the stripe base itself when the geometry is
// unstriped, otherwise the base offset by the member's position within
// the stripe (the inverse of locate in hash.go).
func (c *Cache) blockSector(e *entry, blockIndex int) uint64 {
	if c.stripeSectors == 0 {
		return e.stripeSector
	}
	return e.stripeSector + uint64(blockIndex)*c.stripeSectors
}

// startFill issues a backing-device read to populate a block that has
// readers waiting on it but is not yet up to date. It persists the
// transient ReadLock descriptor, with a store fence, before the read is
// ever submitted, so a crash mid-fill leaves the descriptor in a state
// recovery can repair rather than claiming stale content is valid. Caller
// holds e.mu; startFill releases and reacquires it around the async
// submission.
func (c *Cache) startFill(e *entry, blockIndex int) {
	blk := &e.blocks[blockIndex]
	blk.setFlag(FlagLocked)
	blk.setFlag(FlagWantfill)
	blk.clearFlag(FlagWantread)
	e.setFlag(EntryBiofillRun)

	sector := c.blockSector(e, blockIndex)
	blk.sector = sector
	prevState := blk.state
	page := c.region.DataPage(blk.slot, 0)

	_ = c.region.WriteDescriptor(blk.slot, ReadLock, sector)
	c.region.StoreFence()

	e.mu.Unlock()
	c.backend.Submit(context.Background(), backend.ReadIO, sector, page, func(comp backend.Completion) {
		e.mu.Lock()
		c.finishFill(e, blockIndex, prevState, comp.Err)
		e.mu.Unlock()
		c.requeue(e)
	})
	e.mu.Lock()
}

// finishFill completes a backing-device fill: marks the block up to date
// and persists the terminal Sync descriptor, or on a read error reverts
// the descriptor to its pre-fill state so the block is not left claiming
// ReadLock forever. Caller holds e.mu.
func (c *Cache) finishFill(e *entry, blockIndex int, prevState State, err error) {
	blk := &e.blocks[blockIndex]
	blk.clearFlag(FlagLocked)
	blk.clearFlag(FlagWantfill)
	if err != nil {
		blk.setFlag(FlagReadError)
		c.met.ReadErrs.Inc()
		blk.state = prevState
		_ = c.region.WriteDescriptor(blk.slot, prevState, blk.sector)
		c.region.StoreFence()
		return
	}
	blk.setFlag(FlagUptodate)
	blk.state = Sync
	_ = c.region.WriteDescriptor(blk.slot, Sync, blk.sector)
	c.region.StoreFence()
}

// deliverBiofill copies filled (or failed) block content out to every
// queued read bio and completes their request segments. Caller holds
// e.mu.
func (c *Cache) deliverBiofill(e *entry, blockIndex int) {
	blk := &e.blocks[blockIndex]
	if blk.toread == nil {
		e.clearFlag(EntryBiofillRun)
		return
	}
	page := c.region.DataPage(blk.slot, 0)
	readErr := blk.has(FlagReadError)

	cur := blk.toread
	blk.toread = nil
	blk.clearFlag(FlagWantread)
	blk.clearFlag(FlagReadError)
	e.clearFlag(EntryBiofillRun)
	e.overlapCond.Broadcast()

	for cur != nil {
		seg := cur
		cur = cur.next
		if readErr {
			c.met.ReadErrs.Inc()
			seg.req.completeSegment(errIO)
		} else {
			off := (seg.sector - blk.sector) * SectorSize
			dst := seg.req.sliceBuf(seg.sector, seg.sectors)
			ranges := []backend.CopyRange{{PageOffset: int(off), Length: len(dst), Buf: dst}}
			c.copyEngine.CopyOut(context.Background(), page, ranges, func(err error) {
				c.met.Hits.Inc()
				seg.req.completeSegment(err)
			})
		}
	}
}

// admitWrites launches a single batched copy-in of every queued write bio
// against a block, after persisting the block's pre-transfer lock state
// (ReplaceLock for a block not yet associated with backing content,
// UpdateLock for one already Sync or Dirty). The Dirty descriptor itself
// is only persisted once the copy completes, in finishDrain — never here,
// since the bytes are not actually in the data page until then. Caller
// holds e.mu; admitWrites releases and reacquires it around the async
// submission, same as startFill.
func (c *Cache) admitWrites(e *entry, blockIndex int) {
	blk := &e.blocks[blockIndex]
	if blk.towrite == nil {
		return
	}
	prevState := blk.state
	lockState := UpdateLock
	if prevState == Unassociated {
		lockState = ReplaceLock
	}
	page := c.region.DataPage(blk.slot, 0)

	cur := blk.towrite
	blk.towrite = nil
	blk.written = cur
	blk.clearFlag(FlagWantwrite)
	blk.setFlag(FlagLocked)
	e.setFlag(EntryBiodrainRun)
	e.overlapCond.Broadcast()

	var ranges []backend.CopyRange
	for seg := cur; seg != nil; seg = seg.next {
		off := (seg.sector - blk.sector) * SectorSize
		src := seg.req.sliceBuf(seg.sector, seg.sectors)
		ranges = append(ranges, backend.CopyRange{PageOffset: int(off), Length: len(src), Buf: src})
	}

	_ = c.region.WriteDescriptor(blk.slot, lockState, blk.sector)
	c.region.StoreFence()

	e.mu.Unlock()
	c.copyEngine.CopyIn(context.Background(), page, ranges, func(err error) {
		e.mu.Lock()
		c.finishDrain(e, blockIndex, prevState, err)
		e.mu.Unlock()
		c.requeue(e)
	})
	e.mu.Lock()
}

// finishDrain completes a batched copy-in: on success it persists the
// terminal Dirty descriptor and completes every drained segment; on
// failure it reverts the descriptor to its pre-transfer state, leaves the
// block's content untouched, and fails every segment with the copy
// error. Caller holds e.mu.
func (c *Cache) finishDrain(e *entry, blockIndex int, prevState State, err error) {
	blk := &e.blocks[blockIndex]
	blk.clearFlag(FlagLocked)
	e.clearFlag(EntryBiodrainRun)

	cur := blk.written
	blk.written = nil

	if err != nil {
		c.met.WriteErrs.Inc()
		blk.state = prevState
		_ = c.region.WriteDescriptor(blk.slot, prevState, blk.sector)
		c.region.StoreFence()
		for seg := cur; seg != nil; seg = seg.next {
			seg.req.completeSegment(err)
		}
		return
	}

	wasDirty := e.has(EntryDirty)
	blk.setFlag(FlagDirty)
	blk.setFlag(FlagUptodate)
	blk.state = Dirty
	e.setFlag(EntryDirty)
	_ = c.region.WriteDescriptor(blk.slot, Dirty, blk.sector)
	c.region.StoreFence()
	if !wasDirty {
		c.adjustDirty(1)
	}

	for seg := cur; seg != nil; seg = seg.next {
		seg.req.completeSegment(nil)
	}
}

// issueWriteback submits a dirty block's page to the backing device,
// persisting the transient WritebackLock descriptor before submission.
// Caller holds e.mu; issueWriteback never holds c.mu and e.mu at once —
// it drops e.mu before ever touching c.mu, matching the per-entry-then-
// cache-wide acquisition order by simply not nesting them — and
// reacquires e.mu before returning, same shape as startFill.
func (c *Cache) issueWriteback(e *entry, blockIndex int) {
	blk := &e.blocks[blockIndex]
	if !blk.has(FlagDirty) || blk.has(FlagLocked) {
		return
	}
	blk.setFlag(FlagLocked)
	e.setFlag(EntryWriteback)
	sector := blk.sector
	page := c.region.DataPage(blk.slot, 0)

	_ = c.region.WriteDescriptor(blk.slot, WritebackLock, sector)
	c.region.StoreFence()

	e.mu.Unlock()

	c.mu.Lock()
	c.writebackActive++
	c.met.WritebackActive.Set(float64(c.writebackActive))
	c.mu.Unlock()

	c.backend.Submit(context.Background(), backend.WriteIO, sector, page, func(comp backend.Completion) {
		e.mu.Lock()
		failed := c.finishWriteback(e, blockIndex, comp.Err)
		e.mu.Unlock()

		c.mu.Lock()
		c.writebackActive--
		c.met.WritebackActive.Set(float64(c.writebackActive))
		if failed {
			c.failed = true
		}
		c.barrierCond.Broadcast()
		c.mu.Unlock()

		c.requeue(e)
	})
	e.mu.Lock()
}

// finishWriteback records the outcome of a backing-device write. On
// success the block reverts to Sync; on failure it reverts to Dirty so a
// later laundry pass retries it, and reports the failure for the caller
// to fold into the cache-wide Failed flag once e.mu is released. Caller
// holds e.mu.
func (c *Cache) finishWriteback(e *entry, blockIndex int, err error) bool {
	blk := &e.blocks[blockIndex]
	blk.clearFlag(FlagLocked)
	e.clearFlag(EntryWriteback)
	if err != nil {
		c.met.WriteErrs.Inc()
		blk.state = Dirty
		_ = c.region.WriteDescriptor(blk.slot, Dirty, blk.sector)
		c.region.StoreFence()
		return true
	}
	blk.clearFlag(FlagDirty)
	blk.state = Sync
	_ = c.region.WriteDescriptor(blk.slot, Sync, blk.sector)
	c.region.StoreFence()
	if e.dirtyCount() == 0 && e.has(EntryDirty) {
		e.clearFlag(EntryDirty)
		c.adjustDirty(-1)
	}
	return false
}

// requeue puts e back on the handle list so the worker re-evaluates it
// after an asynchronous completion (fill, drain copy, or writeback).
func (c *Cache) requeue(e *entry) {
	c.mu.Lock()
	c.pushHandle(e)
	c.mu.Unlock()
}
