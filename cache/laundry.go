package cache

// laundryLoop is the background writeback scheduler. Once the number of
// active (checked-out) entries reaches the configured watermark, it
// starts writing back free-dirty entries so they can be reclaimed, and
// keeps going until activity drops back below the watermark or there is
// nothing left to launder. Ordinary foreground traffic never blocks on
// laundry directly; it only waits on freeCond for an entry laundry (or a
// release) makes available.
func (c *Cache) laundryLoop() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for !c.stopped && (c.active < c.watermark || c.freeDirty.Len() == 0) {
			c.laundryCond.Wait()
		}
		if c.stopped {
			c.mu.Unlock()
			return
		}
		if c.active < c.watermark {
			c.mu.Unlock()
			continue
		}
		elem := c.freeDirty.Front()
		if elem == nil {
			c.mu.Unlock()
			continue
		}
		e := elem.Value.(*entry)
		c.removeFromList(e)
		c.mu.Unlock()

		c.launderEntry(e)
	}
}

// launderEntry issues writeback for every dirty block in e. If any
// writeback is still in flight it leaves e off every list, for the
// writeback completion to requeue onto the handle list; otherwise it
// returns e to free-dirty (still dirty) or to the free list (all clean).
func (c *Cache) launderEntry(e *entry) {
	e.mu.Lock()
	for i := range e.blocks {
		blk := &e.blocks[i]
		if blk.has(FlagDirty) && !blk.has(FlagLocked) {
			c.issueWriteback(e, i)
		}
	}
	stillDirty := e.dirtyCount() > 0
	anyLocked := e.anyLocked() > 0
	e.mu.Unlock()

	c.mu.Lock()
	switch {
	case anyLocked:
		// Writeback is in flight; its completion requeues e onto the
		// handle list, where the ordinary dispatch rule sorts it out.
	case stillDirty:
		c.pushFreeDirty(e)
	default:
		c.pushFree(e)
		c.freeCond.Signal()
	}
	c.mu.Unlock()
}

// drainAll forces every dirty entry to writeback and blocks until the
// cache reaches full quiescence: no in-flight writeback, no bypass reads,
// and nothing left on the handle list. It backs the barrier contract in
// Submit for requests with Barrier set.
func (c *Cache) drainAll() {
	c.mu.Lock()
	for e := c.freeDirty.Front(); e != nil; {
		next := e.Next()
		ent := e.Value.(*entry)
		c.pushHandle(ent)
		e = next
	}
	for !c.quiescentLocked() {
		c.barrierCond.Wait()
	}
	c.mu.Unlock()
}
