package cache

// Submit is the client entry point. It splits the request into one
// block-aligned segment per backing-device block it touches, routes each
// segment to a cache entry (allocating or waiting for one as needed, or
// taking the bypass path for a read that finds no existing entry), and
// returns once every segment is attached (after the drain, for a barrier
// request); callers wait for completion via Request.Wait.
func (c *Cache) Submit(req *Request) {
	blockSectors := c.layout.BlockSectors

	var segments [][2]uint64 // (sector, sectors) pairs
	for s := req.Sector; s < req.Sector+req.Sectors; {
		aligned := (s / blockSectors) * blockSectors
		segEnd := aligned + blockSectors
		reqEnd := req.Sector + req.Sectors
		end := segEnd
		if reqEnd < end {
			end = reqEnd
		}
		segments = append(segments, [2]uint64{s, end - s})
		s = end
	}

	req.addSegments(int32(len(segments)))

	c.mu.Lock()
	c.requesters++
	c.mu.Unlock()
	go func() {
		req.Wait()
		c.mu.Lock()
		c.requesters--
		c.mu.Unlock()
	}()

	if req.Barrier {
		c.mu.Lock()
		for c.barrierActive {
			c.barrierCond.Wait()
		}
		c.barrierActive = true
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			c.barrierActive = false
			c.barrierCond.Broadcast()
			c.mu.Unlock()
		}()
		c.drainAll()
	}

	// A zero-length request (a pure barrier/flush, carrying no data) has
	// no segment to complete it; fire immediately once the barrier above
	// (if any) has run.
	if len(segments) == 0 {
		req.fire()
		return
	}

	for _, seg := range segments {
		c.submitSegment(req, seg[0], seg[1])
	}
}

// submitSegment attaches one block-aligned request segment to its entry,
// allocating a fresh entry (or taking the bypass path, for reads with no
// existing entry) as needed. All hash bookkeeping — finding, recycling,
// and re-keying an entry — happens under c.mu alone; c.mu is always
// released before e.mu is acquired, so submitSegment never holds both
// locks at once. issueWriteback (pipeline.go) follows the same rule for
// the same reason: whichever of the two nests the other inside it risks
// an AB-BA deadlock against a thread doing the reverse, so neither nests.
func (c *Cache) submitSegment(req *Request, sector, sectors uint64) {
	entrySector, blockIndex := c.locate(sector)

	c.mu.Lock()
	e := c.findEntry(entrySector)

	// Once a backing-device write has failed, the cache is Failed: only a
	// read that hits already-cached (clean or dirty) data still succeeds.
	// Everything else — a miss, or any write — is refused outright.
	if c.failed && (e == nil || req.Dir != Read) {
		c.mu.Unlock()
		req.completeSegment(ErrFailed)
		return
	}

	if e == nil && req.Dir == Read {
		c.mu.Unlock()
		c.issueBypassRead(req, entrySector, blockIndex, sector, sectors)
		return
	}

	if e == nil {
		e = c.getFreeEntry()
		// A free entry recycled from a prior stripe sector is still hashed
		// under that sector; unlink it, reset and re-key it under the new
		// one, and only then publish it back into the hash — all before
		// anyone else can reach it through findEntry, so no other
		// submitSegment ever observes it half-initialized.
		c.hashRemove(e)
		e.initEnt(c.region)
		e.stripeSector = entrySector
		c.hashInsert(e)
	} else if e.inList == listFree || e.inList == listFreeDirty {
		// A hit on the free/free-dirty list is idle but still holds valid
		// cached content; reactivate it in place rather than reinitializing,
		// mirroring the bookkeeping getFreeEntry does for a fresh pop.
		c.removeFromList(e)
		c.active++
		c.met.Active.Set(float64(c.active))
		if c.active >= c.watermark {
			c.laundryCond.Signal()
		}
	}
	c.mu.Unlock()

	e.mu.Lock()

	nb := &bio{req: req, sector: sector, sectors: sectors}
	blk := &e.blocks[blockIndex]

	for {
		var err error
		if req.Dir == Read {
			err = blk.addToread(nb)
		} else {
			err = blk.addTowrite(nb)
		}
		if err == nil {
			break
		}
		e.overlapCond.Wait()
	}

	if req.Dir == Read {
		blk.setFlag(FlagWantread)
	} else {
		blk.setFlag(FlagWantwrite)
		if blk.state == Unassociated {
			blk.sector = c.blockSector(e, blockIndex)
		}
		// FlagOverwrite records whether the queued write chain now fully
		// covers the block, letting the write-admit rule skip a
		// read-before-write fill for it (statemachine.go rule 3/4-6).
		if bioListCoverage(blk.towrite, blk.sector, c.layout.BlockSectors) {
			blk.setFlag(FlagOverwrite)
		} else {
			blk.clearFlag(FlagOverwrite)
		}
	}
	e.mu.Unlock()

	c.mu.Lock()
	c.pushHandle(e)
	c.mu.Unlock()
}
