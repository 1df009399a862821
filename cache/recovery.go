package cache

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/nvbbu/bbucache/region"
)

// Recover runs the two-pass crash-recovery protocol over every descriptor
// slot before the cache is started. Pass one repairs any transient lock
// state left behind by a crash into a safe quiescent state and persists
// the repair with a store fence. Pass two reconstructs the entry arena
// and hash index from the repaired descriptors and hands every non-empty
// entry to the ordinary dispatch rule (statemachine.go's processEntry)
// rather than duplicating its free/free-dirty/handle classification here.
// Must be called once, before Start, and never while requests are being
// submitted.
func (c *Cache) Recover() error {
	members := c.stripeMembers

	for slot := uint32(0); slot < uint32(c.layout.TotalBlocks); slot++ {
		st, sector, err := c.region.ReadDescriptor(slot)
		if err != nil {
			return err
		}
		if !st.IsLock() {
			continue
		}
		repaired := repairLockState(st)
		if err := c.region.WriteDescriptor(slot, repaired, sector); err != nil {
			return err
		}
		c.met.Recovered.Inc()
	}
	c.region.StoreFence()

	// seenStripes catches descriptor corruption that would otherwise hash
	// two reconstructed entries to the same stripe sector (violating the
	// "at most one entry hashed per stripe sector" invariant silently).
	seenStripes := mapset.NewSet[uint64]()

	for i, e := range c.entries {
		idx := int32(i)
		baseSlot := idx * int32(members)

		sawAssociated := false
		anyDirty := false
		var stripeSector uint64

		for m := 0; m < members; m++ {
			slot := uint32(baseSlot) + uint32(m)
			st, sector, err := c.region.ReadDescriptor(slot)
			if err != nil {
				return err
			}
			blk := &e.blocks[m]
			blk.reset()
			blk.slot = slot
			blk.state = st
			blk.sector = sector
			switch st {
			case Sync:
				blk.setFlag(FlagUptodate)
				sawAssociated = true
			case Dirty:
				blk.setFlag(FlagUptodate)
				blk.setFlag(FlagDirty)
				sawAssociated = true
				anyDirty = true
			}
			if st != Unassociated && m == 0 {
				stripeSector = c.entrySectorFromBlockSector(sector)
			}
		}

		c.mu.Lock()
		if !sawAssociated {
			c.pushFree(e)
		} else {
			if seenStripes.Contains(stripeSector) {
				c.mu.Unlock()
				c.log.Error("recovery found duplicate stripe sector", "sector", stripeSector, "entry", idx)
				return ErrDescriptorError
			}
			seenStripes.Add(stripeSector)
			e.stripeSector = stripeSector
			c.hashInsert(e)
			if anyDirty {
				e.setFlag(EntryDirty)
				c.dirty++
			}
			c.active++
			c.met.Active.Set(float64(c.active))
			c.pushHandle(e)
		}
		c.mu.Unlock()
	}

	return nil
}

// repairLockState maps a transient lock state observed at a cold boot to
// the quiescent state it must have been transitioning from or to. Replace
// and read locks abort to Unassociated (their data movement never
// committed); update and writeback locks resolve to Dirty, since
// re-running either operation against content that is already correct is
// harmless, while discarding it could silently lose a write.
func repairLockState(st region.State) region.State {
	switch st {
	case region.ReplaceLock, region.ReadLock:
		return region.Unassociated
	case region.UpdateLock, region.WritebackLock:
		return region.Dirty
	default:
		return st
	}
}

// entrySectorFromBlockSector inverts blockSector for member 0, recovering
// the stripe-base sector an entry was hashed under.
func (c *Cache) entrySectorFromBlockSector(sector uint64) uint64 {
	return sector
}
