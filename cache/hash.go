package cache

// hashSector maps a stripe-base sector to its bucket index:
// hash(sector) = (sector / blocksPerStripe) mod buckets.
func (c *Cache) hashSector(stripeSector uint64) int {
	chunk := stripeSector / c.blocksPerStripe
	return int(chunk % uint64(c.numBucket))
}

// findEntry scans the bucket for an entry with matching stripe-base
// sector, whether it is actively in use, queued on the handle list, or
// merely idle on the free/free-dirty list (an idle hit still holds valid
// cached content and must be reactivated rather than treated as a miss).
// Caller must hold c.mu.
func (c *Cache) findEntry(stripeSector uint64) *entry {
	b := c.hashSector(stripeSector)
	for e := c.buckets[b]; e != nil; e = e.hashNext {
		if e.stripeSector == stripeSector {
			return e
		}
	}
	return nil
}

// hashInsert adds e to its bucket chain (invariant P4: at most one entry
// per stripe sector is hashed at a time). Caller must hold c.mu.
func (c *Cache) hashInsert(e *entry) {
	b := c.hashSector(e.stripeSector)
	e.hashNext = c.buckets[b]
	c.buckets[b] = e
}

// hashRemove unlinks e from its bucket chain. Caller must hold c.mu.
func (c *Cache) hashRemove(e *entry) {
	b := c.hashSector(e.stripeSector)
	if c.buckets[b] == e {
		c.buckets[b] = e.hashNext
		e.hashNext = nil
		return
	}
	for cur := c.buckets[b]; cur != nil; cur = cur.hashNext {
		if cur.hashNext == e {
			cur.hashNext = e.hashNext
			e.hashNext = nil
			return
		}
	}
}

// locate maps a request sector to the entry's stripe-base sector and the
// index of the block within that entry responsible for it, per §4.3:
//
//	if stripeSectors==0, the entry is the block and blockIndex=0.
//	otherwise: chunk = sector/stripeSectors, offset = sector mod stripeSectors
//	           blockIndex = chunk mod M
//	           entrySector = (chunk-blockIndex)*stripeSectors + offset
//
// Sectors are rounded down to the block boundary before entry lookup.
func locate(sector, stripeSectors uint64, blockSectors uint64, members int) (entrySector uint64, blockIndex int) {
	aligned := (sector / blockSectors) * blockSectors
	if stripeSectors == 0 {
		return aligned, 0
	}
	chunk := aligned / stripeSectors
	offset := aligned % stripeSectors
	blockIndex = int(chunk % uint64(members))
	entrySector = (chunk-uint64(blockIndex))*stripeSectors + offset
	return entrySector, blockIndex
}

func (c *Cache) locate(sector uint64) (entrySector uint64, blockIndex int) {
	return locate(sector, c.stripeSectors, c.layout.BlockSectors, c.stripeMembers)
}
