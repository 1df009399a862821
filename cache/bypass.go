package cache

import (
	"context"

	"github.com/nvbbu/bbucache/backend"
)

// bypassIO tracks one in-flight direct-to-backing-device read: a read
// request segment for which, at admission time, no entry existed for its
// stripe sector. The backing device is read straight into the client's
// buffer; once it lands, the entry is re-checked under lock and any bytes
// that are dirty in the cache are copied over the backing snapshot so the
// client never observes backing content older than what the cache holds.
type bypassIO struct {
	entrySector uint64
	blockIndex  int
	sector      uint64
	sectors     uint64
	buf         []byte
}

// issueBypassRead submits a direct backing-device read for one request
// segment. c.mu must not be held.
func (c *Cache) issueBypassRead(req *Request, entrySector uint64, blockIndex int, sector, sectors uint64) {
	buf := req.sliceBuf(sector, sectors)

	c.mu.Lock()
	c.activeBypass++
	c.mu.Unlock()

	c.backend.Submit(context.Background(), backend.ReadIO, sector, buf, func(comp backend.Completion) {
		c.completeBypassRead(req, &bypassIO{
			entrySector: entrySector,
			blockIndex:  blockIndex,
			sector:      sector,
			sectors:     sectors,
			buf:         buf,
		}, comp.Err)
	})
}

// completeBypassRead merges any dirty cache content into the backing-read
// result and fires the request segment. An entry may have been created for
// this stripe sector concurrently with the bypass read (a racing write
// admitted first); if so its dirty bytes win over the backing snapshot.
func (c *Cache) completeBypassRead(req *Request, b *bypassIO, err error) {
	c.mu.Lock()
	c.activeBypass--
	e := c.findEntry(b.entrySector)
	c.mu.Unlock()

	if err == nil && e != nil {
		e.mu.Lock()
		blk := &e.blocks[b.blockIndex]
		if blk.has(FlagDirty) || blk.has(FlagUptodate) {
			// The cache has newer content for this block than whatever the
			// backing device just returned; overlay it wholesale since a
			// bypass read always spans at most one block.
			page := c.region.DataPage(blk.slot, 0)
			copy(b.buf, page[:len(b.buf)])
		}
		e.mu.Unlock()
	}

	if err != nil {
		c.met.ReadErrs.Inc()
		err = errIO
	} else {
		c.met.Bypasses.Inc()
	}
	req.completeSegment(err)
}
