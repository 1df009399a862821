// Package cache implements the battery-backed write-back cache engine:
// entry pool, hash index, the per-entry state machine, the worker
// pipeline, crash recovery, and the laundry/barrier watervark policy.
package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/nvbbu/bbucache/backend"
	"github.com/nvbbu/bbucache/internal/logutil"
	"github.com/nvbbu/bbucache/internal/metrics"
	"github.com/nvbbu/bbucache/region"
)

// Geometry configures how entries are striped across backing-device
// sectors. StripeSectors must be 0 when StripeMembers is 1, otherwise a
// multiple of the block's sector size.
type Geometry struct {
	StripeMembers int
	StripeSectors uint64
}

// Config bundles everything needed to activate a Cache.
type Config struct {
	Region     region.NvRegion
	Backend    backend.BackingDevice
	CopyEngine backend.CopyEngine
	Geometry   Geometry
	Watermark  int // defaults to entryCount - entryCount/8 when zero
	Name       string
}

// Cache is one active battery-backed cache instance. Shared mutable state
// (the free/free-dirty/handle lists, the hash index, and the bookkeeping
// counters) is protected by mu, the cache-wide lock; each entry also
// carries its own lock protecting its block chains and flags. Lock
// acquisition order is per-entry then cache-wide; the one exception is
// releaseEntry, which briefly takes an idle entry's lock under mu to read
// its dirty flag.
type Cache struct {
	name   string
	region region.NvRegion
	layout region.Layout

	backend    backend.BackingDevice
	copyEngine backend.CopyEngine

	stripeMembers   int
	stripeSectors   uint64
	blocksPerStripe uint64

	mu          sync.Mutex
	freeCond    *sync.Cond
	overlapCond *sync.Cond
	barrierCond *sync.Cond
	handleCond  *sync.Cond
	laundryCond *sync.Cond

	entries []*entry // arena, length N = totalBlocks / M

	buckets   []*entry
	numBucket int

	free      *list.List
	freeDirty *list.List
	handle    *list.List

	active          int
	dirty           int
	writebackActive int
	requesters      int
	activeBypass    int

	inactiveBlocked bool
	barrierActive   bool
	failed          bool
	stopped         bool

	watermark int

	wg sync.WaitGroup

	log *logutil.Logger
	met *metrics.Set
}

// entries per hash bucket chain are singly linked through entry.hashNext;
// bucket count is fixed at activation and sized to fit one page, matching
// §4.2 ("Hash bucket count is fixed and sized to fit one page").
const hashBucketPageFit = region.PageSize / 8 // one *entry "slot" ~ one descriptor word wide

// New activates a cache over the given region and configuration. It does
// not perform recovery; callers run Recover before serving traffic (see
// recovery.go).
func New(cfg Config) (*Cache, error) {
	layout := cfg.Region.Layout()
	members := cfg.Geometry.StripeMembers
	if members < 1 {
		members = 1
	}
	blockSectors := layout.BlockSectors
	stripeSectors := cfg.Geometry.StripeSectors

	if members == 1 {
		stripeSectors = 0
	} else if stripeSectors == 0 || stripeSectors%blockSectors != 0 {
		return nil, fmt.Errorf("%w: stripe sectors %d not a multiple of block sectors %d", ErrBadGeometry, stripeSectors, blockSectors)
	}
	if layout.TotalBlocks < members {
		return nil, fmt.Errorf("%w: %d blocks available, need at least %d for %d stripe members", ErrBadGeometry, layout.TotalBlocks, members, members)
	}

	n := layout.TotalBlocks / members
	if n == 0 {
		return nil, fmt.Errorf("%w: zero entries for %d blocks / %d members", ErrBadGeometry, layout.TotalBlocks, members)
	}

	watermark := cfg.Watermark
	if watermark <= 0 {
		watermark = n - n/8
	}

	numBucket := hashBucketPageFit
	if numBucket > n {
		numBucket = n
	}
	if numBucket < 1 {
		numBucket = 1
	}

	c := &Cache{
		name:            cfg.Name,
		region:          cfg.Region,
		layout:          layout,
		backend:         cfg.Backend,
		copyEngine:      cfg.CopyEngine,
		stripeMembers:   members,
		stripeSectors:   stripeSectors,
		blocksPerStripe: uint64(members) * maxu64(stripeSectors, blockSectors),
		entries:         make([]*entry, n),
		buckets:         make([]*entry, numBucket),
		numBucket:       numBucket,
		free:            list.New(),
		freeDirty:       list.New(),
		handle:          list.New(),
		watermark:       watermark,
		log:             logutil.New("cache", cfg.Name),
		met:             metrics.NewSet(cfg.Name),
	}
	c.freeCond = sync.NewCond(&c.mu)
	c.overlapCond = sync.NewCond(&c.mu)
	c.barrierCond = sync.NewCond(&c.mu)
	c.handleCond = sync.NewCond(&c.mu)
	c.laundryCond = sync.NewCond(&c.mu)

	for i := range c.entries {
		c.entries[i] = newEntry(int32(i), members)
	}

	return c, nil
}

// Stats is a read-only snapshot of a Cache's live counters, used by the
// manager's config-surface Get and by the Prometheus metrics set.
type Stats struct {
	Active          int
	Dirty           int
	WritebackActive int
	Requesters      int
	EntryCount      int
	Failed          bool
}

// Layout returns the region layout this cache was activated over.
func (c *Cache) Layout() region.Layout {
	return c.layout
}

// StatsSnapshot takes a consistent snapshot of the cache's counters.
func (c *Cache) StatsSnapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Active:          c.active,
		Dirty:           c.dirty,
		WritebackActive: c.writebackActive,
		Requesters:      c.requesters,
		EntryCount:      len(c.entries),
		Failed:          c.failed,
	}
}

// adjustDirty updates the cache-wide dirty-entry counter, entered each
// time an entry's EntryDirty flag transitions. Caller must not hold c.mu.
func (c *Cache) adjustDirty(delta int) {
	c.mu.Lock()
	c.dirty += delta
	c.met.Dirty.Set(float64(c.dirty))
	c.mu.Unlock()
}

func maxu64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// Start launches the single worker task that drives entries through the
// state machine. Recover must have been called first.
func (c *Cache) Start() {
	c.wg.Add(2)
	go c.workerLoop()
	go c.laundryLoop()
}

// Stop signals the worker to exit and waits for it to drain the handle
// list once more, per the shutdown contract in the concurrency model.
func (c *Cache) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.handleCond.Broadcast()
	c.laundryCond.Broadcast()
	c.mu.Unlock()
	c.wg.Wait()
}

// pushFree appends e to the free list, marking it fully reclaimed.
func (c *Cache) pushFree(e *entry) {
	e.inList = listFree
	e.listElem = c.free.PushBack(e)
}

func (c *Cache) pushFreeDirty(e *entry) {
	e.inList = listFreeDirty
	e.listElem = c.freeDirty.PushBack(e)
	c.laundryCond.Signal()
}

func (c *Cache) pushHandle(e *entry) {
	if e.inList == listHandle {
		return
	}
	c.removeFromList(e)
	e.inList = listHandle
	e.listElem = c.handle.PushBack(e)
	c.handleCond.Signal()
}

// removeFromList detaches e from whichever bookkeeping list currently
// holds it (invariant P1: an entry is in exactly one list, or none while
// it is hashed/in-flight).
func (c *Cache) removeFromList(e *entry) {
	switch e.inList {
	case listFree:
		c.free.Remove(e.listElem)
	case listFreeDirty:
		c.freeDirty.Remove(e.listElem)
	case listHandle:
		c.handle.Remove(e.listElem)
	}
	e.inList = listNone
	e.listElem = nil
}

// getFreeEntry pops an entry off the free list, blocking until one is
// available (condition inactive_ok). Caller must hold c.mu.
func (c *Cache) getFreeEntry() *entry {
	for c.free.Len() == 0 {
		c.inactiveBlocked = true
		c.met.InactiveBlocked.Set(1)
		c.freeCond.Wait()
	}
	elem := c.free.Front()
	e := elem.Value.(*entry)
	c.removeFromList(e)
	c.active++
	c.met.Active.Set(float64(c.active))
	if c.active >= c.watermark {
		c.laundryCond.Signal()
	}

	if c.inactiveBlocked {
		// Once a requester has had to wait, inactiveBlocked stays set
		// until at least 25% of all entries are free again. The flag is
		// only reported through the InactiveBlocked gauge; admission
		// itself waits only while the free list is empty.
		if c.free.Len() >= len(c.entries)/4 {
			c.inactiveBlocked = false
			c.met.InactiveBlocked.Set(0)
		}
	}
	return e
}

// releaseEntry returns e to the appropriate free list once its refcount
// drops to zero and it has no pending work. Caller must hold c.mu.
func (c *Cache) releaseEntry(e *entry) {
	e.mu.Lock()
	dirty := e.has(EntryDirty)
	e.mu.Unlock()

	c.removeFromList(e)
	c.active--
	c.met.Active.Set(float64(c.active))
	if dirty {
		c.pushFreeDirty(e)
	} else {
		c.pushFree(e)
		c.freeCond.Signal()
	}
}
