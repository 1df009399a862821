// Package manager replaces the source driver's global bbu_device_list and
// bbu_lock with an explicit owner value: one Manager per backing device,
// tracking its placed regions and the activated caches built over them.
package manager

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/nvbbu/bbucache/backend"
	"github.com/nvbbu/bbucache/cache"
	"github.com/nvbbu/bbucache/internal/logutil"
	"github.com/nvbbu/bbucache/region"
)

var (
	// ErrExists is returned when AddRegion is given a name already in use.
	ErrExists = fmt.Errorf("manager: region name already exists")
	// ErrNoSpace is returned when no free span large enough exists, or a
	// requested size does not fit any free span.
	ErrNoSpace = fmt.Errorf("manager: no space for region")
	// ErrUnknownField is returned by Get/Set for a field not in the config
	// surface table.
	ErrUnknownField = fmt.Errorf("manager: unknown config field")
)

// managedCache bundles one activated cache.Cache with the region metadata
// and placement bookkeeping needed to answer the config surface and to
// unregister it later.
type managedCache struct {
	name   string
	header region.Header
	nv     region.NvRegion
	be     backend.BackingDevice
	c      *cache.Cache

	active     bool
	wrongOwner any // the registered disk-handle identity (opaque to manager)
}

// Manager owns every region placed on one backing device and every
// activated cache built over one of those regions.
type Manager struct {
	mu sync.Mutex

	devStart uint64
	devPages uint64

	placed map[string]placedRegion
	caches map[uuid.UUID]*managedCache

	log *logutil.Logger
}

// New creates a Manager over a backing device spanning devPages pages
// starting at devStart.
func New(devStart, devPages uint64) *Manager {
	return &Manager{
		devStart: devStart,
		devPages: devPages,
		placed:   make(map[string]placedRegion),
		caches:   make(map[uuid.UUID]*managedCache),
		log:      logutil.New("component", "manager"),
	}
}

// AddRegion reserves space for spec on the device and returns the sealed
// header for the placed region; it does not write the header anywhere
// itself. If spec.SizeMB is zero, the largest
// contiguous free span is used in full (the largest-free-fit default).
func (m *Manager) AddRegion(spec CacheSpec) (region.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.placed[spec.Name]; exists {
		return region.Header{}, ErrExists
	}

	placedSlice := make([]placedRegion, 0, len(m.placed))
	for _, p := range m.placed {
		placedSlice = append(placedSlice, p)
	}
	start, freePages := largestFreeSpan(m.devStart, m.devPages, placedSlice)
	if freePages == 0 {
		return region.Header{}, ErrNoSpace
	}

	sizeMB := spec.SizeMB
	if sizeMB == 0 {
		sizeMB = fitLargestSize(spec.Order, freePages)
		if sizeMB == 0 {
			return region.Header{}, ErrNoSpace
		}
	}

	layout := region.ComputeLayout(start, sizeMB, spec.Order)
	if layout.TotalPages() > freePages {
		return region.Header{}, ErrNoSpace
	}

	name, err := region.NewName(spec.Name)
	if err != nil {
		return region.Header{}, err
	}
	h := region.Header{
		Magic:      region.Magic,
		Name:       name,
		UUID:       uuid.New(),
		StartPFN:   start,
		SizeMB:     sizeMB,
		BlockOrder: spec.Order,
	}
	h = h.Seal()

	m.placed[spec.Name] = placedRegion{startPFN: start, pages: layout.TotalPages()}
	m.log.Info("region added", "name", spec.Name, "uuid", h.UUID, "size_mb", sizeMB, "start_pfn", start)
	return h, nil
}

// Register activates a cache.Cache over an already-placed region and
// begins tracking it under the region's UUID. It runs recovery before
// starting the worker, matching the source's activation-time repair pass.
func (m *Manager) Register(h region.Header, nv region.NvRegion, cfg cache.Config) (uuid.UUID, error) {
	m.mu.Lock()
	_, active := m.caches[h.UUID]
	m.mu.Unlock()
	if active {
		return uuid.UUID{}, cache.ErrBusy
	}

	c, err := cache.New(cfg)
	if err != nil {
		return uuid.UUID{}, err
	}
	if err := c.Recover(); err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %v", cache.ErrDescriptorError, err)
	}
	c.Start()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches[h.UUID] = &managedCache{
		name:   h.NameString(),
		header: h,
		nv:     nv,
		be:     cfg.Backend,
		c:      c,
		active: true,
	}
	m.log.Info("cache registered", "uuid", h.UUID, "name", h.NameString())
	return h.UUID, nil
}

// Unregister stops and removes an active cache, refusing while it still
// has outstanding activity (mirroring bbu_stop/exit_bbu_cache's refusal
// path).
func (m *Manager) Unregister(id uuid.UUID) error {
	m.mu.Lock()
	mc, ok := m.caches[id]
	if !ok {
		m.mu.Unlock()
		return cache.ErrNotActive
	}
	stats := mc.c.StatsSnapshot()
	if stats.Dirty > 0 || stats.Active > 0 || stats.Requesters > 0 {
		m.mu.Unlock()
		return cache.ErrBusy
	}
	delete(m.caches, id)
	m.mu.Unlock()

	mc.c.Stop()
	if err := mc.nv.Close(); err != nil {
		return err
	}
	if err := mc.be.Close(); err != nil {
		return err
	}
	m.log.Info("cache unregistered", "uuid", id)
	return nil
}

// Get reads one field of the config surface for an active cache.
func (m *Manager) Get(id uuid.UUID, field string) (string, error) {
	mc, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	s := mc.c.StatsSnapshot()
	switch field {
	case "state":
		if s.Failed {
			return "failed", nil
		}
		if s.Active > 0 || mc.active {
			return "active", nil
		}
		return "inactive", nil
	case "size":
		return strconv.FormatUint(uint64(mc.header.SizeMB), 10), nil
	case "meta_pfn":
		return strconv.FormatUint(mc.header.StartPFN, 10), nil
	case "uuid":
		return mc.header.UUID.String(), nil
	case "order":
		return strconv.FormatUint(uint64(mc.header.BlockOrder), 10), nil
	case "active":
		return strconv.Itoa(s.Active), nil
	case "pfn":
		return strconv.FormatUint(mc.header.StartPFN, 10), nil
	case "dirty":
		return strconv.Itoa(s.Dirty), nil
	case "writeback":
		return strconv.Itoa(s.WritebackActive), nil
	case "entry_count":
		return strconv.Itoa(s.EntryCount), nil
	default:
		return "", ErrUnknownField
	}
}

// Set writes one field of the config surface: "state" (only "delete" is
// accepted, deactivating and removing an idle cache, matching bbu.c's
// state_store sentinel), "flush" (only "1" is accepted, forcing a full
// barrier flush to quiescence), and "uuid" (replaces the cache's identity,
// refused unless the cache is idle).
func (m *Manager) Set(id uuid.UUID, field, value string) error {
	switch field {
	case "state":
		if value != "delete" {
			return fmt.Errorf("%w: field %q accepts only \"delete\"", ErrUnknownField, field)
		}
		return m.Unregister(id)
	case "flush":
		if value != "1" {
			return fmt.Errorf("%w: field %q accepts only \"1\"", ErrUnknownField, field)
		}
		return m.flush(id)
	case "uuid":
		return m.setUUID(id, value)
	default:
		return ErrUnknownField
	}
}

// flush forces every dirty entry back to the backing device before
// returning, the manager-level equivalent of the source's
// laundry(all=true) forced sync.
func (m *Manager) flush(id uuid.UUID) error {
	mc, err := m.lookup(id)
	if err != nil {
		return err
	}
	req := cache.NewRequest(0, 0, cache.Write, nil)
	req.Barrier = true
	mc.c.Submit(req)
	return req.Wait()
}

// setUUID replaces an idle cache's identity and re-keys it in the
// manager's table under the new id. Refused while the cache has dirty
// entries, admitted entries, or outstanding requesters, mirroring
// Unregister's busy check — the config surface's "writeable only when
// inactive" rule.
func (m *Manager) setUUID(id uuid.UUID, value string) error {
	newID, err := uuid.Parse(value)
	if err != nil {
		return fmt.Errorf("%w: field %q expects a uuid, got %q", ErrUnknownField, "uuid", value)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.caches[id]
	if !ok {
		return cache.ErrNoSuchCache
	}
	stats := mc.c.StatsSnapshot()
	if stats.Dirty > 0 || stats.Active > 0 || stats.Requesters > 0 {
		return cache.ErrBusy
	}
	if _, exists := m.caches[newID]; exists {
		return ErrExists
	}

	delete(m.caches, id)
	mc.header.UUID = newID
	mc.header = mc.header.Seal()
	m.caches[newID] = mc
	m.log.Info("cache uuid changed", "old_uuid", id, "new_uuid", newID)
	return nil
}

func (m *Manager) lookup(id uuid.UUID) (*managedCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.caches[id]
	if !ok {
		return nil, cache.ErrNoSuchCache
	}
	return mc, nil
}
