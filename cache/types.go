package cache

import "github.com/nvbbu/bbucache/region"

// SectorSize mirrors region.SectorSize for callers that only import cache.
const SectorSize = region.SectorSize

// State re-exports region.State so callers working purely with the cache
// package don't need a second import for the handful of state constants
// they compare against (e.g. in tests).
type State = region.State

const (
	Unassociated  = region.Unassociated
	Sync          = region.Sync
	Dirty         = region.Dirty
	ReplaceLock   = region.ReplaceLock
	ReadLock      = region.ReadLock
	UpdateLock    = region.UpdateLock
	WritebackLock = region.WritebackLock
)
