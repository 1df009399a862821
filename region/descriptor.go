package region

import "fmt"

// State is the persisted state of one descriptor slot. The low bits of the
// on-media word hold this value; the remaining bits hold the backing
// sector. Seven states are defined; three of them (Unassociated, Sync,
// Dirty) are the only ones that may be observed at quiescence, the other
// four are transient "lock" states that only exist mid-transition and must
// be repaired by recovery if found on a cold boot.
type State uint8

const (
	Unassociated State = iota
	Sync
	Dirty
	ReplaceLock
	ReadLock
	UpdateLock
	WritebackLock

	numStates

	stateBits = 3
	stateMask = (1 << stateBits) - 1
)

func (s State) String() string {
	switch s {
	case Unassociated:
		return "unassociated"
	case Sync:
		return "sync"
	case Dirty:
		return "dirty"
	case ReplaceLock:
		return "replace_lock"
	case ReadLock:
		return "read_lock"
	case UpdateLock:
		return "update_lock"
	case WritebackLock:
		return "writeback_lock"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// IsLock reports whether s is one of the four transient lock states that
// must never survive a clean quiescence point.
func (s State) IsLock() bool {
	switch s {
	case ReplaceLock, ReadLock, UpdateLock, WritebackLock:
		return true
	default:
		return false
	}
}

// EncodeDescriptor packs a state and backing sector into the single 64-bit
// word that is the sole durable record for a block. No read-modify-write
// is ever performed on this word; it is always built whole and written
// whole.
func EncodeDescriptor(st State, sector uint64) uint64 {
	if st >= numStates {
		panic("region: invalid descriptor state")
	}
	return uint64(st) | (sector << stateBits)
}

// DecodeDescriptor splits a durable word back into state and sector.
func DecodeDescriptor(word uint64) (State, uint64) {
	return State(word & stateMask), word >> stateBits
}
