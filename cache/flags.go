package cache

// BlockFlag is the in-memory flag set carried by one block. It is
// authoritative in memory; the on-media descriptor word mirrors only the
// state enum and backing sector (region.State), never the flag bits.
type BlockFlag uint16

const (
	FlagLocked BlockFlag = 1 << iota
	FlagUptodate
	FlagDirty
	FlagOverwrite
	FlagWantread
	FlagWantwrite
	FlagWantfill
	FlagWantdrain
	FlagReadError
	FlagBypass
	FlagOverlap
)

func (f BlockFlag) has(bit BlockFlag) bool { return f&bit != 0 }

// EntryFlag is the flag set carried by a whole entry.
type EntryFlag uint8

const (
	EntryHandle EntryFlag = 1 << iota
	EntryDirty
	EntryWriteback
	EntryBiofillRun
	EntryBiodrainRun
)

func (f EntryFlag) has(bit EntryFlag) bool { return f&bit != 0 }
