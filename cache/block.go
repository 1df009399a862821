package cache

// block is the unit of cached I/O: 2^k pages, one contiguous backing-device
// sector range, and one descriptor slot. Its flags are authoritative in
// memory; state mirrors the on-media descriptor's state enum.
type block struct {
	state  State
	flags  BlockFlag
	sector uint64 // backing-device sector this slot mirrors (meaningless when Unassociated)
	slot   uint32 // descriptor slot index (stable for the block's lifetime within its entry)

	toread  *bio // pending reads, ordered by sector
	towrite *bio // pending writes, ordered by sector
	read    *bio // biofill's private working list
	written *bio // biodrain's private working list

	bypassRefs int32 // distinct bypass readers currently pinning this block
}

func (b *block) setFlag(f BlockFlag)   { b.flags |= f }
func (b *block) clearFlag(f BlockFlag) { b.flags &^= f }
func (b *block) has(f BlockFlag) bool  { return b.flags.has(f) }

// reset restores a block to its post-recycle state: no flags, no sector,
// Unassociated, and empty wait chains. Callers must hold the owning
// entry's lock.
func (b *block) reset() {
	b.state = Unassociated
	b.flags = 0
	b.sector = 0
	b.toread = nil
	b.towrite = nil
	b.read = nil
	b.written = nil
	b.bypassRefs = 0
}

// addToread inserts a read bio into the block's pending-read chain,
// rejecting with errOverlap if it would overlap an in-flight segment.
func (b *block) addToread(nb *bio) error {
	head, err := bioListInsertOrdered(b.toread, nb)
	if err != nil {
		return err
	}
	b.toread = head
	return nil
}

// addTowrite inserts a write bio into the block's pending-write chain.
func (b *block) addTowrite(nb *bio) error {
	head, err := bioListInsertOrdered(b.towrite, nb)
	if err != nil {
		return err
	}
	b.towrite = head
	return nil
}
