package region

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Magic identifies a valid region header on media.
const Magic uint32 = 0xB17B0A7E

// HeaderSize is the on-media size in bytes of a Header, packed into the
// region's single header page.
const HeaderSize = 4 + 4 + 16 + 16 + 8 + 4 + 1

// Header is the durable per-region descriptor stored in the first page of
// the region: a magic marker, a checksum over the rest of the header, a
// human name, a UUID, the region's starting page number, its data-area
// size in megabytes, and the block order k (a block is 2^k pages).
type Header struct {
	Magic      uint32
	Checksum   uint32
	Name       [16]byte
	UUID       uuid.UUID
	StartPFN   uint64
	SizeMB     uint32
	BlockOrder uint8
}

// ErrBadMagic is returned by Validate when the header's magic does not
// identify a valid region.
var ErrBadMagic = fmt.Errorf("region: bad magic")

// ErrChecksum is returned by Validate when the stored checksum does not
// match the recomputed one.
var ErrChecksum = fmt.Errorf("region: header checksum mismatch")

// Marshal packs the header into its on-media byte representation.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Checksum)
	copy(buf[8:24], h.Name[:])
	copy(buf[24:40], h.UUID[:])
	binary.LittleEndian.PutUint64(buf[40:48], h.StartPFN)
	binary.LittleEndian.PutUint32(buf[48:52], h.SizeMB)
	buf[52] = h.BlockOrder
	return buf
}

// UnmarshalHeader reconstructs a Header from its on-media bytes.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("region: short header, got %d bytes", len(buf))
	}
	var h Header
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Checksum = binary.LittleEndian.Uint32(buf[4:8])
	copy(h.Name[:], buf[8:24])
	copy(h.UUID[:], buf[24:40])
	h.StartPFN = binary.LittleEndian.Uint64(buf[40:48])
	h.SizeMB = binary.LittleEndian.Uint32(buf[48:52])
	h.BlockOrder = buf[52]
	return h, nil
}

// computeChecksum sums all 32-bit words of the header, treating the stored
// checksum field as zero while doing so.
func computeChecksum(h Header) uint32 {
	h.Checksum = 0
	buf := h.Marshal()
	var sum uint32
	for i := 0; i+4 <= len(buf); i += 4 {
		sum += binary.LittleEndian.Uint32(buf[i : i+4])
	}
	// Account for the trailing partial word (BlockOrder, 1 byte).
	if rem := len(buf) % 4; rem != 0 {
		var tail [4]byte
		copy(tail[:], buf[len(buf)-rem:])
		sum += binary.LittleEndian.Uint32(tail[:])
	}
	return sum
}

// Seal computes and stores the header checksum.
func (h Header) Seal() Header {
	h.Checksum = computeChecksum(h)
	return h
}

// Validate checks the magic and checksum of a header read from media.
func (h Header) Validate() error {
	if h.Magic != Magic {
		return ErrBadMagic
	}
	if computeChecksum(h) != h.Checksum {
		return ErrChecksum
	}
	return nil
}

// NameString returns the region name as a trimmed Go string.
func (h Header) NameString() string {
	n := 0
	for n < len(h.Name) && h.Name[n] != 0 {
		n++
	}
	return string(h.Name[:n])
}

// NewName packs a Go string into the fixed-size on-media name field. It
// returns an error if name is longer than 16 bytes.
func NewName(name string) ([16]byte, error) {
	var out [16]byte
	if len(name) > len(out) {
		return out, fmt.Errorf("region: name %q exceeds %d bytes", name, len(out))
	}
	copy(out[:], name)
	return out, nil
}
