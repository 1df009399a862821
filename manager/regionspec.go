package manager

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nvbbu/bbucache/region"
)

// CacheSpec is the parsed form of a `region add` control string:
// "name[:sizeMB[:order]]". SizeMB of 0 requests the largest-free-fit
// default; Order of 0 is the smallest legal block size (a single page).
type CacheSpec struct {
	Name    string
	SizeMB  uint32
	Order   uint8
}

// ParseCacheSpec parses the colon-delimited region-add grammar.
func ParseCacheSpec(s string) (CacheSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) == 0 || parts[0] == "" {
		return CacheSpec{}, fmt.Errorf("manager: empty region name in %q", s)
	}
	if len(parts) > 3 {
		return CacheSpec{}, fmt.Errorf("manager: too many fields in %q", s)
	}
	name, err := region.NewName(parts[0])
	if err != nil {
		return CacheSpec{}, err
	}
	spec := CacheSpec{Name: region.Header{Name: name}.NameString()}

	if len(parts) >= 2 && parts[1] != "" {
		n, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return CacheSpec{}, fmt.Errorf("manager: bad size %q: %w", parts[1], err)
		}
		spec.SizeMB = uint32(n)
	}
	if len(parts) == 3 && parts[2] != "" {
		n, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			return CacheSpec{}, fmt.Errorf("manager: bad block order %q: %w", parts[2], err)
		}
		spec.Order = uint8(n)
	}
	return spec, nil
}

// placedRegion is the bookkeeping span manager tracks per active header on
// a device, in page units.
type placedRegion struct {
	startPFN uint64
	pages    uint64
}

// largestFreeSpan scans the already-placed regions on [devStart,
// devStart+devPages) and returns the start PFN and page count of the
// largest contiguous gap, mirroring bbu_add_region's "find the position
// and size of the largest free region" scan: sort active spans, walk the
// gaps between them (and the tail gap to the device end), keep the
// biggest.
func largestFreeSpan(devStart, devPages uint64, placed []placedRegion) (start, pages uint64) {
	sorted := make([]placedRegion, len(placed))
	copy(sorted, placed)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].startPFN < sorted[j].startPFN })

	pos := devStart + 1 // PFN 0 of the device is reserved, matching bbu.c
	var bestStart, bestSize uint64

	for _, r := range sorted {
		if r.startPFN > pos {
			gap := r.startPFN - pos
			if gap >= bestSize {
				bestSize = gap
				bestStart = pos
			}
		}
		end := r.startPFN + r.pages
		if end > pos {
			pos = end
		}
	}
	tailEnd := devStart + devPages
	if tailEnd > pos {
		gap := tailEnd - pos
		if gap >= bestSize {
			bestSize = gap
			bestStart = pos
		}
	}
	return bestStart, bestSize
}

// fitLargestSize binary-searches the largest sizeMB whose ComputeLayout
// fits within maxPages, for the "size omitted" default-size case.
func fitLargestSize(order uint8, maxPages uint64) uint32 {
	fits := func(mb uint32) bool {
		l := region.ComputeLayout(0, mb, order)
		return l.TotalPages() <= maxPages
	}
	maxMB := maxPages >> (20 - 12) // pages -> MB at 4KiB pages, upper bound
	if maxMB == 0 {
		maxMB = 1
	}
	lo, hi := uint32(1), uint32(maxMB)
	best := uint32(0)
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if fits(mid) {
			best = mid
			lo = mid + 1
		} else {
			if mid == 0 {
				break
			}
			hi = mid - 1
		}
	}
	return best
}
