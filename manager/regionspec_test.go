package manager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvbbu/bbucache/region"
)

func TestParseCacheSpec(t *testing.T) {
	spec, err := ParseCacheSpec("mycache:64:2")
	require.NoError(t, err)
	require.Equal(t, "mycache", spec.Name)
	require.Equal(t, uint32(64), spec.SizeMB)
	require.Equal(t, uint8(2), spec.Order)

	spec, err = ParseCacheSpec("justname")
	require.NoError(t, err)
	require.Equal(t, "justname", spec.Name)
	require.Equal(t, uint32(0), spec.SizeMB)

	_, err = ParseCacheSpec("")
	require.Error(t, err)

	_, err = ParseCacheSpec("a:b:c:d")
	require.Error(t, err)
}

// Scenario 8: region add / largest-free-fit. With no explicit size, the
// largest contiguous free span on the device is used in full.
func TestLargestFreeSpan(t *testing.T) {
	// Device spans PFN 0..10000; PFN 0 is reserved. Two regions already
	// placed leave three gaps: [1,100), [600,4000), [5000,10000).
	placed := []placedRegion{
		{startPFN: 100, pages: 500},  // occupies [100,600)
		{startPFN: 4000, pages: 1000}, // occupies [4000,5000)
	}
	start, pages := largestFreeSpan(0, 10000, placed)
	require.Equal(t, uint64(5000), start)
	require.Equal(t, uint64(5000), pages) // [5000,10000)
}

func TestLargestFreeSpanEmptyDevice(t *testing.T) {
	start, pages := largestFreeSpan(0, 2000, nil)
	require.Equal(t, uint64(1), start) // PFN 0 reserved
	require.Equal(t, uint64(1999), pages)
}

func TestFitLargestSizeBinarySearch(t *testing.T) {
	layout := region.ComputeLayout(0, 1, 0)
	onePage := layout.TotalPages()

	mb := fitLargestSize(0, onePage*10)
	require.True(t, mb >= 1)
	got := region.ComputeLayout(0, mb, 0)
	require.LessOrEqual(t, got.TotalPages(), onePage*10)

	// One size up must not fit, proving this is the largest, not just a fit.
	tooBig := region.ComputeLayout(0, mb+1, 0)
	require.Greater(t, tooBig.TotalPages(), onePage*10)
}
