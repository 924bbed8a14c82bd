package offset

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestClaimsAreDisjoint verifies spec.md §8's "Disjointness" property: windows
// claimed by distinct workers are pairwise disjoint, and once MarkEnd has been
// called Claim returns the end sentinel.
func TestClaimsAreDisjoint(t *testing.T) {
	const limit = 10
	const workers = 8
	const totalItems = 237 // forces a short final page

	c := New(0, limit)

	var mu sync.Mutex
	var claimed []int64

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				off, ok := c.Claim()
				if !ok {
					return
				}
				mu.Lock()
				claimed = append(claimed, off)
				mu.Unlock()

				if off >= totalItems {
					c.MarkEnd()
					return
				}
			}
		}()
	}
	wg.Wait()

	sort.Slice(claimed, func(i, j int) bool { return claimed[i] < claimed[j] })
	seen := map[int64]bool{}
	for i, off := range claimed {
		require.False(t, seen[off], "duplicate offset claimed: %d", off)
		seen[off] = true
		if i > 0 {
			require.NotEqual(t, claimed[i-1], off)
		}
	}

	offset, ok := c.Claim()
	require.False(t, ok)
	require.Equal(t, int64(end), offset)
}

func TestResumeSeedsStartOffset(t *testing.T) {
	c := New(470, 10)
	off, ok := c.Claim()
	require.True(t, ok)
	require.Equal(t, int64(470), off)
	off, ok = c.Claim()
	require.True(t, ok)
	require.Equal(t, int64(480), off)
}
