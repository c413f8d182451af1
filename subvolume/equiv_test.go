package subvolume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEquivCacheUpdateFromRowAndEquivDefault(t *testing.T) {
	c := NewEquivCache()

	assert.Equal(t, uint32(5), c.Equiv(5), "unknown id reports itself as its own representative")

	c.UpdateFromRow(5, SnapshotRow{Flags: FlagIsSubvol})
	assert.Equal(t, uint32(5), c.Equiv(5))
	assert.Equal(t, 1, c.Len())
}

func TestEquivCacheRemove(t *testing.T) {
	c := NewEquivCache()
	c.UpdateFromRow(5, SnapshotRow{})
	assert.Equal(t, 1, c.Len())

	c.Remove(5)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint32(5), c.Equiv(5))
}

// TestEquivCacheRecomputeFoldsSingleLiveChild: a node with exactly one live
// child folds into that child's representative, per a classic
// create-then-delete-the-original chain (ids forward-allocated, so the
// child's id exceeds the parent's).
func TestEquivCacheRecomputeFoldsSingleLiveChild(t *testing.T) {
	c := NewEquivCache()
	// parent 1 has a single surviving child 2
	c.UpdateFromRow(1, SnapshotRow{Children: [2]uint32{2, 0}})
	c.UpdateFromRow(2, SnapshotRow{Parent: 1})

	c.RecomputeEquiv([]uint32{1, 2})

	assert.Equal(t, uint32(2), c.Equiv(2), "leaf represents itself")
	assert.Equal(t, uint32(2), c.Equiv(1), "single live child folds parent into it")
}

func TestEquivCacheRecomputeWithTwoLiveChildrenRepresentsSelf(t *testing.T) {
	c := NewEquivCache()
	c.UpdateFromRow(1, SnapshotRow{Children: [2]uint32{3, 2}})
	c.UpdateFromRow(2, SnapshotRow{Parent: 1})
	c.UpdateFromRow(3, SnapshotRow{Parent: 1})

	c.RecomputeEquiv([]uint32{1, 2, 3})

	assert.Equal(t, uint32(1), c.Equiv(1), "two live children: node represents itself")
	assert.Equal(t, uint32(2), c.Equiv(2))
	assert.Equal(t, uint32(3), c.Equiv(3))
}

func TestEquivCacheRecomputeIgnoresDeadChild(t *testing.T) {
	c := NewEquivCache()
	c.UpdateFromRow(1, SnapshotRow{Children: [2]uint32{2, 0}})
	c.UpdateFromRow(2, SnapshotRow{Parent: 1, Flags: FlagDeleted})

	c.RecomputeEquiv([]uint32{1, 2})

	assert.Equal(t, uint32(1), c.Equiv(1), "dead-only child means node represents itself")
}

func TestEquivCacheRecomputeChainFoldsTransitively(t *testing.T) {
	c := NewEquivCache()
	// 1 -> 2 -> 3, only 3 is live (an IS_SUBVOL leaf); 1 and 2 are intermediate
	c.UpdateFromRow(1, SnapshotRow{Children: [2]uint32{2, 0}})
	c.UpdateFromRow(2, SnapshotRow{Parent: 1, Children: [2]uint32{3, 0}})
	c.UpdateFromRow(3, SnapshotRow{Parent: 2, Flags: FlagIsSubvol})

	c.RecomputeEquiv([]uint32{1, 2, 3})

	assert.Equal(t, uint32(3), c.Equiv(3))
	assert.Equal(t, uint32(3), c.Equiv(2))
	assert.Equal(t, uint32(3), c.Equiv(1))
}

func TestEquivCacheTouchReportsOutOfMemoryPastCap(t *testing.T) {
	c := newEquivCacheCapped(2)

	require.NoError(t, c.UpdateFromRow(1, SnapshotRow{}))
	require.NoError(t, c.UpdateFromRow(2, SnapshotRow{}))
	assert.Equal(t, 2, c.Len())

	// A third distinct id has no room left.
	assert.ErrorIs(t, c.UpdateFromRow(3, SnapshotRow{}), ErrOutOfMemory)
	assert.Equal(t, 2, c.Len())

	// Updating an id already tracked is never refused, even at the cap.
	assert.NoError(t, c.UpdateFromRow(1, SnapshotRow{Flags: FlagIsSubvol}))
}
