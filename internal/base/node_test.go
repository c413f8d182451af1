package base

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNodeCloneDeepCopy verifies that Clone produces an independent copy
// safe for copy-on-write mutation without aliasing the source Node.
func TestNodeCloneDeepCopy(t *testing.T) {
	t.Run("leaf node clone isolation", func(t *testing.T) {
		original := &Node{
			PageID:  42,
			Dirty:   false,
			Leaf:    true,
			NumKeys: 2,
			Keys: [][]byte{
				[]byte("key1"),
				[]byte("key2"),
			},
			Values: [][]byte{
				[]byte("value1"),
				[]byte("value2"),
			},
		}

		cloned := original.Clone()

		assert.Equal(t, PageID(0), cloned.PageID, "clone should have zero PageID")
		assert.True(t, cloned.Dirty, "clone should be marked dirty")
		assert.Equal(t, original.NumKeys, cloned.NumKeys)

		// Deep copy: backing arrays differ even though contents match
		assert.NotSame(t, &original.Keys[0][0], &cloned.Keys[0][0])
		assert.Equal(t, original.Keys[0], cloned.Keys[0])

		// Mutating the clone's byte contents must not affect the original
		cloned.Keys[0][0] = 'X'
		cloned.Values[0][0] = 'X'
		assert.Equal(t, []byte("key1"), original.Keys[0], "original key should be unchanged")
		assert.Equal(t, []byte("value1"), original.Values[0], "original value should be unchanged")
	})

	t.Run("branch node clone isolation", func(t *testing.T) {
		original := &Node{
			PageID:   100,
			Dirty:    false,
			Leaf:     false,
			NumKeys:  2,
			Keys:     [][]byte{[]byte("sep1"), []byte("sep2")},
			Children: []PageID{10, 20, 30},
		}

		cloned := original.Clone()

		assert.Equal(t, PageID(0), cloned.PageID)
		assert.True(t, cloned.Dirty)
		assert.Equal(t, original.NumKeys, cloned.NumKeys)
		assert.Empty(t, cloned.Values)

		assert.Equal(t, original.Children, cloned.Children)
		cloned.Children[1] = PageID(999)
		assert.Equal(t, PageID(20), original.Children[1], "original child should be unchanged")
		assert.Equal(t, PageID(999), cloned.Children[1])

		cloned.Keys[0][0] = 'X'
		assert.Equal(t, []byte("sep1"), original.Keys[0], "original key should be unchanged")
	})
}

func TestNodeReset(t *testing.T) {
	n := &Node{
		PageID:   1,
		Dirty:    true,
		Leaf:     true,
		NumKeys:  1,
		Keys:     [][]byte{[]byte("k")},
		Values:   [][]byte{[]byte("v")},
		Children: []PageID{5},
	}
	n.Reset()

	assert.Equal(t, PageID(0), n.PageID)
	assert.False(t, n.Dirty)
	assert.False(t, n.Leaf)
	assert.Equal(t, uint16(0), n.NumKeys)
	assert.Empty(t, n.Keys)
	assert.Empty(t, n.Values)
	assert.Empty(t, n.Children)
}

func TestNodeIsUnderflow(t *testing.T) {
	n := &Node{NumKeys: uint16(MinKeysPerNode - 1)}
	assert.True(t, n.IsUnderflow())

	n.NumKeys = uint16(MinKeysPerNode)
	assert.False(t, n.IsUnderflow())
}
