package algo

import (
	"bytes"
	"sort"

	"snaptree/internal/base"
)

const searchThreshold = 32

// FindChildIndex returns the index of the child pointer to follow for key in a branch node.
func FindChildIndex(node *base.Node, key []byte) int {
	numKeys := int(node.NumKeys)
	if numKeys < searchThreshold {
		i := 0
		for i < numKeys && bytes.Compare(key, node.Keys[i]) >= 0 {
			i++
		}
		return i
	}

	return sort.Search(numKeys, func(i int) bool {
		return bytes.Compare(key, node.Keys[i]) < 0
	})
}

// FindKeyInLeaf returns the index of key in a leaf node, or -1 if not found.
func FindKeyInLeaf(node *base.Node, key []byte) int {
	numKeys := int(node.NumKeys)
	if numKeys < searchThreshold {
		for i := 0; i < numKeys; i++ {
			if bytes.Equal(key, node.Keys[i]) {
				return i
			}
		}
		return -1
	}

	idx := sort.Search(numKeys, func(i int) bool {
		return bytes.Compare(node.Keys[i], key) >= 0
	})
	if idx < numKeys && bytes.Equal(node.Keys[idx], key) {
		return idx
	}
	return -1
}

// FindInsertPosition returns the position at which key should be inserted into a leaf.
func FindInsertPosition(node *base.Node, key []byte) int {
	numKeys := int(node.NumKeys)
	if numKeys < searchThreshold {
		pos := 0
		for pos < numKeys && bytes.Compare(key, node.Keys[pos]) > 0 {
			pos++
		}
		return pos
	}

	return sort.Search(numKeys, func(i int) bool {
		return bytes.Compare(key, node.Keys[i]) <= 0
	})
}

// SplitHint guides how to bias the split point.
type SplitHint int

const (
	SplitBalanced  SplitHint = iota // Default: 50/50
	SplitLeftBias                   // Left keeps ~10%, right ~90% (descending inserts)
	SplitRightBias                  // Left keeps ~90%, right ~10% (ascending inserts)
)

// SplitPoint contains split calculation results.
type SplitPoint struct {
	Mid          int
	LeftCount    int
	RightCount   int
	SeparatorKey []byte
}

// CalculateSplitPointWithHint determines the split position with an adaptive strategy.
func CalculateSplitPointWithHint(node *base.Node, insertKey []byte, hint SplitHint) SplitPoint {
	keys := node.Keys
	isLeaf := node.IsLeaf()

	if len(keys) <= 1 {
		if len(keys) == 0 {
			panic("cannot split empty node")
		}

		existingKey := keys[0]
		if insertKey != nil && bytes.Compare(insertKey, existingKey) < 0 {
			sep := make([]byte, len(existingKey))
			copy(sep, existingKey)
			return SplitPoint{Mid: -1, LeftCount: 0, RightCount: 1, SeparatorKey: sep}
		}

		sep := make([]byte, len(insertKey))
		copy(sep, insertKey)
		return SplitPoint{Mid: 0, LeftCount: 1, RightCount: 0, SeparatorKey: sep}
	}

	if hint == SplitBalanced && insertKey != nil {
		if bytes.Compare(insertKey, keys[len(keys)-1]) > 0 {
			hint = SplitRightBias
		} else if bytes.Compare(insertKey, keys[0]) < 0 {
			hint = SplitLeftBias
		}
	}

	var mid int
	switch hint {
	case SplitRightBias:
		mid = int(float64(len(keys)) * 0.9)
		if mid >= len(keys)-1 {
			mid = len(keys) - 2
		}
	case SplitLeftBias:
		mid = int(float64(len(keys)) * 0.1)
		minMid := 0
		if !isLeaf && mid < 1 {
			minMid = 1
		}
		if mid < minMid {
			mid = minMid
		}
	default:
		mid = len(keys)/2 - 1
		if mid < 0 {
			mid = 0
		}
	}

	if isLeaf && mid+1 >= len(keys) {
		mid = len(keys) - 2
		if mid < 0 {
			mid = 0
		}
	}

	var sep []byte
	var leftCnt, rightCnt int

	if isLeaf {
		sep = make([]byte, len(keys[mid+1]))
		copy(sep, keys[mid+1])
		leftCnt = mid + 1
		rightCnt = len(keys) - mid - 1
	} else {
		sep = make([]byte, len(keys[mid]))
		copy(sep, keys[mid])
		leftCnt = mid
		rightCnt = len(keys) - mid - 1
	}

	return SplitPoint{Mid: mid, LeftCount: leftCnt, RightCount: rightCnt, SeparatorKey: sep}
}

// ExtractRightPortion copies the right portion of node's data (read-only on input).
func ExtractRightPortion(node *base.Node, sp SplitPoint) (keys [][]byte, vals [][]byte, children []base.PageID) {
	startIdx := sp.Mid + 1
	if sp.Mid == -1 {
		startIdx = 0
	}

	for i := startIdx; i < len(node.Keys); i++ {
		keyCopy := make([]byte, len(node.Keys[i]))
		copy(keyCopy, node.Keys[i])
		keys = append(keys, keyCopy)
	}

	if node.IsLeaf() {
		for i := startIdx; i < len(node.Values); i++ {
			valCopy := make([]byte, len(node.Values[i]))
			copy(valCopy, node.Values[i])
			vals = append(vals, valCopy)
		}
	} else {
		for i := startIdx; i < len(node.Children); i++ {
			children = append(children, node.Children[i])
		}
	}

	return keys, vals, children
}

// InsertAt inserts value at index in slice with a deep copy.
func InsertAt(slice [][]byte, index int, value []byte) [][]byte {
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	return append(slice[:index], append([][]byte{valueCopy}, slice[index:]...)...)
}

// RemoveAt removes the element at index from slice.
func RemoveAt(slice [][]byte, index int) [][]byte {
	return append(slice[:index], slice[index+1:]...)
}

// RemoveChildAt removes the child at index from slice.
func RemoveChildAt(slice []base.PageID, index int) []base.PageID {
	return append(slice[:index], slice[index+1:]...)
}
