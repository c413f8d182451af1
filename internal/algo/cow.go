package algo

import (
	"snaptree/internal/base"
)

// borrowed holds a single key/value/child triple lifted from a sibling during rebalance.
type borrowed struct {
	Key   []byte
	Value []byte
	Child base.PageID
}

// ExtractLastFromSibling reads the last entry of a sibling without mutating it.
func ExtractLastFromSibling(sibling *base.Node) borrowed {
	lastIdx := int(sibling.NumKeys) - 1
	b := borrowed{Key: sibling.Keys[lastIdx]}
	if sibling.IsLeaf() {
		b.Value = sibling.Values[lastIdx]
	} else {
		b.Child = sibling.Children[len(sibling.Children)-1]
	}
	return b
}

// ExtractFirstFromSibling reads the first entry of a sibling without mutating it.
func ExtractFirstFromSibling(sibling *base.Node) borrowed {
	b := borrowed{Key: sibling.Keys[0]}
	if sibling.IsLeaf() {
		b.Value = sibling.Values[0]
	} else {
		b.Child = sibling.Children[0]
	}
	return b
}

// ApplyLeafUpdate updates a key's value in leaf node
// Assumes node is already writable (COW'd by caller)
func ApplyLeafUpdate(node *base.Node, pos int, newValue []byte) {
	node.Values[pos] = newValue
	node.Dirty = true
}

// ApplyLeafInsert inserts new key-value at position
// Assumes node is already writable and has space
func ApplyLeafInsert(node *base.Node, pos int, key, value []byte) {
	node.Keys = InsertAt(node.Keys, pos, key)
	node.Values = InsertAt(node.Values, pos, value)
	node.NumKeys++
	node.Dirty = true
}

// ApplyLeafDelete removes key at position
// Assumes node is already writable
func ApplyLeafDelete(node *base.Node, idx int) {
	node.Keys = RemoveAt(node.Keys, idx)
	node.Values = RemoveAt(node.Values, idx)
	node.NumKeys--
	node.Dirty = true
}

// ApplyBranchRemoveSeparator removes separator key and child after merge
// Removes the separator at sepIdx and the child at sepIdx+1
// Assumes node is already writable
func ApplyBranchRemoveSeparator(node *base.Node, sepIdx int) {
	node.Keys = RemoveAt(node.Keys, sepIdx)
	node.Children = RemoveChildAt(node.Children, sepIdx+1)
	node.NumKeys--
	node.Dirty = true
}

// BorrowFromLeft moves last element from left sibling to beginning of right node
// Updates parent separator key
// Assumes all nodes are already writable
func BorrowFromLeft(node, leftSibling, parent *base.Node, parentKeyIdx int) {
	b := ExtractLastFromSibling(leftSibling)
	lastIdx := int(leftSibling.NumKeys) - 1

	if node.IsLeaf() {
		node.Keys = InsertAt(node.Keys, 0, b.Key)
		node.Values = InsertAt(node.Values, 0, b.Value)
		node.NumKeys++

		leftSibling.Keys = RemoveAt(leftSibling.Keys, lastIdx)
		leftSibling.Values = RemoveAt(leftSibling.Values, lastIdx)
		leftSibling.NumKeys--

		parent.Keys[parentKeyIdx] = node.Keys[0]
	} else {
		node.Keys = InsertAt(node.Keys, 0, parent.Keys[parentKeyIdx])
		node.Children = append([]base.PageID{b.Child}, node.Children...)
		node.NumKeys++

		leftSibling.Keys = RemoveAt(leftSibling.Keys, lastIdx)
		leftSibling.Children = RemoveChildAt(leftSibling.Children, len(leftSibling.Children)-1)
		leftSibling.NumKeys--

		parent.Keys[parentKeyIdx] = b.Key
	}

	node.Dirty = true
	leftSibling.Dirty = true
	parent.Dirty = true
}

// BorrowFromRight moves first element from right sibling to end of left node
// Updates parent separator key
// Assumes all nodes are already writable
func BorrowFromRight(node, rightSibling, parent *base.Node, parentKeyIdx int) {
	b := ExtractFirstFromSibling(rightSibling)

	if node.IsLeaf() {
		node.Keys = append(node.Keys, b.Key)
		node.Values = append(node.Values, b.Value)
		node.NumKeys++

		rightSibling.Keys = RemoveAt(rightSibling.Keys, 0)
		rightSibling.Values = RemoveAt(rightSibling.Values, 0)
		rightSibling.NumKeys--

		parent.Keys[parentKeyIdx] = rightSibling.Keys[0]
	} else {
		node.Keys = append(node.Keys, parent.Keys[parentKeyIdx])
		node.Children = append(node.Children, b.Child)
		node.NumKeys++

		rightSibling.Keys = RemoveAt(rightSibling.Keys, 0)
		rightSibling.Children = RemoveChildAt(rightSibling.Children, 0)
		rightSibling.NumKeys--

		parent.Keys[parentKeyIdx] = b.Key
	}

	node.Dirty = true
	rightSibling.Dirty = true
	parent.Dirty = true
}

// MergeNodes combines right node into left node
// For branch nodes, includes separator key from parent
// Assumes left node is already writable
// Does NOT update parent - caller must call ApplyBranchRemoveSeparator
func MergeNodes(leftNode, rightNode *base.Node, separatorKey []byte) {
	if leftNode.IsLeaf() {
		leftNode.Keys = append(leftNode.Keys, rightNode.Keys...)
		leftNode.Values = append(leftNode.Values, rightNode.Values...)
	} else {
		leftNode.Keys = append(leftNode.Keys, separatorKey)
		leftNode.Keys = append(leftNode.Keys, rightNode.Keys...)
		leftNode.Children = append(leftNode.Children, rightNode.Children...)
	}

	leftNode.NumKeys = uint16(len(leftNode.Keys))
	leftNode.Dirty = true
}

// NewBranchRoot creates a new branch root node from two children after split
func NewBranchRoot(leftChild, rightChild *base.Node, midKey []byte, pageID base.PageID) *base.Node {
	return &base.Node{
		PageID:   pageID,
		Dirty:    true,
		Leaf:     false,
		NumKeys:  1,
		Keys:     [][]byte{midKey},
		Children: []base.PageID{leftChild.PageID, rightChild.PageID},
	}
}

// ApplyChildSplit updates parent after splitting child at childIdx
// Inserts separator key and updates children pointers
// Assumes parent is already writable (COW'd by caller)
func ApplyChildSplit(parent *base.Node, childIdx int, leftChild, rightChild *base.Node, midKey, midVal []byte) {
	parent.Keys = InsertAt(parent.Keys, childIdx, midKey)

	newChildren := make([]base.PageID, len(parent.Children)+1)
	copy(newChildren[:childIdx], parent.Children[:childIdx])
	newChildren[childIdx] = leftChild.PageID
	newChildren[childIdx+1] = rightChild.PageID
	copy(newChildren[childIdx+2:], parent.Children[childIdx+1:])

	parent.Children = newChildren
	parent.NumKeys++
	parent.Dirty = true
}

// TruncateLeft modifies node to keep only left portion after split
// Assumes node is already writable (COW'd by caller)
func TruncateLeft(node *base.Node, sp SplitPoint) {
	leftKeys := make([][]byte, sp.LeftCount)
	copy(leftKeys, node.Keys[:sp.LeftCount])
	node.Keys = leftKeys

	if node.IsLeaf() {
		leftVals := make([][]byte, sp.LeftCount)
		copy(leftVals, node.Values[:sp.LeftCount])
		node.Values = leftVals
	} else {
		leftChildren := make([]base.PageID, sp.Mid+1)
		copy(leftChildren, node.Children[:sp.Mid+1])
		node.Children = leftChildren
	}

	node.NumKeys = uint16(sp.LeftCount)
	node.Dirty = true
}
