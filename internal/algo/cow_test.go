package algo

import (
	"bytes"
	"testing"

	"snaptree/internal/base"
)

func equalByteSlices(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func newLeafNode(keys, values [][]byte) *base.Node {
	return &base.Node{
		PageID:  1,
		Dirty:   false,
		Leaf:    true,
		NumKeys: uint16(len(keys)),
		Keys:    keys,
		Values:  values,
	}
}

func newBranchNode(keys [][]byte, children []base.PageID) *base.Node {
	return &base.Node{
		PageID:   1,
		Leaf:     false,
		NumKeys:  uint16(len(keys)),
		Keys:     keys,
		Children: children,
		Dirty:    false,
	}
}

func TestApplyLeafUpdate_BasicUpdate(t *testing.T) {
	node := newLeafNode(
		[][]byte{[]byte("apple"), []byte("banana"), []byte("cherry")},
		[][]byte{[]byte("v1"), []byte("v2"), []byte("v3")},
	)

	ApplyLeafUpdate(node, 1, []byte("v2-updated"))

	if !bytes.Equal(node.Values[1], []byte("v2-updated")) {
		t.Errorf("Values[1] = %s, want v2-updated", node.Values[1])
	}
	if !node.Dirty {
		t.Error("Dirty = false, want true")
	}
	if node.NumKeys != 3 {
		t.Errorf("NumKeys = %d, want 3", node.NumKeys)
	}
}

func TestApplyLeafInsert_Middle(t *testing.T) {
	node := newLeafNode(
		[][]byte{[]byte("a"), []byte("c")},
		[][]byte{[]byte("v1"), []byte("v3")},
	)

	ApplyLeafInsert(node, 1, []byte("b"), []byte("v2"))

	expectedKeys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	expectedValues := [][]byte{[]byte("v1"), []byte("v2"), []byte("v3")}
	if !equalByteSlices(node.Keys, expectedKeys) {
		t.Errorf("Keys = %v, want %v", node.Keys, expectedKeys)
	}
	if !equalByteSlices(node.Values, expectedValues) {
		t.Errorf("Values = %v, want %v", node.Values, expectedValues)
	}
	if node.NumKeys != 3 {
		t.Errorf("NumKeys = %d, want 3", node.NumKeys)
	}
}

func TestApplyLeafInsert_EmptyNode(t *testing.T) {
	node := newLeafNode([][]byte{}, [][]byte{})

	ApplyLeafInsert(node, 0, []byte("first"), []byte("value1"))

	if !equalByteSlices(node.Keys, [][]byte{[]byte("first")}) {
		t.Errorf("Keys = %v, want [first]", node.Keys)
	}
	if node.NumKeys != 1 {
		t.Errorf("NumKeys = %d, want 1", node.NumKeys)
	}
}

func TestApplyLeafDelete_Middle(t *testing.T) {
	node := newLeafNode(
		[][]byte{[]byte("a"), []byte("b"), []byte("c")},
		[][]byte{[]byte("v1"), []byte("v2"), []byte("v3")},
	)

	ApplyLeafDelete(node, 1)

	if !equalByteSlices(node.Keys, [][]byte{[]byte("a"), []byte("c")}) {
		t.Errorf("Keys = %v, want [a c]", node.Keys)
	}
	if node.NumKeys != 2 {
		t.Errorf("NumKeys = %d, want 2", node.NumKeys)
	}
}

func TestApplyLeafDelete_OnlyElement(t *testing.T) {
	node := newLeafNode([][]byte{[]byte("a")}, [][]byte{[]byte("v1")})

	ApplyLeafDelete(node, 0)

	if node.NumKeys != 0 {
		t.Errorf("NumKeys = %d, want 0", node.NumKeys)
	}
	if len(node.Keys) != 0 {
		t.Errorf("Keys = %v, want empty", node.Keys)
	}
}

func TestApplyBranchRemoveSeparator_Middle(t *testing.T) {
	node := newBranchNode(
		[][]byte{[]byte("k1"), []byte("k2"), []byte("k3")},
		[]base.PageID{1, 2, 3, 4},
	)

	ApplyBranchRemoveSeparator(node, 1)

	if !equalByteSlices(node.Keys, [][]byte{[]byte("k1"), []byte("k3")}) {
		t.Errorf("Keys = %v, want [k1 k3]", node.Keys)
	}
	expectedChildren := []base.PageID{1, 2, 4}
	if len(node.Children) != len(expectedChildren) {
		t.Fatalf("Children length = %d, want %d", len(node.Children), len(expectedChildren))
	}
	for i := range expectedChildren {
		if node.Children[i] != expectedChildren[i] {
			t.Errorf("Children[%d] = %d, want %d", i, node.Children[i], expectedChildren[i])
		}
	}
	if node.NumKeys != 2 {
		t.Errorf("NumKeys = %d, want 2", node.NumKeys)
	}
}

func TestBorrowFromLeft_LeafNodes(t *testing.T) {
	leftSibling := newLeafNode(
		[][]byte{[]byte("a"), []byte("b"), []byte("c")},
		[][]byte{[]byte("v1"), []byte("v2"), []byte("v3")},
	)
	node := newLeafNode(
		[][]byte{[]byte("e"), []byte("f")},
		[][]byte{[]byte("v5"), []byte("v6")},
	)
	parent := newBranchNode([][]byte{[]byte("e")}, []base.PageID{1, 2})

	BorrowFromLeft(node, leftSibling, parent, 0)

	if !equalByteSlices(node.Keys, [][]byte{[]byte("c"), []byte("e"), []byte("f")}) {
		t.Errorf("node.Keys = %v", node.Keys)
	}
	if !equalByteSlices(leftSibling.Keys, [][]byte{[]byte("a"), []byte("b")}) {
		t.Errorf("leftSibling.Keys = %v", leftSibling.Keys)
	}
	if !bytes.Equal(parent.Keys[0], []byte("c")) {
		t.Errorf("parent.Keys[0] = %s, want c", parent.Keys[0])
	}
	if !node.Dirty || !leftSibling.Dirty || !parent.Dirty {
		t.Error("all dirty flags should be true")
	}
}

func TestBorrowFromLeft_BranchNodes(t *testing.T) {
	leftSibling := newBranchNode(
		[][]byte{[]byte("k1"), []byte("k2"), []byte("k3")},
		[]base.PageID{1, 2, 3, 4},
	)
	node := newBranchNode(
		[][]byte{[]byte("k6"), []byte("k7")},
		[]base.PageID{10, 11, 12},
	)
	parent := newBranchNode([][]byte{[]byte("k5")}, []base.PageID{1, 2})

	BorrowFromLeft(node, leftSibling, parent, 0)

	if !equalByteSlices(node.Keys, [][]byte{[]byte("k5"), []byte("k6"), []byte("k7")}) {
		t.Errorf("node.Keys = %v", node.Keys)
	}
	expectedChildren := []base.PageID{4, 10, 11, 12}
	if len(node.Children) != len(expectedChildren) {
		t.Fatalf("len(node.Children) = %d, want %d", len(node.Children), len(expectedChildren))
	}
	for i := range expectedChildren {
		if node.Children[i] != expectedChildren[i] {
			t.Errorf("Children[%d] = %d, want %d", i, node.Children[i], expectedChildren[i])
		}
	}
	if !bytes.Equal(parent.Keys[0], []byte("k3")) {
		t.Errorf("parent.Keys[0] = %s, want k3", parent.Keys[0])
	}
}

func TestBorrowFromRight_LeafNodes(t *testing.T) {
	node := newLeafNode([][]byte{[]byte("a"), []byte("b")}, [][]byte{[]byte("v1"), []byte("v2")})
	rightSibling := newLeafNode(
		[][]byte{[]byte("e"), []byte("f"), []byte("g")},
		[][]byte{[]byte("v5"), []byte("v6"), []byte("v7")},
	)
	parent := newBranchNode([][]byte{[]byte("e")}, []base.PageID{1, 2})

	BorrowFromRight(node, rightSibling, parent, 0)

	if !equalByteSlices(node.Keys, [][]byte{[]byte("a"), []byte("b"), []byte("e")}) {
		t.Errorf("node.Keys = %v", node.Keys)
	}
	if !equalByteSlices(rightSibling.Keys, [][]byte{[]byte("f"), []byte("g")}) {
		t.Errorf("rightSibling.Keys = %v", rightSibling.Keys)
	}
	if !bytes.Equal(parent.Keys[0], []byte("f")) {
		t.Errorf("parent.Keys[0] = %s, want f", parent.Keys[0])
	}
}

func TestBorrowFromRight_BranchNodes(t *testing.T) {
	node := newBranchNode([][]byte{[]byte("k1"), []byte("k2")}, []base.PageID{1, 2, 3})
	rightSibling := newBranchNode(
		[][]byte{[]byte("k6"), []byte("k7"), []byte("k8")},
		[]base.PageID{10, 11, 12, 13},
	)
	parent := newBranchNode([][]byte{[]byte("k5")}, []base.PageID{100, 101})

	BorrowFromRight(node, rightSibling, parent, 0)

	expectedChildren := []base.PageID{1, 2, 3, 10}
	if len(node.Children) != len(expectedChildren) {
		t.Fatalf("len(node.Children) = %d, want %d", len(node.Children), len(expectedChildren))
	}
	for i := range expectedChildren {
		if node.Children[i] != expectedChildren[i] {
			t.Errorf("Children[%d] = %d, want %d", i, node.Children[i], expectedChildren[i])
		}
	}
	if !bytes.Equal(parent.Keys[0], []byte("k6")) {
		t.Errorf("parent.Keys[0] = %s, want k6", parent.Keys[0])
	}
}

func TestMergeNodes_LeafNodes(t *testing.T) {
	left := newLeafNode([][]byte{[]byte("a"), []byte("b")}, [][]byte{[]byte("v1"), []byte("v2")})
	right := newLeafNode([][]byte{[]byte("d"), []byte("e")}, [][]byte{[]byte("v4"), []byte("v5")})

	MergeNodes(left, right, []byte("c"))

	expectedKeys := [][]byte{[]byte("a"), []byte("b"), []byte("d"), []byte("e")}
	if !equalByteSlices(left.Keys, expectedKeys) {
		t.Errorf("left.Keys = %v, want %v", left.Keys, expectedKeys)
	}
	if left.NumKeys != 4 {
		t.Errorf("left.NumKeys = %d, want 4", left.NumKeys)
	}
	if !left.Dirty {
		t.Error("left.Dirty = false, want true")
	}
}

func TestMergeNodes_BranchNodes(t *testing.T) {
	left := newBranchNode([][]byte{[]byte("k1"), []byte("k2")}, []base.PageID{1, 2, 3})
	right := newBranchNode([][]byte{[]byte("k5"), []byte("k6")}, []base.PageID{10, 11, 12})

	MergeNodes(left, right, []byte("k4"))

	expectedKeys := [][]byte{[]byte("k1"), []byte("k2"), []byte("k4"), []byte("k5"), []byte("k6")}
	if !equalByteSlices(left.Keys, expectedKeys) {
		t.Errorf("left.Keys = %v, want %v", left.Keys, expectedKeys)
	}
	expectedChildren := []base.PageID{1, 2, 3, 10, 11, 12}
	if len(left.Children) != len(expectedChildren) {
		t.Fatalf("len(left.Children) = %d, want %d", len(left.Children), len(expectedChildren))
	}
	if left.NumKeys != 5 {
		t.Errorf("left.NumKeys = %d, want 5", left.NumKeys)
	}
}

func TestNewBranchRoot(t *testing.T) {
	leftChild := &base.Node{PageID: 10}
	rightChild := &base.Node{PageID: 20}

	root := NewBranchRoot(leftChild, rightChild, []byte("m"), 100)

	if root.PageID != 100 {
		t.Errorf("PageID = %d, want 100", root.PageID)
	}
	if root.IsLeaf() {
		t.Error("IsLeaf = true, want false")
	}
	if root.NumKeys != 1 {
		t.Errorf("NumKeys = %d, want 1", root.NumKeys)
	}
	if !bytes.Equal(root.Keys[0], []byte("m")) {
		t.Errorf("Keys[0] = %s, want m", root.Keys[0])
	}
	if root.Children[0] != 10 || root.Children[1] != 20 {
		t.Errorf("Children = %v, want [10 20]", root.Children)
	}
}

func TestApplyChildSplit_Middle(t *testing.T) {
	parent := newBranchNode([][]byte{[]byte("k1"), []byte("k3")}, []base.PageID{1, 2, 3})
	leftChild := &base.Node{PageID: 10}
	rightChild := &base.Node{PageID: 11}

	ApplyChildSplit(parent, 1, leftChild, rightChild, []byte("k2"), nil)

	expectedKeys := [][]byte{[]byte("k1"), []byte("k2"), []byte("k3")}
	if !equalByteSlices(parent.Keys, expectedKeys) {
		t.Errorf("Keys = %v, want %v", parent.Keys, expectedKeys)
	}
	expectedChildren := []base.PageID{1, 10, 11, 3}
	if len(parent.Children) != len(expectedChildren) {
		t.Fatalf("Children length = %d, want %d", len(parent.Children), len(expectedChildren))
	}
	for i, c := range expectedChildren {
		if parent.Children[i] != c {
			t.Errorf("Children[%d] = %d, want %d", i, parent.Children[i], c)
		}
	}
	if parent.NumKeys != 3 {
		t.Errorf("NumKeys = %d, want 3", parent.NumKeys)
	}
	if !parent.Dirty {
		t.Error("Dirty = false, want true")
	}
}

func TestApplyChildSplit_Beginning(t *testing.T) {
	parent := newBranchNode([][]byte{[]byte("k2")}, []base.PageID{1, 2})
	leftChild := &base.Node{PageID: 10}
	rightChild := &base.Node{PageID: 11}

	ApplyChildSplit(parent, 0, leftChild, rightChild, []byte("k1"), nil)

	expectedChildren := []base.PageID{10, 11, 2}
	if len(parent.Children) != len(expectedChildren) {
		t.Fatalf("Children length = %d, want %d", len(parent.Children), len(expectedChildren))
	}
	for i, c := range expectedChildren {
		if parent.Children[i] != c {
			t.Errorf("Children[%d] = %d, want %d", i, parent.Children[i], c)
		}
	}
}

func TestApplyChildSplit_End(t *testing.T) {
	parent := newBranchNode([][]byte{[]byte("k1"), []byte("k2")}, []base.PageID{1, 2, 3})
	leftChild := &base.Node{PageID: 10}
	rightChild := &base.Node{PageID: 11}

	ApplyChildSplit(parent, 2, leftChild, rightChild, []byte("k3"), nil)

	expectedChildren := []base.PageID{1, 2, 10, 11}
	if len(parent.Children) != len(expectedChildren) {
		t.Fatalf("Children length = %d, want %d", len(parent.Children), len(expectedChildren))
	}
	for i, c := range expectedChildren {
		if parent.Children[i] != c {
			t.Errorf("Children[%d] = %d, want %d", i, parent.Children[i], c)
		}
	}
}

func TestTruncateLeft_LeafNode(t *testing.T) {
	node := newLeafNode(
		[][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e")},
		[][]byte{[]byte("v1"), []byte("v2"), []byte("v3"), []byte("v4"), []byte("v5")},
	)

	sp := SplitPoint{Mid: 2, LeftCount: 2, RightCount: 3, SeparatorKey: []byte("c")}
	TruncateLeft(node, sp)

	expectedKeys := [][]byte{[]byte("a"), []byte("b")}
	if !equalByteSlices(node.Keys, expectedKeys) {
		t.Errorf("Keys = %v, want %v", node.Keys, expectedKeys)
	}
	expectedValues := [][]byte{[]byte("v1"), []byte("v2")}
	if !equalByteSlices(node.Values, expectedValues) {
		t.Errorf("Values = %v, want %v", node.Values, expectedValues)
	}
	if node.NumKeys != 2 {
		t.Errorf("NumKeys = %d, want 2", node.NumKeys)
	}
	if !node.Dirty {
		t.Error("Dirty = false, want true")
	}
}

func TestTruncateLeft_BranchNode(t *testing.T) {
	node := newBranchNode(
		[][]byte{[]byte("k1"), []byte("k2"), []byte("k3"), []byte("k4")},
		[]base.PageID{1, 2, 3, 4, 5},
	)

	sp := SplitPoint{Mid: 1, LeftCount: 1, RightCount: 3, SeparatorKey: []byte("k2")}
	TruncateLeft(node, sp)

	expectedKeys := [][]byte{[]byte("k1")}
	if !equalByteSlices(node.Keys, expectedKeys) {
		t.Errorf("Keys = %v, want %v", node.Keys, expectedKeys)
	}
	expectedChildren := []base.PageID{1, 2}
	if len(node.Children) != len(expectedChildren) {
		t.Fatalf("Children length = %d, want %d", len(node.Children), len(expectedChildren))
	}
	for i, c := range expectedChildren {
		if node.Children[i] != c {
			t.Errorf("Children[%d] = %d, want %d", i, node.Children[i], c)
		}
	}
	if node.NumKeys != 1 {
		t.Errorf("NumKeys = %d, want 1", node.NumKeys)
	}
	if !node.Dirty {
		t.Error("Dirty = false, want true")
	}
	if len(node.Children) != len(node.Keys)+1 {
		t.Errorf("len(Children) = %d, want len(Keys)+1 = %d", len(node.Children), len(node.Keys)+1)
	}
}

func TestExtractLastFromSibling_Leaf(t *testing.T) {
	sibling := newLeafNode([][]byte{[]byte("a"), []byte("b")}, [][]byte{[]byte("v1"), []byte("v2")})

	b := ExtractLastFromSibling(sibling)

	if !bytes.Equal(b.Key, []byte("b")) {
		t.Errorf("Key = %s, want b", b.Key)
	}
	if !bytes.Equal(b.Value, []byte("v2")) {
		t.Errorf("Value = %s, want v2", b.Value)
	}
}

func TestExtractFirstFromSibling_Branch(t *testing.T) {
	sibling := newBranchNode([][]byte{[]byte("k1"), []byte("k2")}, []base.PageID{1, 2, 3})

	b := ExtractFirstFromSibling(sibling)

	if !bytes.Equal(b.Key, []byte("k1")) {
		t.Errorf("Key = %s, want k1", b.Key)
	}
	if b.Child != 1 {
		t.Errorf("Child = %d, want 1", b.Child)
	}
}
