package snaptree

import (
	"bytes"
	"errors"

	"github.com/google/btree"

	"snaptree/internal/algo"
	"snaptree/internal/base"
)

// Tx represents a transaction on the database.
//
// CONCURRENCY: Transactions are NOT thread-safe and must only be used by a single
// goroutine at a time. Calling Put/Get/Delete/Commit/Rollback concurrently from
// multiple goroutines will cause panics and data corruption.
//
// Transactions provide a consistent view of the database at the point they were created.
// Read transactions can run concurrently, but only one write transaction can be active at a time.
type Tx struct {
	txID     uint64 // Writers: unique ID, Readers: snapshot of last committed write
	writable bool   // Is this a read-write transaction?
	done     bool   // Has Commit() or Rollback() been called?

	db   *DB        // Database this transaction belongs to
	root *base.Node // Root of the bucket-directory tree at transaction start

	// Bucket tracking
	buckets  map[string]*Bucket       // Cache of loaded buckets
	acquired map[base.PageID]struct{} // Buckets acquired from pager (need release)
	deletes  map[string]base.PageID   // Root pages of buckets deleted in this transaction

	// Page tracking
	pages     map[base.PageID]*base.Node // TX-LOCAL: uncommitted COW pages (write transactions only)
	freed     map[base.PageID]struct{}   // Pages freed in this transaction (for freelist)
	allocated map[base.PageID]struct{}   // Pages allocated in this transaction

	// Reader tracking
	unregister func() // Slot unregister function (read-only transactions only)
}

// Get retrieves the value for a key from the default bucket.
// Returns ErrKeyNotFound if the key does not exist.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}

	bucket := tx.Bucket([]byte("__root__"))
	if bucket == nil {
		return nil, ErrKeyNotFound
	}

	val := bucket.Get(key)
	if val == nil {
		return nil, ErrKeyNotFound
	}

	return val, nil
}

// search recursively searches for a key starting at node.
func (tx *Tx) search(node *base.Node, key []byte) ([]byte, error) {
	if node == nil {
		return nil, ErrKeyNotFound
	}

	if node.IsLeaf() {
		idx := algo.FindKeyInLeaf(node, key)
		if idx < 0 {
			return nil, ErrKeyNotFound
		}
		return node.Values[idx], nil
	}

	i := algo.FindChildIndex(node, key)
	child, err := tx.loadNode(node.Children[i])
	if err != nil {
		return nil, err
	}

	return tx.search(child, key)
}

// Set writes a key-value pair to the default bucket, creating it if necessary.
// Returns ErrTxNotWritable if called on a read-only transaction.
// Returns ErrKeyTooLarge if key exceeds MaxKeySize.
// Returns ErrValueTooLarge if value exceeds MaxValueSize.
func (tx *Tx) Set(key, value []byte) error {
	if err := tx.check(); err != nil {
		return err
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	if len(value) > MaxValueSize {
		return ErrValueTooLarge
	}

	bucket, err := tx.rootBucket()
	if err != nil {
		return err
	}
	return bucket.Put(key, value)
}

// Put is an alias for Set, matching the Bucket API.
func (tx *Tx) Put(key, value []byte) error {
	return tx.Set(key, value)
}

// Delete removes a key from the default bucket.
// Returns ErrTxNotWritable if called on a read-only transaction.
// Idempotent: returns nil if key doesn't exist.
func (tx *Tx) Delete(key []byte) error {
	if err := tx.check(); err != nil {
		return err
	}
	if !tx.writable {
		return ErrTxNotWritable
	}

	bucket := tx.Bucket([]byte("__root__"))
	if bucket == nil {
		return nil
	}
	return bucket.Delete(key)
}

// Cursor creates a cursor for the default bucket.
func (tx *Tx) Cursor() *Cursor {
	bucket := tx.Bucket([]byte("__root__"))
	if bucket == nil {
		return &Cursor{tx: tx, valid: false}
	}
	return bucket.Cursor()
}

// rootBucket returns the __root__ bucket, creating it if it doesn't exist yet.
func (tx *Tx) rootBucket() (*Bucket, error) {
	if b := tx.Bucket([]byte("__root__")); b != nil {
		return b, nil
	}
	return tx.createBucket([]byte("__root__"))
}

// Bucket returns an existing bucket or nil.
func (tx *Tx) Bucket(name []byte) *Bucket {
	if err := tx.check(); err != nil {
		return nil
	}

	if _, deleted := tx.deletes[string(name)]; deleted {
		return nil
	}

	if b, exists := tx.buckets[string(name)]; exists {
		return b
	}

	if tx.root == nil {
		return nil
	}

	meta, err := tx.search(tx.root, name)
	if err != nil || len(meta) < 16 {
		return nil
	}

	bucket := &Bucket{}
	bucket.Deserialize(meta)
	bucket.tx = tx
	bucket.writable = tx.writable
	bucket.name = name
	bucket.root, err = tx.loadNode(bucket.rootID)
	if err != nil {
		return nil
	}

	// Acquire a lifecycle reference so a concurrent DeleteBucket can't reclaim
	// this bucket's pages while we're reading it. __root__ is never deleted.
	if string(name) != "__root__" {
		if !tx.db.pager.AcquireBucket(bucket.rootID) {
			return nil
		}
		tx.acquired[bucket.rootID] = struct{}{}
	}

	tx.buckets[string(name)] = bucket
	return bucket
}

// CreateBucket creates a new, empty bucket.
func (tx *Tx) CreateBucket(name []byte) (*Bucket, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	if !tx.writable {
		return nil, ErrTxNotWritable
	}
	if string(name) == "__root__" {
		return nil, errors.New("cannot create reserved bucket __root__")
	}
	return tx.createBucket(name)
}

// createBucket creates name without the reserved-name check, used internally
// to lazily materialize the __root__ bucket.
func (tx *Tx) createBucket(name []byte) (*Bucket, error) {
	if len(name) == 0 {
		return nil, ErrKeyEmpty
	}
	if _, deleted := tx.deletes[string(name)]; deleted {
		return nil, errors.New("cannot recreate bucket deleted in same transaction")
	}
	if tx.Bucket(name) != nil {
		return nil, ErrBucketExists
	}

	rootID := tx.allocatePage()
	root := &base.Node{
		PageID:  rootID,
		Dirty:   true,
		Leaf:    true,
		NumKeys: 0,
	}
	tx.pages[rootID] = root

	bucket := &Bucket{
		tx:       tx,
		rootID:   rootID,
		root:     root,
		name:     name,
		sequence: 0,
		writable: true,
	}

	tx.buckets[string(name)] = bucket
	return bucket, nil
}

// CreateBucketIfNotExists returns the bucket if it exists, or creates it.
func (tx *Tx) CreateBucketIfNotExists(name []byte) (*Bucket, error) {
	if b := tx.Bucket(name); b != nil {
		return b, nil
	}
	return tx.CreateBucket(name)
}

// DeleteBucket removes a bucket and marks its pages for background cleanup.
func (tx *Tx) DeleteBucket(name []byte) error {
	if err := tx.check(); err != nil {
		return err
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	if len(name) == 0 {
		return ErrKeyEmpty
	}
	if string(name) == "__root__" {
		return errors.New("cannot delete reserved bucket __root__")
	}
	if _, deleted := tx.deletes[string(name)]; deleted {
		return ErrBucketNotFound
	}

	meta, err := tx.search(tx.root, name)
	if err != nil || len(meta) < 16 {
		return ErrBucketNotFound
	}

	var bucket Bucket
	bucket.Deserialize(meta)

	root, err := tx.deleteFromNode(tx.root, name)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return err
	}
	if root != nil {
		tx.root = root
	}

	// Shrink the directory tree if it collapsed to a single child.
	if !tx.root.IsLeaf() && tx.root.NumKeys == 0 && len(tx.root.Children) == 1 {
		child, err := tx.loadNode(tx.root.Children[0])
		if err != nil {
			return err
		}
		tx.root = child
	}

	delete(tx.buckets, string(name))
	tx.deletes[string(name)] = bucket.rootID

	return nil
}

// ForEachBucket iterates over all buckets in the directory tree.
func (tx *Tx) ForEachBucket(fn func(name []byte, b *Bucket) error) error {
	if err := tx.check(); err != nil {
		return err
	}

	c := &Cursor{tx: tx, bucketRoot: tx.root, valid: false}

	for k, v := c.First(); k != nil; k, v = c.Next() {
		if string(k) == "__root__" {
			continue
		}
		if len(v) < 16 {
			continue
		}

		var bucket Bucket
		bucket.Deserialize(v)
		bucket.tx = tx
		bucket.writable = tx.writable
		bucket.name = k
		root, err := tx.loadNode(bucket.rootID)
		if err != nil {
			continue
		}
		bucket.root = root

		if err := fn(k, &bucket); err != nil {
			return err
		}
	}

	return nil
}

// ForEach iterates over all key-value pairs in the default bucket.
func (tx *Tx) ForEach(fn func(key, value []byte) error) error {
	if err := tx.check(); err != nil {
		return err
	}
	bucket := tx.Bucket([]byte("__root__"))
	if bucket == nil {
		return nil
	}
	return bucket.ForEach(fn)
}

// ForEachPrefix iterates over all key-value pairs in the default bucket
// whose key starts with prefix.
func (tx *Tx) ForEachPrefix(prefix []byte, fn func(key, value []byte) error) error {
	if err := tx.check(); err != nil {
		return err
	}
	bucket := tx.Bucket([]byte("__root__"))
	if bucket == nil {
		return nil
	}
	return bucket.ForEachPrefix(prefix, fn)
}

// Commit writes all changes and makes them visible to future transactions.
func (tx *Tx) Commit() error {
	if err := tx.check(); err != nil {
		return err
	}
	if !tx.writable {
		return ErrTxNotWritable
	}

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()

	for name, bucket := range tx.buckets {
		if !bucket.writable {
			continue
		}

		key := []byte(name)
		value := bucket.Serialize()

		if err := tx.putDirectoryEntry(key, value); err != nil {
			return err
		}
	}

	less := func(a, b *base.Node) bool { return a.PageID < b.PageID }
	commitTree := btree.NewG[*base.Node](32, less)
	for _, node := range tx.pages {
		commitTree.ReplaceOrInsert(node)
	}

	if err := tx.db.pager.Commit(commitTree, tx.root, tx.freed, tx.txID); err != nil {
		return err
	}

	tx.done = true

	tx.db.pager.DeletedMu.Lock()
	for _, pageID := range tx.deletes {
		tx.db.pager.Deleted[pageID] = struct{}{}
	}
	tx.db.pager.DeletedMu.Unlock()

	tx.db.writer.Store(nil)

	tx.tryReleasePages()
	for pageID := range tx.acquired {
		tx.db.pager.ReleaseBucket(pageID, tx.freeTree)
	}

	return nil
}

// putDirectoryEntry inserts or updates a bucket-directory entry, growing the
// directory tree (tx.root) with COW splits as needed.
func (tx *Tx) putDirectoryEntry(key, value []byte) error {
	maxKeySize := base.PageSize - base.PageHeaderSize - base.LeafElementSize
	if len(key) > maxKeySize {
		return ErrPageOverflow
	}

	if tx.root.IsFull(key, value) {
		leftChild, rightChild, midKey, _, err := tx.splitChild(tx.root, key)
		if err != nil {
			return err
		}
		newRootID := tx.allocatePage()
		tx.root = algo.NewBranchRoot(leftChild, rightChild, midKey, newRootID)
		tx.pages[newRootID] = tx.root
	}

	for {
		newRoot, err := tx.insertNonFull(tx.root, key, value)
		if !errors.Is(err, ErrPageOverflow) {
			if err == nil {
				tx.root = newRoot
			}
			return err
		}

		leftChild, rightChild, midKey, _, err := tx.splitChild(tx.root, key)
		if err != nil {
			return err
		}
		newRootID := tx.allocatePage()
		tx.root = algo.NewBranchRoot(leftChild, rightChild, midKey, newRootID)
		tx.pages[newRootID] = tx.root
	}
}

// Rollback discards all changes made in the transaction.
// Safe to call after Commit() (becomes a no-op) and safe to call multiple times.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true

	for pageID := range tx.acquired {
		tx.db.pager.ReleaseBucket(pageID, tx.freeTree)
	}

	if tx.writable {
		tx.db.mu.Lock()
		defer tx.db.mu.Unlock()

		tx.db.writer.Store(nil)
		tx.tryReleasePages()

		for pageID := range tx.allocated {
			tx.db.pager.Free(pageID)
		}
	} else if tx.unregister != nil {
		tx.unregister()
	}

	return nil
}

// check verifies the transaction is still active.
func (tx *Tx) check() error {
	if tx.done {
		return ErrTxDone
	}
	return nil
}

// ensureWritable performs COW on node if it doesn't already belong to this
// transaction, returning a node safe to mutate in place.
func (tx *Tx) ensureWritable(node *base.Node) (*base.Node, error) {
	if cloned, exists := tx.pages[node.PageID]; exists {
		return cloned, nil
	}

	cloned := node.Clone()
	newID := tx.allocatePage()
	cloned.PageID = newID

	tx.addFreed(node.PageID)
	tx.pages[newID] = cloned

	return cloned, nil
}

// allocatePage allocates a new page for this transaction.
func (tx *Tx) allocatePage() base.PageID {
	id := tx.db.pager.Allocate(1)
	tx.allocated[id] = struct{}{}
	return id
}

// addFreed records a page as freed by this transaction, to be handed to the
// freelist once no reader can still see it.
func (tx *Tx) addFreed(pageID base.PageID) {
	if pageID == 0 {
		return
	}
	tx.freed[pageID] = struct{}{}
}

// splitChild performs COW on child and allocates a new right sibling,
// returning (leftChild, rightChild, separatorKey, separatorValue, error).
func (tx *Tx) splitChild(child *base.Node, insertKey []byte) (*base.Node, *base.Node, []byte, []byte, error) {
	child, err := tx.ensureWritable(child)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	sp := algo.CalculateSplitPointWithHint(child, insertKey, algo.SplitBalanced)
	rightKeys, rightVals, rightChildren := algo.ExtractRightPortion(child, sp)

	nodeID := tx.allocatePage()
	right := &base.Node{
		PageID:   nodeID,
		Dirty:    true,
		Leaf:     child.IsLeaf(),
		NumKeys:  uint16(sp.RightCount),
		Keys:     rightKeys,
		Values:   rightVals,
		Children: rightChildren,
	}

	algo.TruncateLeft(child, sp)

	tx.pages[nodeID] = right

	return child, right, sp.SeparatorKey, []byte{}, nil
}

// loadNode loads a node: tx.pages (local COW cache) -> pager -> storage.
func (tx *Tx) loadNode(pageID base.PageID) (*base.Node, error) {
	if tx.writable {
		if node, exists := tx.pages[pageID]; exists {
			return node, nil
		}
	}
	return tx.db.pager.LoadNode(pageID)
}

// insertNonFull inserts into node with COW, returning the (possibly new) node.
func (tx *Tx) insertNonFull(node *base.Node, key, value []byte) (*base.Node, error) {
	if node.IsLeaf() {
		n, err := tx.ensureWritable(node)
		if err != nil {
			return nil, err
		}

		pos := algo.FindInsertPosition(n, key)

		if pos < int(n.NumKeys) && bytes.Equal(n.Keys[pos], key) {
			algo.ApplyLeafUpdate(n, pos, value)
			if err := n.CheckOverflow(); err != nil {
				return nil, err
			}
			return n, nil
		}

		algo.ApplyLeafInsert(n, pos, key, value)
		if err := n.CheckOverflow(); err != nil {
			n.Keys = algo.RemoveAt(n.Keys, pos)
			n.Values = algo.RemoveAt(n.Values, pos)
			n.NumKeys--
			return nil, err
		}

		return n, nil
	}

	i := algo.FindChildIndex(node, key)
	child, err := tx.loadNode(node.Children[i])
	if err != nil {
		return nil, err
	}

	if child.IsFull(key, value) {
		leftChild, rightChild, midKey, midVal, err := tx.splitChild(child, key)
		if err != nil {
			return nil, err
		}

		node, err = tx.ensureWritable(node)
		if err != nil {
			return nil, err
		}
		algo.ApplyChildSplit(node, i, leftChild, rightChild, midKey, midVal)
		if err := node.CheckOverflow(); err != nil {
			return nil, err
		}

		if bytes.Compare(key, midKey) >= 0 {
			i++
			child = rightChild
		} else {
			child = leftChild
		}
	}

	oldChildID := child.PageID

	newChild, err := tx.insertNonFull(child, key, value)
	if errors.Is(err, ErrPageOverflow) {
		leftChild, rightChild, midKey, midVal, err := tx.splitChild(child, key)
		if err != nil {
			return nil, err
		}

		node, err = tx.ensureWritable(node)
		if err != nil {
			return nil, err
		}
		algo.ApplyChildSplit(node, i, leftChild, rightChild, midKey, midVal)
		if err := node.CheckOverflow(); err != nil {
			return nil, err
		}

		if bytes.Compare(key, midKey) >= 0 {
			if _, err := tx.insertNonFull(rightChild, key, value); err != nil {
				return nil, err
			}
		} else {
			if _, err := tx.insertNonFull(leftChild, key, value); err != nil {
				return nil, err
			}
		}

		return node, nil
	} else if err != nil {
		return nil, err
	}

	child = newChild
	if child.PageID != oldChildID {
		node, err = tx.ensureWritable(node)
		if err != nil {
			return nil, err
		}
		node.Children[i] = child.PageID
		node.Dirty = true
		if err := node.CheckOverflow(); err != nil {
			return nil, err
		}
	}

	return node, nil
}

// deleteFromNode recursively deletes key from the subtree rooted at node.
func (tx *Tx) deleteFromNode(node *base.Node, key []byte) (*base.Node, error) {
	if node.IsLeaf() {
		idx := algo.FindKeyInLeaf(node, key)
		if idx < 0 {
			return nil, ErrKeyNotFound
		}
		return tx.deleteFromLeaf(node, idx)
	}

	childIdx := algo.FindChildIndex(node, key)
	child, err := tx.loadNode(node.Children[childIdx])
	if err != nil {
		return nil, err
	}

	child, err = tx.deleteFromNode(child, key)
	if err != nil {
		return nil, err
	}

	node, err = tx.ensureWritable(node)
	if err != nil {
		return nil, err
	}
	node.Children[childIdx] = child.PageID
	node.Dirty = true

	if child.IsUnderflow() && len(node.Children) > 1 {
		node, child, err = tx.fixUnderflow(node, childIdx, child)
		if err != nil {
			return nil, err
		}
	}

	return node, nil
}

// deleteFromLeaf performs COW on node before removing the entry at idx.
func (tx *Tx) deleteFromLeaf(node *base.Node, idx int) (*base.Node, error) {
	node, err := tx.ensureWritable(node)
	if err != nil {
		return nil, err
	}
	algo.ApplyLeafDelete(node, idx)
	return node, nil
}

// fixUnderflow resolves underflow in child at childIdx by borrowing from a
// sibling or merging, returning the updated (parent, child).
func (tx *Tx) fixUnderflow(parent *base.Node, childIdx int, child *base.Node) (*base.Node, *base.Node, error) {
	children := parent.Children

	if childIdx > 0 {
		left, err := tx.loadNode(children[childIdx-1])
		if err != nil {
			return nil, nil, err
		}
		if left.NumKeys > 1 && !left.IsUnderflow() {
			child, left, parent, err = tx.borrowFromLeft(child, left, parent, childIdx-1)
			if err != nil {
				return nil, nil, err
			}
			parent.Children[childIdx-1] = left.PageID
			parent.Children[childIdx] = child.PageID
			return parent, child, nil
		}
	}

	if childIdx < len(children)-1 {
		right, err := tx.loadNode(children[childIdx+1])
		if err != nil {
			return nil, nil, err
		}
		if right.NumKeys > 1 && !right.IsUnderflow() {
			child, right, parent, err = tx.borrowFromRight(child, right, parent, childIdx)
			if err != nil {
				return nil, nil, err
			}
			parent.Children[childIdx] = child.PageID
			parent.Children[childIdx+1] = right.PageID
			return parent, child, nil
		}
	}

	if childIdx > 0 {
		left, err := tx.loadNode(children[childIdx-1])
		if err != nil {
			return nil, nil, err
		}
		parent, merged, err := tx.mergeNodes(left, child, parent, childIdx-1)
		if err != nil {
			return nil, nil, err
		}
		return parent, merged, nil
	}

	right, err := tx.loadNode(children[childIdx+1])
	if err != nil {
		return nil, nil, err
	}
	parent, merged, err := tx.mergeNodes(child, right, parent, childIdx)
	if err != nil {
		return nil, nil, err
	}
	return parent, merged, nil
}

// borrowFromLeft moves an entry from leftSibling into node through parent.
func (tx *Tx) borrowFromLeft(node, leftSibling, parent *base.Node, parentKeyIdx int) (*base.Node, *base.Node, *base.Node, error) {
	node, err := tx.ensureWritable(node)
	if err != nil {
		return nil, nil, nil, err
	}
	leftSibling, err = tx.ensureWritable(leftSibling)
	if err != nil {
		return nil, nil, nil, err
	}
	parent, err = tx.ensureWritable(parent)
	if err != nil {
		return nil, nil, nil, err
	}

	algo.BorrowFromLeft(node, leftSibling, parent, parentKeyIdx)

	return node, leftSibling, parent, nil
}

// borrowFromRight moves an entry from rightSibling into node through parent.
func (tx *Tx) borrowFromRight(node, rightSibling, parent *base.Node, parentKeyIdx int) (*base.Node, *base.Node, *base.Node, error) {
	node, err := tx.ensureWritable(node)
	if err != nil {
		return nil, nil, nil, err
	}
	rightSibling, err = tx.ensureWritable(rightSibling)
	if err != nil {
		return nil, nil, nil, err
	}
	parent, err = tx.ensureWritable(parent)
	if err != nil {
		return nil, nil, nil, err
	}

	algo.BorrowFromRight(node, rightSibling, parent, parentKeyIdx)

	return node, rightSibling, parent, nil
}

// mergeNodes merges rightNode into leftNode, or redistributes keys between
// them when the merged result would overflow a page. Returns (parent, result).
func (tx *Tx) mergeNodes(leftNode, rightNode, parent *base.Node, parentKeyIdx int) (*base.Node, *base.Node, error) {
	leftNode, err := tx.ensureWritable(leftNode)
	if err != nil {
		return nil, nil, err
	}
	rightNode, err = tx.ensureWritable(rightNode)
	if err != nil {
		return nil, nil, err
	}
	parent, err = tx.ensureWritable(parent)
	if err != nil {
		return nil, nil, err
	}

	mergedSize := leftNode.Size() + rightNode.Size()
	if !leftNode.IsLeaf() {
		mergedSize += len(parent.Keys[parentKeyIdx])
	}

	if mergedSize > base.PageSize {
		if err := tx.redistributeNodes(leftNode, rightNode, parent, parentKeyIdx); err != nil {
			return nil, nil, err
		}
		parent.Children[parentKeyIdx] = leftNode.PageID
		parent.Children[parentKeyIdx+1] = rightNode.PageID
		return parent, leftNode, nil
	}

	algo.MergeNodes(leftNode, rightNode, parent.Keys[parentKeyIdx])
	algo.ApplyBranchRemoveSeparator(parent, parentKeyIdx)
	parent.Children[parentKeyIdx] = leftNode.PageID

	tx.addFreed(rightNode.PageID)

	return parent, leftNode, nil
}

// redistributeNodes evenly splits the combined contents of two underflowing
// siblings that cannot be merged without overflowing a page.
func (tx *Tx) redistributeNodes(leftNode, rightNode, parent *base.Node, parentKeyIdx int) error {
	if leftNode.IsLeaf() {
		allKeys := append(append([][]byte{}, leftNode.Keys...), rightNode.Keys...)
		allValues := append(append([][]byte{}, leftNode.Values...), rightNode.Values...)

		total := len(allKeys)
		leftCount := total / 2
		if leftCount < 1 {
			leftCount = 1
		}
		if leftCount > total-1 {
			leftCount = total - 1
		}

		leftNode.Keys = allKeys[:leftCount]
		leftNode.Values = allValues[:leftCount]
		leftNode.NumKeys = uint16(leftCount)

		rightNode.Keys = allKeys[leftCount:]
		rightNode.Values = allValues[leftCount:]
		rightNode.NumKeys = uint16(total - leftCount)

		parent.Keys[parentKeyIdx] = rightNode.Keys[0]
	} else {
		allKeys := append(append([][]byte{}, leftNode.Keys...), parent.Keys[parentKeyIdx])
		allKeys = append(allKeys, rightNode.Keys...)
		allChildren := append(append([]base.PageID{}, leftNode.Children...), rightNode.Children...)

		total := len(allKeys)
		splitIdx := total / 2
		if splitIdx < 1 {
			splitIdx = 1
		}
		if splitIdx > total-2 {
			splitIdx = total - 2
		}

		newSeparator := allKeys[splitIdx]

		leftNode.Keys = allKeys[:splitIdx]
		leftNode.Children = allChildren[:splitIdx+1]
		leftNode.NumKeys = uint16(splitIdx)

		rightNode.Keys = allKeys[splitIdx+1:]
		rightNode.Children = allChildren[splitIdx+1:]
		rightNode.NumKeys = uint16(total - splitIdx - 1)

		parent.Keys[parentKeyIdx] = newSeparator
	}

	if err := leftNode.CheckOverflow(); err != nil {
		return err
	}
	if err := rightNode.CheckOverflow(); err != nil {
		return err
	}

	leftNode.Dirty = true
	rightNode.Dirty = true
	parent.Dirty = true

	return nil
}

// tryReleasePages releases pending freelist pages that are safe to reuse
// based on the transaction IDs of currently active transactions.
func (tx *Tx) tryReleasePages() {
	minTxID := tx.db.nextTxID.Load()

	if writerTx := tx.db.writer.Load(); writerTx != nil {
		if writerTx.txID < minTxID {
			minTxID = writerTx.txID
		}
	}

	if readerMin := tx.db.readerSlots.MinTxID(); readerMin > 0 && readerMin < minTxID {
		minTxID = readerMin
	}

	tx.db.pager.Release(minTxID)
}

// freeTree frees every page in the B-tree rooted at rootID. Runs as a
// background callback once a deleted bucket's reference count hits zero.
func (tx *Tx) freeTree(rootID base.PageID) error {
	newTx, err := tx.db.Begin(false)
	if err != nil {
		return err
	}
	defer newTx.Rollback()

	pageIDs := make([]base.PageID, 0)

	type stackItem struct {
		pageID            base.PageID
		childrenProcessed bool
	}
	stack := []stackItem{{pageID: rootID}}

	for len(stack) > 0 {
		item := stack[len(stack)-1]

		if item.childrenProcessed {
			pageIDs = append(pageIDs, item.pageID)
			stack = stack[:len(stack)-1]
			continue
		}

		node, err := newTx.db.pager.LoadNode(item.pageID)
		if err != nil {
			return err
		}

		stack[len(stack)-1].childrenProcessed = true

		if !node.IsLeaf() {
			for i := len(node.Children) - 1; i >= 0; i-- {
				stack = append(stack, stackItem{pageID: node.Children[i]})
			}
		}
	}

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()

	for _, pageID := range pageIDs {
		tx.db.pager.Free(pageID)
	}

	return nil
}
