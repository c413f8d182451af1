package subvolume

import (
	"fmt"

	"snaptree"
)

// Checker runs the filesystem-consistency pass over snapshot and subvolume
// rows, at mount time before normal operation resumes.
type Checker struct {
	snapshots  *SnapshotStore
	subvolumes *SubvolumeStore
	logger     snaptree.Logger
}

// NewChecker wires the consistency checker to the two stores it verifies.
func NewChecker(snapshots *SnapshotStore, subvolumes *SubvolumeStore, logger snaptree.Logger) *Checker {
	if logger == nil {
		logger = snaptree.DiscardLogger{}
	}
	return &Checker{snapshots: snapshots, subvolumes: subvolumes, logger: logger}
}

// Check runs both passes in one transaction and returns the first failure
// found, having already logged every failure with a precise message.
func (c *Checker) Check(db *snaptree.DB) error {
	var failures []error

	err := db.View(func(tx *snaptree.Tx) error {
		for _, id := range c.snapshots.AllIDs(tx) {
			row, err := c.snapshots.Lookup(tx, id)
			if err != nil {
				continue
			}
			if err := c.checkSnapshot(tx, id, row); err != nil {
				failures = append(failures, err)
			}
		}

		b := tx.Bucket(c.subvolumes.bucket)
		if b != nil {
			_ = b.ForEach(func(k, v []byte) error {
				row, err := DecodeSubvolumeRow(v)
				if err != nil {
					c.logger.Error("subvolume row does not decode", "key", k, "error", err)
					failures = append(failures, err)
					return nil
				}
				if err := c.checkSubvolume(tx, row); err != nil {
					failures = append(failures, err)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(failures) > 0 {
		return failures[0]
	}
	return nil
}

// checkSnapshot verifies one snapshot row's subvolume/parent/child
// back-pointers.
func (c *Checker) checkSnapshot(tx *snaptree.Tx, id uint32, row SnapshotRow) error {
	if row.IsSubvol() {
		subvolRow, err := c.subvolumes.Get(tx, row.Subvol, false)
		if err != nil {
			c.logger.Error("snapshot has nonexistent subvolume", "id", id, "subvol", row.Subvol)
			return fmt.Errorf("%w: snapshot %d has nonexistent subvolume %d", ErrInconsistent, id, row.Subvol)
		}
		if subvolRow.Snapshot != id {
			c.logger.Error("snapshot has wrong subvolume back-pointer", "id", id, "subvol", row.Subvol)
			return fmt.Errorf("%w: snapshot %d subvolume %d points elsewhere", ErrInconsistent, id, row.Subvol)
		}
	}

	if row.Parent != 0 {
		parentRow, err := c.snapshots.Lookup(tx, row.Parent)
		if err != nil {
			c.logger.Error("snapshot has nonexistent parent", "id", id, "parent", row.Parent)
			return fmt.Errorf("%w: snapshot %d has nonexistent parent %d", ErrInconsistent, id, row.Parent)
		}
		if parentRow.Children[0] != id && parentRow.Children[1] != id {
			c.logger.Error("snapshot parent missing child pointer", "parent", row.Parent, "child", id)
			return fmt.Errorf("%w: snapshot parent %d missing pointer to child %d", ErrInconsistent, row.Parent, id)
		}
	}

	for _, child := range row.Children {
		if child == 0 {
			continue
		}
		childRow, err := c.snapshots.Lookup(tx, child)
		if err != nil {
			c.logger.Error("snapshot has nonexistent child", "id", id, "child", child)
			return fmt.Errorf("%w: snapshot %d has nonexistent child %d", ErrInconsistent, id, child)
		}
		if childRow.Parent != id {
			c.logger.Error("snapshot child has wrong parent", "child", child, "got", childRow.Parent, "want", id)
			return fmt.Errorf("%w: snapshot child %d has wrong parent (got %d should be %d)", ErrInconsistent, child, childRow.Parent, id)
		}
	}

	return nil
}

// checkSubvolume verifies that a subvolume row names a live snapshot row.
func (c *Checker) checkSubvolume(tx *snaptree.Tx, row SubvolumeRow) error {
	snapRow, err := c.snapshots.Lookup(tx, row.Snapshot)
	if err != nil {
		c.logger.Error("subvolume points to nonexistent snapshot", "snapshot", row.Snapshot)
		return fmt.Errorf("%w: subvolume points to nonexistent snapshot %d", ErrInconsistent, row.Snapshot)
	}
	if snapRow.IsDeleted() {
		c.logger.Error("subvolume points to deleted snapshot", "snapshot", row.Snapshot)
		return fmt.Errorf("%w: subvolume points to deleted snapshot %d", ErrInconsistent, row.Snapshot)
	}
	return nil
}
