package subvolume

import "snaptree"

// Creator implements the atomic creation protocol: standalone subvolumes
// and snapshot-of-subvolume both go through Create, which allocates the
// new snapshot node(s), links them into the tree, and rebases the source
// subvolume when snapshotting.
type Creator struct {
	snapshots  *SnapshotStore
	subvolumes *SubvolumeStore
}

// NewCreator wires the creation protocol to its two underlying stores.
func NewCreator(snapshots *SnapshotStore, subvolumes *SubvolumeStore) *Creator {
	return &Creator{snapshots: snapshots, subvolumes: subvolumes}
}

// Create runs the full protocol as one transaction on db: any step failing
// aborts the transaction, so no partial state is ever observed. srcSubvolID
// of 0 means "fresh subvolume"; otherwise this snapshots that subvolume.
func (c *Creator) Create(db *snaptree.DB, inode uint64, srcSubvolID uint32, readOnly bool) (newSubvolID, newSnapID uint32, err error) {
	err = db.Update(func(tx *snaptree.Tx) error {
		newSlot, err := c.subvolumes.AllocateSlot(tx)
		if err != nil {
			return err
		}

		snapshotSubvols := [2]uint32{newSlot, srcSubvolID}

		var newNodes []uint32
		var src SubvolumeRow
		if srcSubvolID != 0 {
			src, err = c.subvolumes.Get(tx, srcSubvolID, false)
			if err != nil {
				return err
			}
			parent := src.Snapshot

			newNodes, err = c.snapshots.Create(tx, parent, snapshotSubvols[:], 2)
			if err != nil {
				return err
			}

			src.Snapshot = newNodes[1]
			if err := c.subvolumes.Put(tx, srcSubvolID, src); err != nil {
				return err
			}
		} else {
			newNodes, err = c.snapshots.Create(tx, 0, snapshotSubvols[:1], 1)
			if err != nil {
				return err
			}
		}

		flags := SubvolumeFlag(0)
		if readOnly {
			flags |= FlagReadOnly
		}
		if srcSubvolID != 0 {
			flags |= FlagIsSnapshot
		}

		newRow := SubvolumeRow{Flags: flags, Snapshot: newNodes[0], Inode: inode}
		if err := c.subvolumes.Put(tx, newSlot, newRow); err != nil {
			return err
		}

		newSubvolID = newSlot
		newSnapID = newNodes[0]
		return nil
	})
	return newSubvolID, newSnapID, err
}
