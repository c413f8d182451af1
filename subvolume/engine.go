// Package subvolume implements the snapshot and subvolume engine: a
// persistent, versioned directed graph of snapshot nodes, subvolumes
// (mountable roots) anchored to them, atomic creation of new subvolumes and
// snapshots, and background reclamation of storage held by dropped
// snapshots.
package subvolume

import "snaptree"

// Engine is the entry point the rest of a filesystem would call into: it
// bundles the row stores, the in-core equivalence cache, the creation
// protocol, the reclamation engine, and the consistency checker behind a
// single set of methods.
type Engine struct {
	db *snaptree.DB

	Snapshots  *SnapshotStore
	Subvolumes *SubvolumeStore
	Equiv      *EquivCache
	Creator    *Creator
	Reclaim    *ReclaimEngine
	Checker    *Checker

	logger snaptree.Logger
}

// Open wires an Engine on top of db. snapshotBearingTrees names every
// bucket the reclamation pass must sweep for dead or superseded keys.
func Open(db *snaptree.DB, logger snaptree.Logger, snapshotBearingTrees ...[]byte) *Engine {
	if logger == nil {
		logger = snaptree.DiscardLogger{}
	}

	equiv := NewEquivCache()
	snapshots := NewSnapshotStore(equiv, logger)
	subvolumes := NewSubvolumeStore(snapshots, logger)
	creator := NewCreator(snapshots, subvolumes)
	reclaim := NewReclaimEngine(db, snapshots, equiv, snapshotBearingTrees, logger)
	checker := NewChecker(snapshots, subvolumes, logger)

	return &Engine{
		db:         db,
		Snapshots:  snapshots,
		Subvolumes: subvolumes,
		Equiv:      equiv,
		Creator:    creator,
		Reclaim:    reclaim,
		Checker:    checker,
		logger:     logger,
	}
}

// GetSnapshot is subvolume_get_snapshot: the snapshot_id a subvolume
// currently lives at.
func (e *Engine) GetSnapshot(subvolID uint32) (uint32, error) {
	var snapID uint32
	err := e.db.View(func(tx *snaptree.Tx) error {
		id, err := e.Subvolumes.GetSnapshot(tx, subvolID)
		snapID = id
		return err
	})
	return snapID, err
}

// Create is subvolume_create: atomically creates a fresh subvolume
// (srcSubvolID == 0) or a snapshot of an existing one.
func (e *Engine) Create(inode uint64, srcSubvolID uint32, readOnly bool) (newSubvolID, newSnapID uint32, err error) {
	return e.Creator.Create(e.db, inode, srcSubvolID, readOnly)
}

// Delete is subvolume_delete: removes a subvolume row, marks its snapshot
// deleted, and schedules reclamation.
func (e *Engine) Delete(subvolID uint32, expectSnapshotFlag int) error {
	err := e.db.Update(func(tx *snaptree.Tx) error {
		return e.Subvolumes.Delete(tx, subvolID, expectSnapshotFlag)
	})
	if err != nil {
		return err
	}
	e.Reclaim.Enqueue()
	return nil
}

// Start is snapshots_start: invoked once at mount. Populates the
// equivalence cache from on-disk rows and re-queues reclamation if any row
// is still flagged DELETED from an interrupted pass.
func (e *Engine) Start() error {
	var ids []uint32
	haveDeleted := false

	err := e.db.View(func(tx *snaptree.Tx) error {
		ids = e.Snapshots.AllIDs(tx)
		for _, id := range ids {
			row, err := e.Snapshots.Lookup(tx, id)
			if err != nil {
				continue
			}
			if err := e.Equiv.UpdateFromRow(id, row); err != nil {
				return err
			}
			if row.IsDeleted() {
				haveDeleted = true
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.Equiv.RecomputeEquiv(ids)

	if haveDeleted {
		e.logger.Info("restarting deletion of dead snapshots")
		e.Reclaim.Enqueue()
	}
	return nil
}

// Check is snapshots_check: invoked by fsck.
func (e *Engine) Check() error {
	return e.Checker.Check(e.db)
}

// Exit is snapshots_exit: frees the in-core cache at unmount, after
// draining any in-flight reclamation pass.
func (e *Engine) Exit() {
	e.Reclaim.writeRef.Drain()
	e.Equiv.mu.Lock()
	e.Equiv.slots = make(map[uint32]*equivSlot)
	e.Equiv.mu.Unlock()
}
