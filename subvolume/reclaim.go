package subvolume

import (
	"sort"
	"sync"

	"snaptree"
	"snaptree/internal/lifecycle"
	"snaptree/internal/rowkey"
)

// ReclaimEngine runs the background dead-snapshot cleanup pass: mark
// childless subvolume-less snapshots deleted, recompute equivalence, sweep
// every snapshot-bearing B-tree for keys that belong to a dead or
// superseded version, then remove the snapshot rows themselves.
//
// Each phase commits as its own transaction so the pass is resumable across
// a crash: on the next mount, Start rescans for rows still flagged DELETED
// and re-enqueues, and phase 4's deletes are naturally idempotent.
type ReclaimEngine struct {
	db        *snaptree.DB
	snapshots *SnapshotStore
	equiv     *EquivCache
	trees     [][]byte // Bucket names of every snapshot-bearing B-tree to sweep
	writeRef  *lifecycle.WriteRef
	logger    snaptree.Logger

	mu      sync.Mutex
	pending bool // True while a job is queued or running; coalesces repeat enqueues
	wg      sync.WaitGroup
}

// NewReclaimEngine wires the engine to its stores and the set of
// snapshot-bearing trees it must sweep.
func NewReclaimEngine(db *snaptree.DB, snapshots *SnapshotStore, equiv *EquivCache, trees [][]byte, logger snaptree.Logger) *ReclaimEngine {
	if logger == nil {
		logger = snaptree.DiscardLogger{}
	}
	return &ReclaimEngine{
		db:        db,
		snapshots: snapshots,
		equiv:     equiv,
		trees:     trees,
		writeRef:  lifecycle.NewWriteRef(),
		logger:    logger,
	}
}

// Enqueue schedules a reclamation pass on a background goroutine. Coalesces:
// if a pass is already queued or running, this is a no-op and the write
// reference is not acquired a second time.
func (r *ReclaimEngine) Enqueue() {
	r.mu.Lock()
	if r.pending {
		r.mu.Unlock()
		return
	}
	if err := r.writeRef.Acquire(); err != nil {
		r.mu.Unlock()
		return
	}
	r.pending = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.writeRef.Release()
		defer func() {
			r.mu.Lock()
			r.pending = false
			r.mu.Unlock()
		}()

		if err := r.Run(); err != nil {
			r.logger.Error("reclamation pass failed", "error", err)
		}
	}()
}

// Wait blocks until any in-flight reclamation pass finishes. Used by tests
// and by unmount, via the write reference Drain.
func (r *ReclaimEngine) Wait() {
	r.wg.Wait()
}

// Run executes phases 1-5 synchronously. Exported so tests can drive a pass
// without going through the background scheduler; Start (mount-time replay)
// goes through Enqueue instead.
func (r *ReclaimEngine) Run() error {
	if err := r.phaseDeadDetection(); err != nil {
		return err
	}

	ids, err := r.phaseRecomputeEquiv()
	if err != nil {
		return err
	}
	r.equiv.RecomputeEquiv(ids)

	deleted, err := r.phaseMaterializeDeleted()
	if err != nil {
		return err
	}

	for _, tree := range r.trees {
		if err := r.phaseKeySweep(tree, deleted); err != nil {
			return err
		}
	}

	return r.phaseRemoveRows(deleted)
}

// phaseDeadDetection is phase 1: a snapshot with neither an owning
// subvolume nor a live child is marked deleted.
func (r *ReclaimEngine) phaseDeadDetection() error {
	return r.db.Update(func(tx *snaptree.Tx) error {
		for _, id := range r.snapshots.AllIDs(tx) {
			row, err := r.snapshots.Lookup(tx, id)
			if err != nil {
				continue
			}
			if row.IsDeleted() || row.IsSubvol() {
				continue
			}

			anyLive := false
			for _, child := range row.Children {
				if child == 0 {
					continue
				}
				childRow, err := r.snapshots.Lookup(tx, child)
				if err == nil && !childRow.IsDeleted() {
					anyLive = true
					break
				}
			}
			if anyLive {
				continue
			}

			if err := r.snapshots.MarkDeleted(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// phaseRecomputeEquiv is phase 2's data-gathering half; the actual
// recompute runs against the cache directly once ids are known.
func (r *ReclaimEngine) phaseRecomputeEquiv() ([]uint32, error) {
	var ids []uint32
	err := r.db.View(func(tx *snaptree.Tx) error {
		ids = r.snapshots.AllIDs(tx)
		return nil
	})
	return ids, err
}

// phaseMaterializeDeleted is phase 3: collect every id whose row carries
// the DELETED flag, the ground truth for phase 4. Bounded by maxEquivSlots
// for the same reason EquivCache is: a well-formed tree never approaches
// this many simultaneously dead snapshots.
func (r *ReclaimEngine) phaseMaterializeDeleted() ([]uint32, error) {
	var deleted []uint32
	err := r.db.View(func(tx *snaptree.Tx) error {
		for _, id := range r.snapshots.AllIDs(tx) {
			row, err := r.snapshots.Lookup(tx, id)
			if err != nil {
				continue
			}
			if row.IsDeleted() {
				if len(deleted) >= maxEquivSlots {
					return ErrOutOfMemory
				}
				deleted = append(deleted, id)
			}
		}
		return nil
	})
	sort.Slice(deleted, func(i, j int) bool { return deleted[i] < deleted[j] })
	return deleted, err
}

// phaseKeySweep is phase 4: delete every key in tree whose snapshot is dead,
// or whose equivalence representative was already seen at the same
// position, which makes it a redundant older version.
func (r *ReclaimEngine) phaseKeySweep(tree []byte, deleted []uint32) error {
	deadSet := make(map[uint32]struct{}, len(deleted))
	for _, id := range deleted {
		deadSet[id] = struct{}{}
	}

	return r.db.Update(func(tx *snaptree.Tx) error {
		b, err := tx.CreateBucketIfNotExists(tree)
		if err != nil {
			return err
		}

		var toDelete [][]byte
		var lastKey []byte
		seenEquivs := make(map[uint32]struct{})

		err = b.ForEach(func(k, _ []byte) error {
			if lastKey == nil || !rowkey.SamePos(lastKey, k) {
				seenEquivs = make(map[uint32]struct{})
			}
			lastKey = k

			dk := rowkey.DecodeDataKey(k)
			equiv := r.equiv.Equiv(dk.Snapshot)

			_, dead := deadSet[dk.Snapshot]
			_, redundant := seenEquivs[equiv]

			if dead || redundant {
				toDelete = append(toDelete, append([]byte(nil), k...))
				return nil
			}
			seenEquivs[equiv] = struct{}{}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// phaseRemoveRows is phase 5: physically remove every row in deleted.
func (r *ReclaimEngine) phaseRemoveRows(deleted []uint32) error {
	return r.db.Update(func(tx *snaptree.Tx) error {
		for _, id := range deleted {
			if err := r.snapshots.DeletePhysical(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}
