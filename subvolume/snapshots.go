package subvolume

import (
	"fmt"

	"snaptree"
	"snaptree/internal/rowkey"
)

// SnapshotStore provides transactional read/write/delete of snapshot node
// rows and keeps the equivalence cache synchronized with every write.
type SnapshotStore struct {
	bucket []byte
	equiv  *EquivCache
	logger snaptree.Logger
}

// NewSnapshotStore returns a store backed by its own bucket in db, updating
// equiv on every write.
func NewSnapshotStore(equiv *EquivCache, logger snaptree.Logger) *SnapshotStore {
	if logger == nil {
		logger = snaptree.DiscardLogger{}
	}
	return &SnapshotStore{bucket: []byte("snapshots"), equiv: equiv, logger: logger}
}

// Lookup reads the row for id. Returns ErrNotFound if absent; id 0 is never
// live and always reports ErrNotFound without touching storage.
func (s *SnapshotStore) Lookup(tx *snaptree.Tx, id uint32) (SnapshotRow, error) {
	if id == 0 {
		return SnapshotRow{}, ErrNotFound
	}
	b := tx.Bucket(s.bucket)
	if b == nil {
		return SnapshotRow{}, ErrNotFound
	}
	data := b.Get(rowkey.EncodeSnapshotID(id))
	if data == nil {
		return SnapshotRow{}, ErrNotFound
	}
	return DecodeSnapshotRow(data)
}

// MarkDeleted sets the DELETED flag on id's row, no-op if already set.
func (s *SnapshotStore) MarkDeleted(tx *snaptree.Tx, id uint32) error {
	b, err := tx.CreateBucketIfNotExists(s.bucket)
	if err != nil {
		return err
	}
	key := rowkey.EncodeSnapshotID(id)
	data := b.Get(key)
	if data == nil {
		s.logger.Warn("snapshot missing while marking deleted", "id", id)
		return fmt.Errorf("%w: missing snapshot %d", ErrInconsistent, id)
	}
	row, err := DecodeSnapshotRow(data)
	if err != nil {
		return err
	}
	if row.IsDeleted() {
		return nil
	}
	row.Flags |= FlagDeleted
	if err := b.Put(key, row.Encode()); err != nil {
		return err
	}
	return s.equiv.UpdateFromRow(id, row)
}

// DeletePhysical removes id's row, which must already be DELETED, and fixes
// up the parent's back-pointer. A missing parent or missing child
// back-pointer is logged as an inconsistency but does not abort the
// transaction; physical removal stays best-effort rather than all-or-nothing.
func (s *SnapshotStore) DeletePhysical(tx *snaptree.Tx, id uint32) error {
	b, err := tx.CreateBucketIfNotExists(s.bucket)
	if err != nil {
		return err
	}
	key := rowkey.EncodeSnapshotID(id)
	data := b.Get(key)
	if data == nil {
		s.logger.Warn("snapshot missing during delete_physical", "id", id)
		return fmt.Errorf("%w: missing snapshot %d", ErrInconsistent, id)
	}
	row, err := DecodeSnapshotRow(data)
	if err != nil {
		return err
	}
	if !row.IsDeleted() {
		return fmt.Errorf("%w: snapshot %d not marked deleted", ErrInvalid, id)
	}

	if row.Parent != 0 {
		pkey := rowkey.EncodeSnapshotID(row.Parent)
		pdata := b.Get(pkey)
		if pdata == nil {
			s.logger.Warn("snapshot missing parent during delete_physical", "id", id, "parent", row.Parent)
		} else {
			prow, err := DecodeSnapshotRow(pdata)
			if err != nil {
				return err
			}
			idx := -1
			for i, c := range prow.Children {
				if c == id {
					idx = i
					break
				}
			}
			if idx == -1 {
				s.logger.Warn("snapshot missing child back-pointer", "parent", row.Parent, "child", id)
			} else {
				prow.Children[idx] = 0
				if prow.Children[0] < prow.Children[1] {
					prow.Children[0], prow.Children[1] = prow.Children[1], prow.Children[0]
				}
				if err := b.Put(pkey, prow.Encode()); err != nil {
					return err
				}
				if err := s.equiv.UpdateFromRow(row.Parent, prow); err != nil {
					return err
				}
			}
		}
	}

	if err := b.Delete(key); err != nil {
		return err
	}
	s.equiv.Remove(id)
	return nil
}

// Create allocates n (1 or 2) fresh snapshot ids above every id currently in
// use, materializes their rows, and — if parentID is non-zero — links them
// as the parent's children. Fails with ErrInvalid if the parent already has
// a child assigned.
func (s *SnapshotStore) Create(tx *snaptree.Tx, parentID uint32, subvolIDs []uint32, n int) ([]uint32, error) {
	if n != 1 && n != 2 {
		return nil, fmt.Errorf("%w: create requires n in {1,2}, got %d", ErrInvalid, n)
	}

	b, err := tx.CreateBucketIfNotExists(s.bucket)
	if err != nil {
		return nil, err
	}

	next, err := s.nextFreeID(b)
	if err != nil {
		return nil, err
	}

	newIDs := make([]uint32, n)
	for i := 0; i < n; i++ {
		if next > SnapshotIDMax {
			return nil, ErrNoSpace
		}
		newIDs[i] = next
		next++

		row := SnapshotRow{Flags: FlagIsSubvol, Parent: parentID, Subvol: subvolIDs[i]}
		if err := ValidateSnapshotRow(newIDs[i], row); err != nil {
			return nil, err
		}
		if err := b.Put(rowkey.EncodeSnapshotID(newIDs[i]), row.Encode()); err != nil {
			return nil, err
		}
		if err := s.equiv.UpdateFromRow(newIDs[i], row); err != nil {
			return nil, err
		}
	}

	if parentID != 0 {
		pkey := rowkey.EncodeSnapshotID(parentID)
		pdata := b.Get(pkey)
		if pdata == nil {
			return nil, fmt.Errorf("%w: snapshot %d", ErrNotFound, parentID)
		}
		prow, err := DecodeSnapshotRow(pdata)
		if err != nil {
			return nil, err
		}
		if prow.Children[0] != 0 || prow.Children[1] != 0 {
			return nil, fmt.Errorf("%w: snapshot %d already has children", ErrInvalid, parentID)
		}

		if n == 2 {
			if newIDs[0] >= newIDs[1] {
				prow.Children = [2]uint32{newIDs[0], newIDs[1]}
			} else {
				prow.Children = [2]uint32{newIDs[1], newIDs[0]}
			}
		} else {
			prow.Children = [2]uint32{newIDs[0], 0}
		}
		prow.Flags &^= FlagIsSubvol

		if err := b.Put(pkey, prow.Encode()); err != nil {
			return nil, err
		}
		if err := s.equiv.UpdateFromRow(parentID, prow); err != nil {
			return nil, err
		}
	}

	return newIDs, nil
}

// nextFreeID returns the smallest id guaranteed to be unused: one past the
// largest id currently stored in the bucket, or SnapshotIDMin if empty.
//
// Allocation always moves forward because every child's id must exceed its
// parent's; scanning from the top of the id space downward would eventually
// hand out a smaller id than an older, still-growing ancestor.
func (s *SnapshotStore) nextFreeID(b *snaptree.Bucket) (uint32, error) {
	key, _ := b.Cursor().Last()
	if key == nil {
		return SnapshotIDMin, nil
	}
	last := rowkey.DecodeSnapshotID(key)
	if last >= SnapshotIDMax {
		return 0, ErrNoSpace
	}
	return last + 1, nil
}

// AllIDs returns every snapshot id currently stored, in ascending order.
func (s *SnapshotStore) AllIDs(tx *snaptree.Tx) []uint32 {
	b := tx.Bucket(s.bucket)
	if b == nil {
		return nil
	}
	var ids []uint32
	_ = b.ForEach(func(k, _ []byte) error {
		ids = append(ids, rowkey.DecodeSnapshotID(k))
		return nil
	})
	return ids
}
