package subvolume

import (
	"fmt"

	"snaptree"
	"snaptree/internal/rowkey"
)

// SubvolumeStore provides transactional read/write/delete of subvolume rows
// and slot allocation within [SubvolMin, SubvolMax].
type SubvolumeStore struct {
	bucket   []byte
	snapshot *SnapshotStore
	logger   snaptree.Logger
}

// NewSubvolumeStore returns a store that marks the owning snapshot deleted
// (via snapshots) whenever a subvolume is deleted.
func NewSubvolumeStore(snapshots *SnapshotStore, logger snaptree.Logger) *SubvolumeStore {
	if logger == nil {
		logger = snaptree.DiscardLogger{}
	}
	return &SubvolumeStore{bucket: []byte("subvolumes"), snapshot: snapshots, logger: logger}
}

// Get reads the row for id. If absent and inconsistentIfAbsent is set, logs
// an inconsistency event before returning ErrNotFound.
func (s *SubvolumeStore) Get(tx *snaptree.Tx, id uint32, inconsistentIfAbsent bool) (SubvolumeRow, error) {
	b := tx.Bucket(s.bucket)
	var data []byte
	if b != nil {
		data = b.Get(rowkey.EncodeSubvolumeID(id))
	}
	if data == nil {
		if inconsistentIfAbsent {
			s.logger.Warn("missing subvolume", "id", id)
		}
		return SubvolumeRow{}, ErrNotFound
	}
	return DecodeSubvolumeRow(data)
}

// GetSnapshot composes Get and field extraction: the snapshot_id a
// subvolume currently lives at.
func (s *SubvolumeStore) GetSnapshot(tx *snaptree.Tx, id uint32) (uint32, error) {
	row, err := s.Get(tx, id, true)
	if err != nil {
		return 0, err
	}
	return row.Snapshot, nil
}

// AllocateSlot scans forward from SubvolMin for the first unoccupied id.
func (s *SubvolumeStore) AllocateSlot(tx *snaptree.Tx) (uint32, error) {
	b := tx.Bucket(s.bucket)
	for id := SubvolMin; id <= SubvolMax; id++ {
		if b == nil {
			return id, nil
		}
		if b.Get(rowkey.EncodeSubvolumeID(id)) == nil {
			return id, nil
		}
	}
	return 0, ErrNoSpace
}

// Put materializes or overwrites the row at id.
func (s *SubvolumeStore) Put(tx *snaptree.Tx, id uint32, row SubvolumeRow) error {
	if err := ValidateSubvolumeRow(id); err != nil {
		return err
	}
	b, err := tx.CreateBucketIfNotExists(s.bucket)
	if err != nil {
		return err
	}
	return b.Put(rowkey.EncodeSubvolumeID(id), row.Encode())
}

// Delete removes the row at id after checking expectSnapshotFlag against
// the row's IS_SNAPSHOT flag (-1 skips the check) and marks the owning
// snapshot deleted. It returns only an error; scheduling reclamation is left
// to the caller.
func (s *SubvolumeStore) Delete(tx *snaptree.Tx, id uint32, expectSnapshotFlag int) error {
	row, err := s.Get(tx, id, true)
	if err != nil {
		return err
	}
	if expectSnapshotFlag >= 0 {
		isSnap := row.IsSnapshot()
		want := expectSnapshotFlag != 0
		if isSnap != want {
			return ErrNotFound
		}
	}

	b, err := tx.CreateBucketIfNotExists(s.bucket)
	if err != nil {
		return err
	}
	if err := b.Delete(rowkey.EncodeSubvolumeID(id)); err != nil {
		return fmt.Errorf("subvolume %d: %w", id, err)
	}

	return s.snapshot.MarkDeleted(tx, row.Snapshot)
}
