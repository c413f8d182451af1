package subvolume

import (
	"encoding/binary"
	"fmt"
)

// SnapshotFlag bits, bit 0 = IS_SUBVOL, bit 1 = DELETED; remainder reserved
// zero.
type SnapshotFlag uint32

const (
	FlagIsSubvol SnapshotFlag = 1 << 0
	FlagDeleted  SnapshotFlag = 1 << 1
)

// SubvolumeFlag bits, bit 0 = READ_ONLY, bit 1 = IS_SNAPSHOT.
type SubvolumeFlag uint32

const (
	FlagReadOnly  SubvolumeFlag = 1 << 0
	FlagIsSnapshot SubvolumeFlag = 1 << 1
)

const (
	// SnapshotIDMin is the smallest legal snapshot_id; 0 means "none".
	SnapshotIDMin uint32 = 1
	// SnapshotIDMax is the largest legal snapshot_id (2^32 - 2).
	SnapshotIDMax uint32 = 0xFFFFFFFE

	// SubvolMin and SubvolMax bound the reserved subvolume id range.
	SubvolMin uint32 = 1
	SubvolMax uint32 = 1<<20 - 1

	// snapshotRowSize and subvolumeRowSize are the bit-exact on-disk sizes.
	snapshotRowSize  = 24 // flags, parent, children[2], subvol, pad (6 * u32)
	subvolumeRowSize = 16 // flags, snapshot (2 * u32), inode (u64)
)

// SnapshotRow is the persistent row for one snapshot node, keyed by its
// snapshot_id.
type SnapshotRow struct {
	Flags    SnapshotFlag
	Parent   uint32
	Children [2]uint32
	Subvol   uint32
	Pad      uint32
}

func (r SnapshotRow) IsSubvol() bool { return r.Flags&FlagIsSubvol != 0 }
func (r SnapshotRow) IsDeleted() bool { return r.Flags&FlagDeleted != 0 }

// Encode produces the 24-byte little-endian on-wire form.
func (r SnapshotRow) Encode() []byte {
	buf := make([]byte, snapshotRowSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Flags))
	binary.LittleEndian.PutUint32(buf[4:8], r.Parent)
	binary.LittleEndian.PutUint32(buf[8:12], r.Children[0])
	binary.LittleEndian.PutUint32(buf[12:16], r.Children[1])
	binary.LittleEndian.PutUint32(buf[16:20], r.Subvol)
	binary.LittleEndian.PutUint32(buf[20:24], r.Pad)
	return buf
}

// DecodeSnapshotRow reverses SnapshotRow.Encode.
func DecodeSnapshotRow(data []byte) (SnapshotRow, error) {
	if len(data) != snapshotRowSize {
		return SnapshotRow{}, fmt.Errorf("%w: bad snapshot row size %d", ErrInvalid, len(data))
	}
	return SnapshotRow{
		Flags:  SnapshotFlag(binary.LittleEndian.Uint32(data[0:4])),
		Parent: binary.LittleEndian.Uint32(data[4:8]),
		Children: [2]uint32{
			binary.LittleEndian.Uint32(data[8:12]),
			binary.LittleEndian.Uint32(data[12:16]),
		},
		Subvol: binary.LittleEndian.Uint32(data[16:20]),
		Pad:    binary.LittleEndian.Uint32(data[20:24]),
	}, nil
}

// ValidateSnapshotRow checks the row's structural invariants: key range,
// parent ordering, normalized and distinct children, and children strictly
// greater than their own id.
func ValidateSnapshotRow(id uint32, r SnapshotRow) error {
	if id < SnapshotIDMin || id > SnapshotIDMax {
		return fmt.Errorf("%w: snapshot id %d out of range", ErrInvalid, id)
	}
	if r.Parent != 0 && r.Parent >= id {
		return fmt.Errorf("%w: snapshot %d has parent %d >= own id", ErrInvalid, id, r.Parent)
	}
	if r.Children[0] < r.Children[1] {
		return fmt.Errorf("%w: snapshot %d children not normalized", ErrInvalid, id)
	}
	if r.Children[0] != 0 && r.Children[0] == r.Children[1] {
		return fmt.Errorf("%w: snapshot %d has duplicate child nodes", ErrInvalid, id)
	}
	for _, child := range r.Children {
		if child != 0 && child <= id {
			return fmt.Errorf("%w: snapshot %d has bad child node %d", ErrInvalid, id, child)
		}
	}
	return nil
}

// SubvolumeRow is the persistent row for one subvolume, keyed by
// subvolume_id.
type SubvolumeRow struct {
	Flags    SubvolumeFlag
	Snapshot uint32
	Inode    uint64
}

func (r SubvolumeRow) ReadOnly() bool   { return r.Flags&FlagReadOnly != 0 }
func (r SubvolumeRow) IsSnapshot() bool { return r.Flags&FlagIsSnapshot != 0 }

// Encode produces the 16-byte little-endian on-wire form.
func (r SubvolumeRow) Encode() []byte {
	buf := make([]byte, subvolumeRowSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Flags))
	binary.LittleEndian.PutUint32(buf[4:8], r.Snapshot)
	binary.LittleEndian.PutUint64(buf[8:16], r.Inode)
	return buf
}

// DecodeSubvolumeRow reverses SubvolumeRow.Encode.
func DecodeSubvolumeRow(data []byte) (SubvolumeRow, error) {
	if len(data) != subvolumeRowSize {
		return SubvolumeRow{}, fmt.Errorf("%w: bad subvolume row size %d", ErrInvalid, len(data))
	}
	return SubvolumeRow{
		Flags:    SubvolumeFlag(binary.LittleEndian.Uint32(data[0:4])),
		Snapshot: binary.LittleEndian.Uint32(data[4:8]),
		Inode:    binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

// ValidateSubvolumeRow checks that id falls within the reserved subvolume
// range and the row decodes to a fixed size (enforced by the caller via
// DecodeSubvolumeRow already; this additionally rejects out-of-range ids).
func ValidateSubvolumeRow(id uint32) error {
	if id < SubvolMin || id > SubvolMax {
		return fmt.Errorf("%w: subvolume id %d out of range", ErrInvalid, id)
	}
	return nil
}

// SnapshotRowString renders a snapshot row the way the engine's debug
// tooling expects: "is_subvol <0|1> deleted <0|1> parent <u32> children <u32> <u32> subvol <u32>".
func SnapshotRowString(r SnapshotRow) string {
	isSubvol := 0
	if r.IsSubvol() {
		isSubvol = 1
	}
	deleted := 0
	if r.IsDeleted() {
		deleted = 1
	}
	return fmt.Sprintf("is_subvol %d deleted %d parent %d children %d %d subvol %d",
		isSubvol, deleted, r.Parent, r.Children[0], r.Children[1], r.Subvol)
}

// SubvolumeRowString renders a subvolume row as "root <u64> snapshot id <u32>".
func SubvolumeRowString(r SubvolumeRow) string {
	return fmt.Sprintf("root %d snapshot id %d", r.Inode, r.Snapshot)
}
