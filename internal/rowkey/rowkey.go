// Package rowkey encodes the B-tree keys used by the snapshot and subvolume
// engine: fixed-width big-endian encodings so that byte order on the
// underlying B+tree matches numeric order.
package rowkey

import "encoding/binary"

// EncodeSnapshotID encodes a snapshot_id as a 4-byte big-endian key.
// Snapshot rows occupy key positions (0,1)...(0,U32_MAX-1) in the spec;
// the leading "0" position component is implicit here since the snapshot
// store lives in its own bucket.
func EncodeSnapshotID(id uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	return buf
}

// DecodeSnapshotID reverses EncodeSnapshotID.
func DecodeSnapshotID(key []byte) uint32 {
	return binary.BigEndian.Uint32(key)
}

// EncodeSubvolumeID encodes a subvolume_id as a 4-byte big-endian key.
func EncodeSubvolumeID(id uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	return buf
}

// DecodeSubvolumeID reverses EncodeSubvolumeID.
func DecodeSubvolumeID(key []byte) uint32 {
	return binary.BigEndian.Uint32(key)
}

// DataKey is the key shape of a snapshot-bearing B-tree: a non-snapshot
// position plus the snapshot id that version of the position belongs to.
// Real inode/dirent/extent keys additionally encode a field offset; callers
// that need that should treat Pos as opaque and pack it themselves.
type DataKey struct {
	Pos      uint64
	Snapshot uint32
}

// Encode packs a DataKey into 12 bytes, ordered so that all versions of the
// same position sort contiguously and the snapshot component breaks ties.
func (k DataKey) Encode() []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], k.Pos)
	binary.BigEndian.PutUint32(buf[8:12], k.Snapshot)
	return buf
}

// DecodeDataKey reverses DataKey.Encode.
func DecodeDataKey(key []byte) DataKey {
	return DataKey{
		Pos:      binary.BigEndian.Uint64(key[0:8]),
		Snapshot: binary.BigEndian.Uint32(key[8:12]),
	}
}

// SamePos reports whether two encoded data keys share the same non-snapshot
// position, i.e. differ only in their snapshot component.
func SamePos(a, b []byte) bool {
	if len(a) < 8 || len(b) < 8 {
		return false
	}
	for i := 0; i < 8; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
