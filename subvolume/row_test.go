package subvolume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRowEncodeDecodeRoundTrip(t *testing.T) {
	row := SnapshotRow{
		Flags:    FlagIsSubvol,
		Parent:   7,
		Children: [2]uint32{0, 0},
		Subvol:   3,
	}

	encoded := row.Encode()
	assert.Len(t, encoded, snapshotRowSize)

	decoded, err := DecodeSnapshotRow(encoded)
	require.NoError(t, err)
	assert.Equal(t, row.Flags, decoded.Flags)
	assert.Equal(t, row.Parent, decoded.Parent)
	assert.Equal(t, row.Children, decoded.Children)
	assert.Equal(t, row.Subvol, decoded.Subvol)
}

func TestDecodeSnapshotRowRejectsBadSize(t *testing.T) {
	_, err := DecodeSnapshotRow([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSnapshotRowFlags(t *testing.T) {
	row := SnapshotRow{Flags: FlagIsSubvol | FlagDeleted}
	assert.True(t, row.IsSubvol())
	assert.True(t, row.IsDeleted())

	row.Flags = 0
	assert.False(t, row.IsSubvol())
	assert.False(t, row.IsDeleted())
}

func TestValidateSnapshotRowRangeAndOrdering(t *testing.T) {
	assert.ErrorIs(t, ValidateSnapshotRow(0, SnapshotRow{}), ErrInvalid)
	assert.ErrorIs(t, ValidateSnapshotRow(SnapshotIDMax+1, SnapshotRow{}), ErrInvalid)

	// parent must be strictly less than own id
	assert.ErrorIs(t, ValidateSnapshotRow(5, SnapshotRow{Parent: 5}), ErrInvalid)
	assert.ErrorIs(t, ValidateSnapshotRow(5, SnapshotRow{Parent: 9}), ErrInvalid)
	assert.NoError(t, ValidateSnapshotRow(5, SnapshotRow{Parent: 4, Children: [2]uint32{7, 6}}))

	// children must be normalized, larger first
	assert.ErrorIs(t, ValidateSnapshotRow(5, SnapshotRow{Children: [2]uint32{6, 7}}), ErrInvalid)

	// children must be distinct when both set
	assert.ErrorIs(t, ValidateSnapshotRow(5, SnapshotRow{Children: [2]uint32{8, 8}}), ErrInvalid)

	// children must exceed own id
	assert.ErrorIs(t, ValidateSnapshotRow(5, SnapshotRow{Children: [2]uint32{5, 0}}), ErrInvalid)
	assert.ErrorIs(t, ValidateSnapshotRow(5, SnapshotRow{Children: [2]uint32{3, 0}}), ErrInvalid)
}

func TestSnapshotRowString(t *testing.T) {
	row := SnapshotRow{Flags: FlagIsSubvol, Parent: 1, Children: [2]uint32{0, 0}, Subvol: 2}
	assert.Equal(t, "is_subvol 1 deleted 0 parent 1 children 0 0 subvol 2", SnapshotRowString(row))
}

func TestSubvolumeRowEncodeDecodeRoundTrip(t *testing.T) {
	row := SubvolumeRow{Flags: FlagReadOnly, Snapshot: 9, Inode: 42}

	encoded := row.Encode()
	assert.Len(t, encoded, subvolumeRowSize)

	decoded, err := DecodeSubvolumeRow(encoded)
	require.NoError(t, err)
	assert.Equal(t, row, decoded)
}

func TestSubvolumeRowFlags(t *testing.T) {
	row := SubvolumeRow{Flags: FlagReadOnly | FlagIsSnapshot}
	assert.True(t, row.ReadOnly())
	assert.True(t, row.IsSnapshot())
}

func TestValidateSubvolumeRowRange(t *testing.T) {
	assert.ErrorIs(t, ValidateSubvolumeRow(0), ErrInvalid)
	assert.ErrorIs(t, ValidateSubvolumeRow(SubvolMax+1), ErrInvalid)
	assert.NoError(t, ValidateSubvolumeRow(SubvolMin))
}

func TestSubvolumeRowString(t *testing.T) {
	row := SubvolumeRow{Snapshot: 3, Inode: 100}
	assert.Equal(t, "root 100 snapshot id 3", SubvolumeRowString(row))
}
