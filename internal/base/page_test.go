package base

import (
	"flag"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ = flag.Bool("slow", false, "run slow tests")

func TestPageHeaderAlignment(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uintptr(8), unsafe.Sizeof(PageID(0)), "PageID Size")
	assert.Equal(t, uintptr(PageHeaderSize), unsafe.Sizeof(PageHeader{}), "PageHeader Size")

	var h PageHeader
	assert.Equal(t, uintptr(0), unsafe.Offsetof(h.PageID), "PageID offset")
	assert.Equal(t, uintptr(8), unsafe.Offsetof(h.Flags), "Flags offset")
	assert.Equal(t, uintptr(12), unsafe.Offsetof(h.NumKeys), "NumKeys offset")
	assert.Equal(t, uintptr(16), unsafe.Offsetof(h.TxnID), "TxnID offset")
}

func TestPageHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	var page Page

	writeHdr := PageHeader{
		PageID:  42,
		Flags:   LeafPageFlag,
		NumKeys: 10,
		TxnID:   123,
	}
	page.WriteHeader(&writeHdr)

	readHdr := page.Header()

	assert.Equal(t, writeHdr.PageID, readHdr.PageID, "PageID")
	assert.Equal(t, writeHdr.Flags, readHdr.Flags, "Flags")
	assert.Equal(t, writeHdr.NumKeys, readHdr.NumKeys, "NumKeys")
	assert.Equal(t, writeHdr.TxnID, readHdr.TxnID, "TxnID")
}

func TestPageHeaderByteLayout(t *testing.T) {
	t.Parallel()

	var page Page

	hdr := PageHeader{
		PageID:  0x0123456789ABCDEF, // 8 bytes
		Flags:   0x12345678,         // 4 bytes
		NumKeys: 0x9ABCDEF0,         // 4 bytes
		TxnID:   0x1122334455667788, // 8 bytes
	}
	page.WriteHeader(&hdr)

	expected := []byte{
		// PageID (8 bytes, little-endian)
		0xEF, 0xCD, 0xAB, 0x89, 0x67, 0x45, 0x23, 0x01,
		// Flags (4 bytes, little-endian)
		0x78, 0x56, 0x34, 0x12,
		// NumKeys (4 bytes, little-endian)
		0xF0, 0xDE, 0xBC, 0x9A,
		// TxnID (8 bytes, little-endian)
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
	}

	for i, expectedByte := range expected {
		assert.Equal(t, expectedByte, page.Data[i], "byte[%d]", i)
	}
}

func TestLeafElementAlignment(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uintptr(LeafElementSize), unsafe.Sizeof(LeafElement{}), "LeafElement Size")
}

func TestLeafElementByteLayout(t *testing.T) {
	t.Parallel()

	var page Page

	header := PageHeader{PageID: 1, Flags: LeafPageFlag, NumKeys: 1}
	page.WriteHeader(&header)

	elem := LeafElement{
		KVOffset:  0x1234, // 2 bytes
		KeySize:   0x5678, // 2 bytes
		ValueSize: 0x9ABC, // 2 bytes
		Reserved:  0xDEF0, // 2 bytes
	}
	page.WriteLeafElement(0, &elem)

	offset := PageHeaderSize
	expected := []byte{
		// KVOffset (2 bytes, little-endian)
		0x34, 0x12,
		// KeySize (2 bytes, little-endian)
		0x78, 0x56,
		// ValueSize (2 bytes, little-endian)
		0xBC, 0x9A,
		// Reserved (2 bytes, little-endian)
		0xF0, 0xDE,
	}

	for i, expectedByte := range expected {
		assert.Equal(t, expectedByte, page.Data[offset+i], "byte[%d]", offset+i)
	}
}

func TestLeafElementRoundTrip(t *testing.T) {
	t.Parallel()

	var page Page

	header := PageHeader{PageID: 1, Flags: LeafPageFlag, NumKeys: 2}
	page.WriteHeader(&header)

	elem1 := LeafElement{KVOffset: 0, KeySize: 5, ValueSize: 10}
	page.WriteLeafElement(0, &elem1)

	elem2 := LeafElement{KVOffset: 15, KeySize: 3, ValueSize: 7}
	page.WriteLeafElement(1, &elem2)

	elements := page.LeafElements()
	require.Len(t, elements, 2)

	assert.Equal(t, elem1.KVOffset, elements[0].KVOffset, "elem[0].KVOffset")
	assert.Equal(t, elem1.KeySize, elements[0].KeySize, "elem[0].KeySize")
	assert.Equal(t, elem1.ValueSize, elements[0].ValueSize, "elem[0].ValueSize")

	assert.Equal(t, elem2.KVOffset, elements[1].KVOffset, "elem[1].KVOffset")
	assert.Equal(t, elem2.KeySize, elements[1].KeySize, "elem[1].KeySize")
}

func TestBranchElementAlignment(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uintptr(BranchElementSize), unsafe.Sizeof(BranchElement{}), "BranchElement Size")
}

func TestBranchElementByteLayout(t *testing.T) {
	t.Parallel()

	var page Page

	header := PageHeader{PageID: 1, Flags: BranchPageFlag, NumKeys: 1}
	page.WriteHeader(&header)

	elem := BranchElement{
		KeyOffset: 0x1234,             // 2 bytes
		KeySize:   0x5678,             // 2 bytes
		Reserved:  0x9ABCDEF0,         // 4 bytes
		ChildID:   0x0123456789ABCDEF, // 8 bytes
	}
	page.WriteBranchElement(0, &elem)

	offset := PageHeaderSize
	expected := []byte{
		// KeyOffset (2 bytes, little-endian)
		0x34, 0x12,
		// KeySize (2 bytes, little-endian)
		0x78, 0x56,
		// Reserved (4 bytes, little-endian)
		0xF0, 0xDE, 0xBC, 0x9A,
		// ChildID (8 bytes, little-endian)
		0xEF, 0xCD, 0xAB, 0x89, 0x67, 0x45, 0x23, 0x01,
	}

	for i, expectedByte := range expected {
		assert.Equal(t, expectedByte, page.Data[offset+i], "byte[%d]", offset+i)
	}
}

func TestBranchElementRoundTrip(t *testing.T) {
	t.Parallel()

	var page Page

	header := PageHeader{PageID: 1, Flags: BranchPageFlag, NumKeys: 2}
	page.WriteHeader(&header)

	elem1 := BranchElement{KeyOffset: 8, KeySize: 5, ChildID: 100}
	page.WriteBranchElement(0, &elem1)

	elem2 := BranchElement{KeyOffset: 13, KeySize: 3, ChildID: 200}
	page.WriteBranchElement(1, &elem2)

	elements := page.BranchElements()
	require.Len(t, elements, 2)

	assert.Equal(t, elem1.KeyOffset, elements[0].KeyOffset, "elem[0].KeyOffset")
	assert.Equal(t, elem1.KeySize, elements[0].KeySize, "elem[0].KeySize")
	assert.Equal(t, elem1.ChildID, elements[0].ChildID, "elem[0].ChildID")

	assert.Equal(t, elem2.KeyOffset, elements[1].KeyOffset, "elem[1].KeyOffset")
	assert.Equal(t, elem2.KeySize, elements[1].KeySize, "elem[1].KeySize")
	assert.Equal(t, elem2.ChildID, elements[1].ChildID, "elem[1].ChildID")
}

func TestBranchFirstChildRoundTrip(t *testing.T) {
	t.Parallel()

	var page Page

	header := PageHeader{PageID: 1, Flags: BranchPageFlag, NumKeys: 0}
	page.WriteHeader(&header)

	childID := PageID(42)
	page.WriteBranchFirstChild(childID)

	readChildID := page.ReadBranchFirstChild()
	assert.Equal(t, childID, readChildID, "ChildID")
}

func TestDataAreaStart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		flags    uint32
		numKeys  uint32
		expected int
	}{
		{
			name:     "leaf with 0 keys",
			flags:    LeafPageFlag,
			numKeys:  0,
			expected: PageHeaderSize,
		},
		{
			name:     "leaf with 10 keys",
			flags:    LeafPageFlag,
			numKeys:  10,
			expected: PageHeaderSize + 10*LeafElementSize,
		},
		{
			name:     "branch with 0 keys",
			flags:    BranchPageFlag,
			numKeys:  0,
			expected: PageHeaderSize + 8,
		},
		{
			name:     "branch with 5 keys",
			flags:    BranchPageFlag,
			numKeys:  5,
			expected: PageHeaderSize + 5*BranchElementSize + 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var page Page
			header := PageHeader{PageID: 1, Flags: tt.flags, NumKeys: tt.numKeys}
			page.WriteHeader(&header)

			dataStart := page.dataAreaStart()
			assert.Equal(t, tt.expected, dataStart, "dataAreaStart()")
		})
	}
}

func TestGetKeyValue(t *testing.T) {
	t.Parallel()

	var page Page

	header := PageHeader{PageID: 1, Flags: LeafPageFlag, NumKeys: 1}
	page.WriteHeader(&header)

	dataStart := page.dataAreaStart()

	elem := LeafElement{
		KVOffset:  uint16(dataStart),
		KeySize:   5,
		ValueSize: 10,
	}
	page.WriteLeafElement(0, &elem)

	key := []byte("hello")
	value := []byte("world12345")
	copy(page.Data[dataStart:], key)
	copy(page.Data[dataStart+5:], value)

	readKey, err := page.GetKey(elem.KVOffset, elem.KeySize)
	require.NoError(t, err, "GetKey()")
	readValue, err := page.GetValue(elem.KVOffset+elem.KeySize, elem.ValueSize)
	require.NoError(t, err, "GetValue()")

	assert.Equal(t, string(key), string(readKey), "GetKey()")
	assert.Equal(t, string(value), string(readValue), "GetValue()")
}

func TestGetKeyValueBoundsChecking(t *testing.T) {
	t.Parallel()

	var page Page

	header := PageHeader{PageID: 1, Flags: LeafPageFlag, NumKeys: 1}
	page.WriteHeader(&header)

	dataStart := page.dataAreaStart()

	tests := []struct {
		name    string
		offset  uint16
		size    uint16
		wantErr bool
	}{
		{
			name:    "valid key at data start",
			offset:  uint16(dataStart),
			size:    10,
			wantErr: false,
		},
		{
			name:    "key extends beyond page",
			offset:  uint16(PageSize - 5),
			size:    10,
			wantErr: true,
		},
		{
			name:    "offset too large",
			offset:  uint16(PageSize),
			size:    1,
			wantErr: true,
		},
		{
			name:    "zero size at data start",
			offset:  uint16(dataStart),
			size:    0,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := page.GetKey(tt.offset, tt.size)
			if tt.wantErr {
				assert.Error(t, err, "GetKey()")
			} else {
				assert.NoError(t, err, "GetKey()")
			}
		})
	}
}
