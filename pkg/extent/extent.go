// Package extent manages the free space inside a mapped byte region.
//
// The region is carved into extents: half-open byte ranges. Allocation
// requests are rounded up to a configured granularity; extent offsets, and
// the lengths of free remainders left by a split, are not aligned to it.
// Every extent, free or allocated, carries an 8-byte
// header immediately before its usable bytes and an 8-byte footer
// immediately after, both encoding the usable size and a free bit. Adjacent
// extents can therefore be located by pointer arithmetic on the neighbour's
// footer/header, which is what lets Free coalesce in O(1) instead of
// rescanning the whole free list.
package extent

import "encoding/binary"

// headerSize and footerSize are the boundary-tag widths in bytes.
const (
	headerSize   = 8
	footerSize   = 8
	tagOverhead  = headerSize + footerSize
	freeBitMask  = uint64(1)
	sizeBitShift = 1
)

// Extent is a contiguous usable byte range inside the mapped region,
// identified by its offset from the start of the region and its usable
// length. Offset points at the first usable byte, i.e. just past the header.
type Extent struct {
	Offset uint64
	Length uint64
}

// End returns the offset one past the last usable byte.
func (e Extent) End() uint64 { return e.Offset + e.Length }

// putTag encodes size and the free bit into an 8-byte little-endian word.
func putTag(buf []byte, size uint64, free bool) {
	word := size << sizeBitShift
	if free {
		word |= freeBitMask
	}
	binary.LittleEndian.PutUint64(buf, word)
}

// readTag decodes a boundary tag written by putTag.
func readTag(buf []byte) (size uint64, free bool) {
	word := binary.LittleEndian.Uint64(buf)
	return word >> sizeBitShift, word&freeBitMask != 0
}
