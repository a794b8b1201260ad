package bmindex

import (
	"encoding/binary"

	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/storage"
)

// PageKind tags the three physical page kinds of a bitmap index.
type PageKind uint16

const (
	PageKindMeta PageKind = iota + 1
	PageKindValue
	PageKindBitmap
)

func (k PageKind) String() string {
	switch k {
	case PageKindMeta:
		return "meta"
	case PageKindValue:
		return "value"
	case PageKindBitmap:
		return "bitmap"
	}
	return "unknown"
}

// Special area layout, at the end of every index page:
// SlotCount (2) | Flags (2) | NextBlock (4) | PageKind (2) | padding (6)
const (
	specialSize            = 16
	specialOffsetSlotCount = 0
	specialOffsetFlags     = 2
	specialOffsetNextBlock = 4
	specialOffsetPageKind  = 8
)

const pageFlagDeleted uint16 = 0x0001

// pageOpaque is a view over a page's special area.
type pageOpaque []byte

func opaqueOf(p storage.Page) pageOpaque {
	return pageOpaque(p.Special())
}

func (o pageOpaque) slotCount() int {
	return int(binary.LittleEndian.Uint16(o[specialOffsetSlotCount:]))
}

func (o pageOpaque) setSlotCount(n int) {
	binary.LittleEndian.PutUint16(o[specialOffsetSlotCount:], uint16(n))
}

func (o pageOpaque) flags() uint16 {
	return binary.LittleEndian.Uint16(o[specialOffsetFlags:])
}

func (o pageOpaque) nextBlock() common.BlockNumber {
	return common.BlockNumber(binary.LittleEndian.Uint32(o[specialOffsetNextBlock:]))
}

func (o pageOpaque) setNextBlock(blk common.BlockNumber) {
	binary.LittleEndian.PutUint32(o[specialOffsetNextBlock:], uint32(blk))
}

func (o pageOpaque) kind() PageKind {
	return PageKind(binary.LittleEndian.Uint16(o[specialOffsetPageKind:]))
}

// initPage lays out an empty page of the given kind: no slots, no successor, not deleted.
func initPage(p storage.Page, kind PageKind) {
	storage.InitPage(p, specialSize)
	o := opaqueOf(p)
	o.setSlotCount(0)
	o.setNextBlock(common.InvalidBlockNumber)
	binary.LittleEndian.PutUint16(o[specialOffsetPageKind:], uint16(kind))
}

// freeSpace returns the bytes left between the page contents and the special area.
func freeSpace(p storage.Page) int {
	return p.FreeSpace()
}

func markDeleted(p storage.Page) {
	o := opaqueOf(p)
	binary.LittleEndian.PutUint16(o[specialOffsetFlags:], o.flags()|pageFlagDeleted)
}

func isDeleted(p storage.Page) bool {
	return opaqueOf(p).flags()&pageFlagDeleted != 0
}

func nextBlock(p storage.Page) common.BlockNumber {
	return opaqueOf(p).nextBlock()
}

func setNextBlock(p storage.Page, blk common.BlockNumber) {
	opaqueOf(p).setNextBlock(blk)
}

// pageKindOf returns the kind tag of an initialized page, or 0 for a new one.
func pageKindOf(p storage.Page) PageKind {
	if p.IsNew() || p.SpecialOffset() != common.PageSize-specialSize {
		return 0
	}
	return opaqueOf(p).kind()
}

// checkPage verifies that block blk holds an initialized page of the expected kind.
func checkPage(p storage.Page, blk common.BlockNumber, want PageKind) error {
	if p.IsNew() {
		return common.NewError(common.CorruptPageError, "block %s is not initialized, expected a %s page", blk, want)
	}
	if !p.Validate() || p.SpecialOffset() != common.PageSize-specialSize {
		return common.NewError(common.CorruptPageError, "block %s has a malformed page header", blk)
	}
	if got := opaqueOf(p).kind(); got != want {
		return common.NewError(common.CorruptPageError, "block %s is a %s page, expected a %s page", blk, got, want)
	}
	if want == PageKindBitmap {
		n := opaqueOf(p).slotCount()
		if n > MaxBitmapTuplesPerPage || p.Lower() != storage.PageHeaderSize+n*BitmapTupleSize {
			return common.NewError(common.CorruptPageError, "bitmap page %s holds %d tuples but its contents end at %d",
				blk, n, p.Lower())
		}
	}
	return nil
}
