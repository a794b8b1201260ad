package storage

import (
	"encoding/binary"

	"mit.edu/dsg/bmindex/common"
)

// SlottedPage Layout:
// Header (16) | line pointers (4 each, growing up) | free space | items (growing down) | special area
//
// A line pointer is Offset (2) | Length (2). Offsets are 1-based: the first item is at offset 1.
type SlottedPage struct {
	Page
}

const itemIDSize = 4

// OffsetNumber addresses an item on a slotted page, starting at 1.
type OffsetNumber uint16

const FirstOffsetNumber OffsetNumber = 1

// AsSlottedPage views an initialized page as a slotted page.
func AsSlottedPage(p Page) SlottedPage {
	common.Assert(!p.IsNew(), "slotted page is not initialized")
	return SlottedPage{Page: p}
}

// MaxOffset returns the offset of the last item, or 0 if the page has none.
func (sp SlottedPage) MaxOffset() OffsetNumber {
	return OffsetNumber((sp.Lower() - PageHeaderSize) / itemIDSize)
}

// FreeSpaceForItem returns how large an item could be added, accounting for its line pointer.
func (sp SlottedPage) FreeSpaceForItem() int {
	free := sp.FreeSpace() - itemIDSize
	if free < 0 {
		return 0
	}
	return free
}

// AddItem appends item after the last offset. It returns false if the item does not fit.
func (sp SlottedPage) AddItem(item []byte) (OffsetNumber, bool) {
	if len(item) == 0 || len(item) > sp.FreeSpaceForItem() {
		return 0, false
	}
	upper := sp.Upper() - len(item)
	copy(sp.Page[upper:], item)
	lower := sp.Lower()
	binary.LittleEndian.PutUint16(sp.Page[lower:], uint16(upper))
	binary.LittleEndian.PutUint16(sp.Page[lower+2:], uint16(len(item)))
	sp.SetLower(lower + itemIDSize)
	sp.SetUpper(upper)
	return sp.MaxOffset(), true
}

// Item returns the bytes of the item at off. The returned slice aliases the page.
func (sp SlottedPage) Item(off OffsetNumber) ([]byte, bool) {
	if off < FirstOffsetNumber || off > sp.MaxOffset() {
		return nil, false
	}
	lp := PageHeaderSize + int(off-1)*itemIDSize
	start := int(binary.LittleEndian.Uint16(sp.Page[lp:]))
	length := int(binary.LittleEndian.Uint16(sp.Page[lp+2:]))
	if start < sp.Upper() || start+length > sp.SpecialOffset() {
		return nil, false
	}
	return sp.Page[start : start+length], true
}
