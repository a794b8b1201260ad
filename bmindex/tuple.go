package bmindex

import (
	"encoding/binary"
	"iter"

	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/storage"
)

// Bitmap tuple layout:
// HeapBlock (4) | Words (4 * bitmapWords)
//
// Bit i of the vector stands for slot i+1 of the heap block.
const (
	bitmapWords = (common.MaxHeapTuplesPerPage + 31) / 32

	// BitmapTupleSize is the on-page size of one bitmap tuple.
	BitmapTupleSize = 4 + 4*bitmapWords

	// MaxBitmapTuplesPerPage is how many bitmap tuples fit on one bitmap page.
	MaxBitmapTuplesPerPage = (common.PageSize - storage.PageHeaderSize - specialSize) / BitmapTupleSize
)

// BitmapTuple records which slots of one heap block hold a distinct value. It is a view over BitmapTupleSize bytes,
// either on a page or in scratch memory.
type BitmapTuple []byte

// FormTuple builds the tuple for a single row.
func FormTuple(rid common.RowID) (BitmapTuple, error) {
	t := make(BitmapTuple, BitmapTupleSize)
	if err := formTupleInto(t, rid); err != nil {
		return nil, err
	}
	return t, nil
}

func formTupleInto(t BitmapTuple, rid common.RowID) error {
	if !rid.IsValid() {
		return common.NewError(common.InvalidRowIDError, "row %s: slot must be in [1, %d]", rid,
			common.MaxHeapTuplesPerPage)
	}
	clear(t)
	binary.LittleEndian.PutUint32(t, uint32(rid.Block))
	t.bits().SetBit(int(rid.Slot)-1, true)
	return nil
}

// HeapBlock is the heap block this tuple describes.
func (t BitmapTuple) HeapBlock() common.BlockNumber {
	return common.BlockNumber(binary.LittleEndian.Uint32(t))
}

func (t BitmapTuple) bits() storage.Bitmap {
	return storage.AsBitmap(t[4:BitmapTupleSize], common.MaxHeapTuplesPerPage)
}

// Word returns the i-th 32-bit word of the bit vector.
func (t BitmapTuple) Word(i int) uint32 {
	return t.bits().Word32(i)
}

// Merge ORs other's bits into t. Both must describe the same heap block.
func (t BitmapTuple) Merge(other BitmapTuple) {
	common.Assert(t.HeapBlock() == other.HeapBlock(), "merging tuples of heap blocks %s and %s", t.HeapBlock(),
		other.HeapBlock())
	t.bits().Or(other.bits())
}

// IsEmpty reports whether no slot is set.
func (t BitmapTuple) IsEmpty() bool {
	return t.bits().IsZero()
}

// Contains reports whether slot is set.
func (t BitmapTuple) Contains(slot uint16) bool {
	return slot >= 1 && int(slot) <= common.MaxHeapTuplesPerPage && t.bits().LoadBit(int(slot)-1)
}

// clearSlot unsets a slot and reports whether it was set.
func (t BitmapTuple) clearSlot(slot uint16) bool {
	return t.bits().SetBit(int(slot)-1, false)
}

// NextRowIDFrom returns the first set row strictly after slot start. Pass 0 to start at the beginning.
func (t BitmapTuple) NextRowIDFrom(start uint16) (common.RowID, bool) {
	i := t.bits().NextSetBit(int(start))
	if i < 0 {
		return common.RowID{}, false
	}
	return common.RowID{Block: t.HeapBlock(), Slot: uint16(i + 1)}, true
}

// RowIDs yields every set row in ascending slot order.
func (t BitmapTuple) RowIDs() iter.Seq[common.RowID] {
	return func(yield func(common.RowID) bool) {
		for rid, ok := t.NextRowIDFrom(0); ok; rid, ok = t.NextRowIDFrom(rid.Slot) {
			if !yield(rid) {
				return
			}
		}
	}
}

// Count returns the number of set slots.
func (t BitmapTuple) Count() int {
	return t.bits().Count()
}

// Bitmap page helpers. Tuples are packed from the end of the page header, slotCount of them.

func bitmapTupleCount(p storage.Page) int {
	return opaqueOf(p).slotCount()
}

func bitmapTupleAt(p storage.Page, i int) BitmapTuple {
	off := storage.PageHeaderSize + i*BitmapTupleSize
	return BitmapTuple(p[off : off+BitmapTupleSize])
}

// MergeOrAppend merges tup into the page's tuple for the same heap block, or appends it if the page has none and
// there is room. It returns false if the page is full.
func MergeOrAppend(p storage.Page, tup BitmapTuple) bool {
	n := bitmapTupleCount(p)
	blk := tup.HeapBlock()
	for i := 0; i < n; i++ {
		if existing := bitmapTupleAt(p, i); existing.HeapBlock() == blk {
			existing.Merge(tup)
			return true
		}
	}
	if freeSpace(p) < BitmapTupleSize {
		return false
	}
	copy(bitmapTupleAt(p, n), tup)
	opaqueOf(p).setSlotCount(n + 1)
	p.SetLower(p.Lower() + BitmapTupleSize)
	return true
}

// removeBitmapTuple deletes tuple i, shifting the later ones down.
func removeBitmapTuple(p storage.Page, i int) {
	n := bitmapTupleCount(p)
	common.Assert(i >= 0 && i < n, "removing bitmap tuple %d of %d", i, n)
	start := storage.PageHeaderSize + i*BitmapTupleSize
	end := storage.PageHeaderSize + n*BitmapTupleSize
	copy(p[start:], p[start+BitmapTupleSize:end])
	clear(p[end-BitmapTupleSize : end])
	opaqueOf(p).setSlotCount(n - 1)
	p.SetLower(p.Lower() - BitmapTupleSize)
}

// copyBitmapTuples returns a private copy of the page's tuples.
func copyBitmapTuples(p storage.Page) []byte {
	n := bitmapTupleCount(p)
	return append([]byte(nil), p[storage.PageHeaderSize:storage.PageHeaderSize+n*BitmapTupleSize]...)
}
