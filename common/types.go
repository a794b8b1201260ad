package common

import (
	"fmt"
	"math"
)

// PageSize is the size of every page in an index file, in bytes.
const PageSize = 8192

// MaxHeapTuplesPerPage bounds the row slots a single heap block can hold, which in turn fixes the width of the
// per-block bit vectors stored by the bitmap index.
const MaxHeapTuplesPerPage = 291

// ObjectID identifies a relation (an index file).
type ObjectID int32

// BlockNumber addresses a page within one relation.
type BlockNumber uint32

// InvalidBlockNumber terminates page chains and marks absent chain heads.
const InvalidBlockNumber BlockNumber = math.MaxUint32

// IsValid reports whether b addresses a real page.
func (b BlockNumber) IsValid() bool {
	return b != InvalidBlockNumber
}

func (b BlockNumber) String() string {
	if !b.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%d", uint32(b))
}

// PageID identifies a page across all relations served by one buffer pool.
type PageID struct {
	Oid     ObjectID
	PageNum int32
}

func (p PageID) String() string {
	return fmt.Sprintf("(%d, %d)", p.Oid, p.PageNum)
}

// Block returns the page number as a BlockNumber.
func (p PageID) Block() BlockNumber {
	return BlockNumber(p.PageNum)
}

// RowID identifies one row of the indexed table: a heap block and a 1-based slot within it.
type RowID struct {
	Block BlockNumber
	Slot  uint16
}

// IsValid reports whether the slot lies within the range a heap block can hold.
func (r RowID) IsValid() bool {
	return r.Block.IsValid() && r.Slot >= 1 && int(r.Slot) <= MaxHeapTuplesPerPage
}

// Less orders row identifiers by block, then slot.
func (r RowID) Less(o RowID) bool {
	if r.Block != o.Block {
		return r.Block < o.Block
	}
	return r.Slot < o.Slot
}

func (r RowID) String() string {
	return fmt.Sprintf("(%d,%d)", uint32(r.Block), r.Slot)
}

// LSN is a log sequence number. Zero means "never logged".
type LSN uint64

// InvalidLSN is the LSN of a page that no log record has touched.
const InvalidLSN LSN = 0
