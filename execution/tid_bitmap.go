package execution

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"mit.edu/dsg/bmindex/common"
)

// TIDBitmap is the result set of a bitmap index scan: a set of row identifiers that several scans can be combined
// into. Adding a row twice is harmless, so duplicates a chain may hold collapse here.
type TIDBitmap struct {
	bm *roaring64.Bitmap
}

func NewTIDBitmap() *TIDBitmap {
	return &TIDBitmap{bm: roaring64.New()}
}

// tidKey orders row identifiers by block, then slot.
func tidKey(rid common.RowID) uint64 {
	return uint64(rid.Block)<<16 | uint64(rid.Slot)
}

func tidFromKey(key uint64) common.RowID {
	return common.RowID{Block: common.BlockNumber(key >> 16), Slot: uint16(key)}
}

// Add adds one row.
func (tb *TIDBitmap) Add(rid common.RowID) {
	tb.bm.Add(tidKey(rid))
}

// AddRowIDs adds a batch of rows. It does not keep rids.
func (tb *TIDBitmap) AddRowIDs(rids []common.RowID) {
	keys := make([]uint64, len(rids))
	for i, rid := range rids {
		keys[i] = tidKey(rid)
	}
	tb.bm.AddMany(keys)
}

func (tb *TIDBitmap) Contains(rid common.RowID) bool {
	return tb.bm.Contains(tidKey(rid))
}

// Len returns the number of distinct rows in the set.
func (tb *TIDBitmap) Len() int {
	return int(tb.bm.GetCardinality())
}

// All yields the rows in row identifier order.
func (tb *TIDBitmap) All() iter.Seq[common.RowID] {
	return func(yield func(common.RowID) bool) {
		it := tb.bm.Iterator()
		for it.HasNext() {
			if !yield(tidFromKey(it.Next())) {
				return
			}
		}
	}
}

// RowIDs returns the rows in row identifier order.
func (tb *TIDBitmap) RowIDs() []common.RowID {
	out := make([]common.RowID, 0, tb.Len())
	for rid := range tb.All() {
		out = append(out, rid)
	}
	return out
}

// Intersect keeps only the rows also in other, as for an AND of two index conditions.
func (tb *TIDBitmap) Intersect(other *TIDBitmap) {
	tb.bm.And(other.bm)
}

// Union adds the rows of other, as for an OR of two index conditions.
func (tb *TIDBitmap) Union(other *TIDBitmap) {
	tb.bm.Or(other.bm)
}
