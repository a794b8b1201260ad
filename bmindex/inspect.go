package bmindex

import (
	"github.com/cockroachdb/errors"

	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/storage"
)

// maxInspectChainHeads bounds how many chain heads MetaInfo reports.
const maxInspectChainHeads = 10

// MetaInfo is the diagnostic view of the meta page.
type MetaInfo struct {
	Magic         uint32
	DistinctCount int
	ValueChainEnd common.BlockNumber
	// ChainHeads holds the heads of the first few ordinals.
	ChainHeads []common.BlockNumber
}

// ValueItem is one key tuple on a value page.
type ValueItem struct {
	Offset storage.OffsetNumber
	Values []common.Value
}

// BitmapItem is one bitmap tuple on a bitmap page.
type BitmapItem struct {
	Offset    int
	HeapBlock common.BlockNumber
	Words     [bitmapWords]uint32
}

// MetaInfo returns the contents of the meta page.
func (ix *Index) MetaInfo() (MetaInfo, error) {
	snap, err := ix.readMetaSnapshot()
	if err != nil {
		return MetaInfo{}, errors.Wrapf(err, "index %s: inspect meta page", ix.def.Name)
	}
	heads := snap.ChainHeads
	if len(heads) > maxInspectChainHeads {
		heads = heads[:maxInspectChainHeads]
	}
	return MetaInfo{
		Magic:         snap.Magic,
		DistinctCount: snap.DistinctCount,
		ValueChainEnd: snap.ValueChainEnd,
		ChainHeads:    heads,
	}, nil
}

// inspectPage copies block blk after checking that it exists and has the wanted kind.
func (ix *Index) inspectPage(blk common.BlockNumber, minBlock common.BlockNumber, kind PageKind) (storage.Page, error) {
	numPages, err := ix.NumPages()
	if err != nil {
		return nil, err
	}
	if blk < minBlock || int(blk) >= numPages {
		return nil, common.NewError(common.InvalidBlockError, "block %s is not a %s page of index %s (%d pages)",
			blk, kind, ix.def.Name, numPages)
	}
	frame, err := ix.readBuffer(blk)
	if err != nil {
		return nil, err
	}
	storage.LockBuffer(frame, storage.LockModeShare)
	p := append(storage.Page(nil), frame.Page()...)
	ix.release(frame, storage.LockModeShare)
	if err := checkPage(p, blk, kind); err != nil {
		return nil, err
	}
	return p, nil
}

// ValuePageItems decodes the key tuples on value page blk, which must be at least block 1.
func (ix *Index) ValuePageItems(blk common.BlockNumber) ([]ValueItem, error) {
	p, err := ix.inspectPage(blk, firstValueBlock, PageKindValue)
	if err != nil {
		return nil, err
	}
	sp := storage.AsSlottedPage(p)
	items := make([]ValueItem, 0, sp.MaxOffset())
	for off := storage.FirstOffsetNumber; off <= sp.MaxOffset(); off++ {
		raw, ok := sp.Item(off)
		if !ok {
			return nil, common.NewError(common.CorruptPageError, "value page %s: bad item %d", blk, off)
		}
		values, err := ix.desc.DeformTuple(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "value page %s item %d", blk, off)
		}
		items = append(items, ValueItem{Offset: off, Values: values})
	}
	return items, nil
}

// BitmapPageItems lists the bitmap tuples on bitmap page blk, which must be at least block 2.
func (ix *Index) BitmapPageItems(blk common.BlockNumber) ([]BitmapItem, error) {
	p, err := ix.inspectPage(blk, firstValueBlock+1, PageKindBitmap)
	if err != nil {
		return nil, err
	}
	n := bitmapTupleCount(p)
	items := make([]BitmapItem, n)
	for i := range items {
		t := bitmapTupleAt(p, i)
		items[i].Offset = i + 1
		items[i].HeapBlock = t.HeapBlock()
		for w := range items[i].Words {
			items[i].Words[w] = t.Word(w)
		}
	}
	return items, nil
}
