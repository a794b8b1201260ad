package bmindex

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/storage"
)

// maxValueTupleSize is the largest key tuple a value page can hold.
const maxValueTupleSize = common.PageSize - storage.PageHeaderSize - specialSize - 4

// valueObservation records what a share-locked scan of the value chain saw at its tail. An append is only valid
// if the tail is unchanged when the meta page is locked exclusively.
type valueObservation struct {
	tail      common.BlockNumber
	maxOffset storage.OffsetNumber
	count     int
}

// findOrdinal walks the value chain looking for keys. It returns the matching ordinal, or found=false together
// with what the scan observed at the tail.
func (ix *Index) findOrdinal(keys []common.Value) (ordinal int, found bool, obs valueObservation, err error) {
	blk := firstValueBlock
	for blk.IsValid() {
		frame, err := ix.readBuffer(blk)
		if err != nil {
			return 0, false, obs, err
		}
		storage.LockBuffer(frame, storage.LockModeShare)
		p := frame.Page()
		if err := checkPage(p, blk, PageKindValue); err != nil {
			ix.release(frame, storage.LockModeShare)
			return 0, false, obs, err
		}
		sp := storage.AsSlottedPage(p)
		maxOff := sp.MaxOffset()
		for off := storage.FirstOffsetNumber; off <= maxOff; off++ {
			item, ok := sp.Item(off)
			if !ok {
				ix.release(frame, storage.LockModeShare)
				return 0, false, obs, common.NewError(common.CorruptPageError, "value page %s: bad item %d", blk, off)
			}
			match, err := ix.desc.Matches(item, keys)
			if err != nil {
				ix.release(frame, storage.LockModeShare)
				return 0, false, obs, errors.Wrapf(err, "value page %s item %d", blk, off)
			}
			if match {
				ix.release(frame, storage.LockModeShare)
				return obs.count, true, obs, nil
			}
			obs.count++
		}
		obs.tail = blk
		obs.maxOffset = maxOff
		blk = nextBlock(p)
		ix.release(frame, storage.LockModeShare)
	}
	return 0, false, obs, nil
}

// appendDistinctValue registers keys as a new distinct value and returns its ordinal. It serializes on the meta
// page's exclusive lock and fails with ConcurrentInsertError if the value chain changed since obs was taken; the
// caller then retries the lookup. The key tuple, any new value page, and the meta update are one logged unit.
func (ix *Index) appendDistinctValue(keys []common.Value, obs valueObservation, arena *Arena) (int, error) {
	size := ix.desc.TupleSize(keys)
	if size > maxValueTupleSize {
		return 0, errors.Newf("index %s: key of %d bytes exceeds the maximum of %d", ix.def.Name, size,
			maxValueTupleSize)
	}
	tup, err := ix.desc.AppendTuple(arena.Alloc(size)[:0], keys)
	if err != nil {
		return 0, err
	}

	metaFrame, err := ix.readBuffer(metaBlock)
	if err != nil {
		return 0, err
	}
	storage.LockBuffer(metaFrame, storage.LockModeExclusive)
	defer ix.release(metaFrame, storage.LockModeExclusive)
	meta := metaPage{metaFrame.Page()}
	if err := meta.validate(); err != nil {
		return 0, err
	}
	if meta.valueChainEnd() != obs.tail {
		return 0, common.NewError(common.ConcurrentInsertError, "value chain tail moved from %s to %s", obs.tail,
			meta.valueChainEnd())
	}

	tailFrame, err := ix.readBuffer(obs.tail)
	if err != nil {
		return 0, err
	}
	storage.LockBuffer(tailFrame, storage.LockModeExclusive)
	defer ix.release(tailFrame, storage.LockModeExclusive)
	if err := checkPage(tailFrame.Page(), obs.tail, PageKindValue); err != nil {
		return 0, err
	}
	if got := storage.AsSlottedPage(tailFrame.Page()).MaxOffset(); got != obs.maxOffset {
		return 0, common.NewError(common.ConcurrentInsertError, "value page %s grew from %d to %d items", obs.tail,
			obs.maxOffset, got)
	}
	if n := meta.distinctCount(); n != obs.count {
		return 0, common.NewError(common.CorruptPageError, "value chain holds %d values but meta page counts %d",
			obs.count, n)
	}
	if n := meta.distinctCount(); n >= MaxDistinct {
		ix.logger.Warn("too many distinct values, new value not indexed",
			zap.Int("distinctCount", n), zap.Int("maxDistinct", MaxDistinct))
		return 0, common.NewError(common.CapacityExceededError, "index %s already holds %d distinct values",
			ix.def.Name, n)
	}

	x := storage.StartGenericXLog(ix.lm)
	wmeta := metaPage{x.RegisterBuffer(metaFrame, 0)}
	wtail := storage.AsSlottedPage(x.RegisterBuffer(tailFrame, 0))
	chainEnd := obs.tail
	if _, ok := wtail.AddItem(tup); !ok {
		newFrame, err := ix.newBuffer()
		if err != nil {
			x.Abort()
			return 0, err
		}
		defer ix.release(newFrame, storage.LockModeExclusive)
		np := x.RegisterBuffer(newFrame, storage.GenericXLogFullImage)
		initPage(np, PageKindValue)
		if _, ok := storage.AsSlottedPage(np).AddItem(tup); !ok {
			x.Abort()
			return 0, common.NewError(common.CorruptPageError, "key tuple of %d bytes does not fit an empty value page",
				len(tup))
		}
		chainEnd = newFrame.Block()
		setNextBlock(wtail.Page, chainEnd)
	}
	ordinal, err := wmeta.growDistinctCount(chainEnd)
	if err != nil {
		x.Abort()
		return 0, err
	}
	if _, err := x.Finish(); err != nil {
		return 0, err
	}
	return ordinal, nil
}

// resolveOrdinal finds the ordinal of keys, registering them as a new distinct value if create is set and they are
// not yet known. The lookup and append are retried until the append sees the chain it scanned.
func (ix *Index) resolveOrdinal(keys []common.Value, create bool, arena *Arena) (int, bool, error) {
	if len(keys) != ix.desc.NumAttrs() {
		return 0, false, errors.Newf("index %s has %d key columns, got %d values", ix.def.Name, ix.desc.NumAttrs(),
			len(keys))
	}
	for i, k := range keys {
		if want := ix.desc.Types()[i]; k.Type() != want {
			return 0, false, errors.Newf("index %s key column %d has type %s, got %s", ix.def.Name, i+1, want,
				k.Type())
		}
	}
	for {
		ordinal, found, obs, err := ix.findOrdinal(keys)
		if err != nil || found || !create {
			return ordinal, found, err
		}
		ordinal, err = ix.appendDistinctValue(keys, obs, arena)
		if common.IsError(err, common.ConcurrentInsertError) {
			ix.logger.Debug("concurrent distinct value insert, retrying", zap.Error(err))
			continue
		}
		if err != nil {
			return 0, false, err
		}
		return ordinal, true, nil
	}
}
