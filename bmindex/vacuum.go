package bmindex

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/storage"
)

// DeletionCallback reports whether a row has been deleted from the table and its index references must go.
type DeletionCallback func(rid common.RowID) bool

// VacuumStats accumulates the results of BulkDelete and VacuumCleanup.
type VacuumStats struct {
	// NumPages is the length of the index file when the last pass ended.
	NumPages int
	// NumIndexTuples counts the row references that survived BulkDelete.
	NumIndexTuples int
	// TuplesRemoved counts row references cleared.
	TuplesRemoved int
	// PagesDeleted counts bitmap pages emptied and marked deleted.
	PagesDeleted int
	// PagesFreed counts deleted pages unlinked and handed to the free space map.
	PagesFreed int
}

// VacuumInfo describes the vacuum pass calling into the index.
type VacuumInfo struct {
	// AnalyzeOnly is set when the pass only gathers statistics; cleanup then does nothing.
	AnalyzeOnly bool
}

// BulkDelete clears the references of every row callback reports as deleted. Bitmap tuples left with no rows are
// removed from their page, and pages left with no tuples are marked deleted but stay linked until VacuumCleanup.
// Each page's changes are one logged unit. stats may be nil.
func (ix *Index) BulkDelete(ctx context.Context, stats *VacuumStats, callback DeletionCallback) (*VacuumStats, error) {
	if stats == nil {
		stats = &VacuumStats{}
	}
	snap, err := ix.readMetaSnapshot()
	if err != nil {
		return stats, errors.Wrapf(err, "index %s: bulk delete", ix.def.Name)
	}
	for ordinal := 0; ordinal < snap.DistinctCount; ordinal++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := ix.bulkDeleteChain(ordinal, stats, callback); err != nil {
			return stats, errors.Wrapf(err, "index %s: bulk delete ordinal %d", ix.def.Name, ordinal)
		}
	}
	if stats.NumPages, err = ix.NumPages(); err != nil {
		return stats, err
	}
	ix.logger.Debug("bulk delete done", zap.Int("tuplesRemoved", stats.TuplesRemoved),
		zap.Int("pagesDeleted", stats.PagesDeleted), zap.Int("numIndexTuples", stats.NumIndexTuples))
	return stats, nil
}

func (ix *Index) bulkDeleteChain(ordinal int, stats *VacuumStats, callback DeletionCallback) error {
	cur, err := ix.lockChainHead(ordinal, storage.LockModeExclusive)
	if err != nil || cur == nil {
		return err
	}
	for {
		if err := checkPage(cur.Page(), cur.Block(), PageKindBitmap); err != nil {
			ix.release(cur, storage.LockModeExclusive)
			return err
		}
		if !isDeleted(cur.Page()) {
			if err := ix.bulkDeletePage(cur, stats, callback); err != nil {
				ix.release(cur, storage.LockModeExclusive)
				return err
			}
		}
		next := nextBlock(cur.Page())
		if !next.IsValid() {
			ix.release(cur, storage.LockModeExclusive)
			return nil
		}
		nextFrame, err := ix.readBuffer(next)
		if err != nil {
			ix.release(cur, storage.LockModeExclusive)
			return err
		}
		storage.LockBuffer(nextFrame, storage.LockModeExclusive)
		ix.release(cur, storage.LockModeExclusive)
		cur = nextFrame
	}
}

// bulkDeletePage vacuums one exclusively locked page. Nothing is logged if no row on it was deleted.
func (ix *Index) bulkDeletePage(frame *storage.PageFrame, stats *VacuumStats, callback DeletionCallback) error {
	x := storage.StartGenericXLog(ix.lm)
	p := x.RegisterBuffer(frame, 0)
	changed := false
	for i := 0; i < bitmapTupleCount(p); {
		t := bitmapTupleAt(p, i)
		for rid, ok := t.NextRowIDFrom(0); ok; rid, ok = t.NextRowIDFrom(rid.Slot) {
			if callback(rid) {
				t.clearSlot(rid.Slot)
				stats.TuplesRemoved++
				changed = true
			} else {
				stats.NumIndexTuples++
			}
		}
		if t.IsEmpty() {
			removeBitmapTuple(p, i)
			changed = true
			continue
		}
		i++
	}
	if bitmapTupleCount(p) == 0 {
		markDeleted(p)
		stats.PagesDeleted++
		changed = true
	}
	if !changed {
		x.Abort()
		return nil
	}
	_, err := x.Finish()
	return err
}

// VacuumCleanup unlinks every page BulkDelete marked deleted and records it in the free space map. A page is only
// unlinked if no other goroutine has it pinned; otherwise it stays for a later pass. stats may be nil, as when no
// BulkDelete ran.
func (ix *Index) VacuumCleanup(ctx context.Context, info VacuumInfo, stats *VacuumStats) (*VacuumStats, error) {
	if info.AnalyzeOnly {
		return stats, nil
	}
	if stats == nil {
		stats = &VacuumStats{}
	}
	snap, err := ix.readMetaSnapshot()
	if err != nil {
		return stats, errors.Wrapf(err, "index %s: vacuum cleanup", ix.def.Name)
	}
	for ordinal := 0; ordinal < snap.DistinctCount; ordinal++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := ix.cleanupChain(ordinal, stats); err != nil {
			return stats, errors.Wrapf(err, "index %s: vacuum cleanup ordinal %d", ix.def.Name, ordinal)
		}
	}
	if stats.NumPages, err = ix.NumPages(); err != nil {
		return stats, err
	}
	dropped := ix.fsm.Vacuum(stats.NumPages)
	ix.logger.Debug("vacuum cleanup done", zap.Int("pagesFreed", stats.PagesFreed),
		zap.Int("numPages", stats.NumPages), zap.Int("freeSpaceEntriesDropped", dropped))
	return stats, nil
}

// cleanupChain walks ordinal's chain keeping its predecessor locked: the meta page for the head, otherwise the
// previous live page. A deleted page is unlinked from that predecessor under a cleanup lock.
func (ix *Index) cleanupChain(ordinal int, stats *VacuumStats) error {
	metaFrame, err := ix.readBuffer(metaBlock)
	if err != nil {
		return err
	}
	storage.LockBuffer(metaFrame, storage.LockModeExclusive)
	if err := (metaPage{metaFrame.Page()}).validate(); err != nil {
		ix.release(metaFrame, storage.LockModeExclusive)
		return err
	}
	prev, prevIsMeta := metaFrame, true
	defer func() { ix.release(prev, storage.LockModeExclusive) }()

	blk := (metaPage{metaFrame.Page()}).chainHead(ordinal)
	for blk.IsValid() {
		cur, err := ix.readBuffer(blk)
		if err != nil {
			return err
		}
		storage.LockBuffer(cur, storage.LockModeExclusive)
		p := cur.Page()
		if err := checkPage(p, blk, PageKindBitmap); err != nil {
			ix.release(cur, storage.LockModeExclusive)
			return err
		}
		next := nextBlock(p)

		if isDeleted(p) && cur.PinCount() == 1 {
			x := storage.StartGenericXLog(ix.lm)
			pp := x.RegisterBuffer(prev, 0)
			if prevIsMeta {
				metaPage{pp}.setChainHead(ordinal, next)
			} else {
				setNextBlock(pp, next)
			}
			if _, err := x.Finish(); err != nil {
				ix.release(cur, storage.LockModeExclusive)
				return err
			}
			ix.release(cur, storage.LockModeExclusive)
			ix.fsm.RecordFreePage(blk)
			stats.PagesFreed++
		} else {
			ix.release(prev, storage.LockModeExclusive)
			prev, prevIsMeta = cur, false
		}
		blk = next
	}
	return nil
}

// RebuildFreeSpace scans the index file for bitmap pages that no chain reaches and that are new or deleted, and
// records them in the free space map. Such pages are left behind by a crash between extending the file and logging
// the page, or by a crash before cleanup recorded an unlinked page. It must run before the index is used
// concurrently. It returns the number of pages recorded.
func (ix *Index) RebuildFreeSpace() (int, error) {
	reachable := map[common.BlockNumber]struct{}{metaBlock: {}}
	for blk := firstValueBlock; blk.IsValid(); {
		reachable[blk] = struct{}{}
		frame, err := ix.readBuffer(blk)
		if err != nil {
			return 0, err
		}
		storage.LockBuffer(frame, storage.LockModeShare)
		next := nextBlock(frame.Page())
		err = checkPage(frame.Page(), blk, PageKindValue)
		ix.release(frame, storage.LockModeShare)
		if err != nil {
			return 0, err
		}
		blk = next
	}
	snap, err := ix.readMetaSnapshot()
	if err != nil {
		return 0, err
	}
	for ordinal := 0; ordinal < snap.DistinctCount; ordinal++ {
		blocks, err := ix.ChainBlocks(ordinal)
		if err != nil {
			return 0, err
		}
		for _, blk := range blocks {
			reachable[blk] = struct{}{}
		}
	}

	numPages, err := ix.NumPages()
	if err != nil {
		return 0, err
	}
	recorded := 0
	for blk := common.BlockNumber(0); int(blk) < numPages; blk++ {
		if _, ok := reachable[blk]; ok {
			continue
		}
		frame, err := ix.readBuffer(blk)
		if err != nil {
			return recorded, err
		}
		storage.LockBuffer(frame, storage.LockModeShare)
		p := frame.Page()
		free := p.IsNew() || (pageKindOf(p) == PageKindBitmap && isDeleted(p))
		ix.release(frame, storage.LockModeShare)
		if free {
			ix.fsm.RecordFreePage(blk)
			recorded++
		}
	}
	return recorded, nil
}
