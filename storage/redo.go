package storage

import (
	"github.com/cockroachdb/errors"

	"mit.edu/dsg/bmindex/common"
)

// RedoStats summarizes a recovery pass.
type RedoStats struct {
	Records      int
	PagesApplied int
	PagesSkipped int
}

// Redo replays every durable record in lm against the pages managed by bp. A page image is applied only when the
// page's LSN is older than the record, so running Redo twice is harmless. Pages past the end of their file are
// allocated first.
func Redo(lm LogManager, bp *BufferPool) (RedoStats, error) {
	var stats RedoStats
	records, err := lm.Records()
	if err != nil {
		return stats, errors.Wrap(err, "read log for redo")
	}
	for _, rec := range records {
		stats.Records++
		for _, img := range rec.Pages {
			applied, err := redoPage(bp, rec.LSN, img)
			if err != nil {
				return stats, errors.Wrapf(err, "redo record %d page %s", rec.LSN, img.PageID)
			}
			if applied {
				stats.PagesApplied++
			} else {
				stats.PagesSkipped++
			}
		}
	}
	return stats, nil
}

func redoPage(bp *BufferPool, lsn common.LSN, img PageImage) (bool, error) {
	file, err := bp.StorageManager().GetDBFile(img.PageID.Oid)
	if err != nil {
		return false, err
	}
	numPages, err := file.NumPages()
	if err != nil {
		return false, err
	}
	if missing := int(img.PageID.PageNum) + 1 - numPages; missing > 0 {
		if _, err := file.AllocatePage(missing); err != nil {
			return false, err
		}
	}

	frame, err := bp.GetPage(img.PageID)
	if err != nil {
		return false, err
	}
	defer bp.UnpinPage(frame, false)
	frame.PageLatch.Lock()
	defer frame.PageLatch.Unlock()

	if frame.LSN() >= lsn {
		return false, nil
	}
	if img.FullImage {
		if len(img.Data) != common.PageSize {
			return false, common.NewError(common.CorruptPageError, "full page image has %d bytes", len(img.Data))
		}
		copy(frame.Bytes[:], img.Data)
	} else if err := applyDelta(frame.Bytes[:], img.Data); err != nil {
		return false, err
	}
	frame.MonotonicallyUpdateLSN(lsn)
	frame.MarkDirty()
	return true, nil
}
