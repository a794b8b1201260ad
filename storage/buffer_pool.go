package storage

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"mit.edu/dsg/bmindex/common"
)

var noPage = common.PageID{Oid: -1, PageNum: -1}

// BufferPoolStats counts buffer pool activity.
type BufferPoolStats struct {
	Hits      *xsync.Counter
	Misses    *xsync.Counter
	Evictions *xsync.Counter
	Writes    *xsync.Counter
}

// BufferPool manages the reading and writing of database pages between the DBFileManager and memory.
// It acts as a central cache to keep "hot" pages in memory with fixed capacity and selectively evicts
// pages to disk when the pool becomes full. Users coordinate concurrent access to pages using the
// page-level latches on PageFrame. All methods are thread-safe.
//
// Lookups of resident pages go through a concurrent page table and an atomic pin; only misses take the pool
// mutex, which serializes victim selection and page loading.
type BufferPool struct {
	frames         []PageFrame
	pageTable      *xsync.MapOf[common.PageID, int]
	storageManager DBFileManager
	logManager     LogManager

	mu        sync.Mutex
	clockHand int

	Stats BufferPoolStats
}

// NewBufferPool creates a new BufferPool with a fixed capacity defined by numPages. It requires a
// storageManager to handle the underlying disk I/O operations.
func NewBufferPool(numPages int, storageManager DBFileManager) *BufferPool {
	common.Assert(numPages > 0, "buffer pool needs at least one frame")
	bp := &BufferPool{
		frames:         make([]PageFrame, numPages),
		pageTable:      xsync.NewMapOf[common.PageID, int](),
		storageManager: storageManager,
		Stats: BufferPoolStats{
			Hits:      xsync.NewCounter(),
			Misses:    xsync.NewCounter(),
			Evictions: xsync.NewCounter(),
			Writes:    xsync.NewCounter(),
		},
	}
	for i := range bp.frames {
		bp.frames[i].pageID = noPage
	}
	return bp
}

// SetLogManager enables the write-ahead rule: before a dirty page is written back, the log is flushed up to the
// page's LSN.
func (bp *BufferPool) SetLogManager(lm LogManager) {
	bp.logManager = lm
}

// LogManager returns the log manager set with SetLogManager, or nil.
func (bp *BufferPool) LogManager() LogManager {
	return bp.logManager
}

// StorageManager returns the underlying disk manager.
func (bp *BufferPool) StorageManager() DBFileManager {
	return bp.storageManager
}

func (frame *PageFrame) tryPin() bool {
	for {
		c := frame.pinCount.Load()
		if c < 0 {
			return false
		}
		if frame.pinCount.CompareAndSwap(c, c+1) {
			return true
		}
	}
}

// GetPage retrieves a page from the buffer pool, ensuring it is pinned (i.e. prevented from eviction until
// unpinned) and ready for use. If the page is already in the pool, the cached bytes are returned. If the page is not
// present, the method must first make space by selecting a victim frame to evict
// (potentially writing it to disk if dirty), and then read the requested page from disk into that frame.
func (bp *BufferPool) GetPage(pageID common.PageID) (*PageFrame, error) {
	if idx, ok := bp.pageTable.Load(pageID); ok {
		frame := &bp.frames[idx]
		if frame.tryPin() {
			if frame.pageID == pageID {
				frame.refBit.Store(true)
				bp.Stats.Hits.Inc()
				return frame, nil
			}
			bp.UnpinPage(frame, false)
		}
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	// Frames in the page table cannot be evicted while we hold the mutex.
	if idx, ok := bp.pageTable.Load(pageID); ok {
		frame := &bp.frames[idx]
		common.Assert(frame.tryPin(), "resident frame %d is being evicted", idx)
		frame.refBit.Store(true)
		bp.Stats.Hits.Inc()
		return frame, nil
	}

	bp.Stats.Misses.Inc()
	idx, err := bp.evictVictim()
	if err != nil {
		return nil, err
	}
	frame := &bp.frames[idx]
	file, err := bp.storageManager.GetDBFile(pageID.Oid)
	if err == nil {
		err = file.ReadPage(int(pageID.PageNum), frame.Bytes[:])
	}
	if err != nil {
		frame.pageID = noPage
		frame.pinCount.Store(0)
		return nil, errors.Wrapf(err, "load page %s", pageID)
	}
	frame.pageID = pageID
	frame.dirty.Store(false)
	frame.refBit.Store(true)
	bp.pageTable.Store(pageID, idx)
	frame.pinCount.Store(1)
	return frame, nil
}

// evictVictim picks an unpinned frame with the clock algorithm, writes it back if dirty, and leaves it claimed
// (pin count -1) and out of the page table. Must be called with bp.mu held.
func (bp *BufferPool) evictVictim() (int, error) {
	n := len(bp.frames)
	for i := 0; i < 2*n; i++ {
		idx := bp.clockHand
		bp.clockHand = (bp.clockHand + 1) % n
		frame := &bp.frames[idx]
		if frame.pinCount.Load() != 0 {
			continue
		}
		if frame.refBit.Swap(false) {
			continue
		}
		if !frame.pinCount.CompareAndSwap(0, -1) {
			continue
		}
		if frame.pageID != noPage {
			if frame.dirty.Load() {
				if err := bp.writeBack(frame, frame.Bytes[:]); err != nil {
					frame.pinCount.Store(0)
					return 0, err
				}
				frame.dirty.Store(false)
			}
			bp.pageTable.Delete(frame.pageID)
			bp.Stats.Evictions.Inc()
		}
		return idx, nil
	}
	return 0, common.NewError(common.BufferPoolFullError, "all %d frames are pinned", n)
}

func (bp *BufferPool) writeBack(frame *PageFrame, image []byte) error {
	if bp.logManager != nil {
		if err := bp.logManager.Flush(Page(image).LSN()); err != nil {
			return errors.Wrapf(err, "flush log before writing page %s", frame.pageID)
		}
	}
	file, err := bp.storageManager.GetDBFile(frame.pageID.Oid)
	if err != nil {
		return err
	}
	if err := file.WritePage(int(frame.pageID.PageNum), image); err != nil {
		return err
	}
	bp.Stats.Writes.Inc()
	return nil
}

// UnpinPage indicates that the caller is done using a page. It unpins the page, making the page potentially evictable
// if no other thread is accessing it. If the setDirty flag is true, the page is marked as modified, ensuring
// it will be written back to disk before eviction.
func (bp *BufferPool) UnpinPage(frame *PageFrame, setDirty bool) {
	if setDirty {
		frame.MarkDirty()
	}
	remaining := frame.pinCount.Add(-1)
	common.Assert(remaining >= 0, "unpinned page %s more times than pinned", frame.pageID)
}

// FlushAllPages flushes all dirty pages to disk that have an LSN no greater than `flushedUntil`, regardless of
// pins, then syncs the files that were written.
func (bp *BufferPool) FlushAllPages(flushedUntil common.LSN) error {
	var image [common.PageSize]byte
	touched := make(map[common.ObjectID]struct{})
	for i := range bp.frames {
		frame := &bp.frames[i]
		if !frame.tryPin() {
			continue
		}
		if frame.pageID == noPage || !frame.IsDirty() {
			bp.UnpinPage(frame, false)
			continue
		}
		frame.PageLatch.RLock()
		if frame.LSN() > flushedUntil {
			frame.PageLatch.RUnlock()
			bp.UnpinPage(frame, false)
			continue
		}
		// Writers mark the frame dirty while holding the exclusive latch, so clearing under the share latch cannot
		// lose a concurrent modification.
		frame.dirty.Store(false)
		copy(image[:], frame.Bytes[:])
		frame.PageLatch.RUnlock()

		err := bp.writeBack(frame, image[:])
		if err != nil {
			frame.MarkDirty()
		}
		touched[frame.pageID.Oid] = struct{}{}
		bp.UnpinPage(frame, false)
		if err != nil {
			return err
		}
	}
	for oid := range touched {
		file, err := bp.storageManager.GetDBFile(oid)
		if err != nil {
			return err
		}
		if err := file.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint flushes the whole log and then every dirty page.
func (bp *BufferPool) Checkpoint() error {
	flushed := common.LSN(^uint64(0))
	if bp.logManager != nil {
		last := bp.logManager.LastLSN()
		if err := bp.logManager.Flush(last); err != nil {
			return err
		}
		flushed = last
	}
	return bp.FlushAllPages(flushed)
}
