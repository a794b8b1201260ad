package storage

import (
	"mit.edu/dsg/bmindex/common"
)

// BufferLockMode is the mode a page latch is held in.
type BufferLockMode int

const (
	// LockModeShare allows reading the page. Any number of holders may share it.
	LockModeShare BufferLockMode = iota
	// LockModeExclusive allows modifying the page. It is incompatible with every other holder.
	LockModeExclusive
)

func (m BufferLockMode) String() string {
	switch m {
	case LockModeShare:
		return "LockModeShare"
	case LockModeExclusive:
		return "LockModeExclusive"
	}
	return "Unknown lock mode"
}

// LockBuffer blocks until the frame's latch is held in mode.
func LockBuffer(frame *PageFrame, mode BufferLockMode) {
	if mode == LockModeExclusive {
		frame.PageLatch.Lock()
	} else {
		frame.PageLatch.RLock()
	}
}

// UnlockBuffer releases a latch taken with LockBuffer in the same mode.
func UnlockBuffer(frame *PageFrame, mode BufferLockMode) {
	if mode == LockModeExclusive {
		frame.PageLatch.Unlock()
	} else {
		frame.PageLatch.RUnlock()
	}
}

// ConditionalLockBuffer takes the exclusive latch only if nobody holds the latch.
func ConditionalLockBuffer(frame *PageFrame) bool {
	return frame.PageLatch.TryLock()
}

// ConditionalLockBufferForCleanup takes the exclusive latch only if, in addition, the caller's pin is the only one.
// Once it succeeds, no other goroutine is positioned on the page and none can reach it except through a page the
// caller has locked.
func ConditionalLockBufferForCleanup(frame *PageFrame) bool {
	if !frame.PageLatch.TryLock() {
		return false
	}
	if frame.PinCount() != 1 {
		frame.PageLatch.Unlock()
		return false
	}
	return true
}

// ReadBuffer pins block blk of relation oid.
func (bp *BufferPool) ReadBuffer(oid common.ObjectID, blk common.BlockNumber) (*PageFrame, error) {
	common.Assert(blk.IsValid(), "reading invalid block of relation %d", oid)
	return bp.GetPage(common.PageID{Oid: oid, PageNum: int32(blk)})
}

// UnlockReleaseBuffer drops both the latch held in mode and the caller's pin.
func (bp *BufferPool) UnlockReleaseBuffer(frame *PageFrame, mode BufferLockMode) {
	UnlockBuffer(frame, mode)
	bp.UnpinPage(frame, false)
}
