package storage

import (
	"encoding/binary"
	"math/bits"
	"sync"
	"sync/atomic"
	"unsafe"

	"mit.edu/dsg/bmindex/common"
)

// Page header layout, shared by every page kind:
// LSN (8) | Lower (2) | Upper (2) | Special (2) | Version (2) | contents ... | special area
const (
	pageOffsetLSN     = 0
	pageOffsetLower   = pageOffsetLSN + 8
	pageOffsetUpper   = pageOffsetLower + 2
	pageOffsetSpecial = pageOffsetUpper + 2
	pageOffsetVersion = pageOffsetSpecial + 2
)

// PageHeaderSize is the size of the generic page header; page contents start here.
const PageHeaderSize = pageOffsetVersion + 2

const pageLayoutVersion = 1

// PageFrame represents a physical page of data in memory.
// It holds the raw bytes of the page and acts as the container for Buffer Pool management.
type PageFrame struct {
	// Bytes holds the raw physical data of the page.
	Bytes [common.PageSize]byte
	// PageLatch protects the content of the page from concurrent access. Share mode is RLock, exclusive mode is
	// Lock; conditional acquisition uses TryLock.
	PageLatch sync.RWMutex

	pageID   common.PageID
	pinCount atomic.Int32 // -1 while the frame is being evicted
	dirty    atomic.Bool
	refBit   atomic.Bool
}

// Detect system endianness -- compiler should statically replace this with a constant
var isBigEndian = func() bool {
	buf := [2]byte{}
	*(*uint16)(unsafe.Pointer(&buf[0])) = uint16(0xCAFE)
	return buf[0] == 0xCA
}()

// PageID returns the identity of the page currently loaded in this frame. Only meaningful while pinned.
func (frame *PageFrame) PageID() common.PageID {
	return frame.pageID
}

// Block returns the block number of the page currently loaded in this frame.
func (frame *PageFrame) Block() common.BlockNumber {
	return frame.pageID.Block()
}

// PinCount returns the number of outstanding pins on this frame.
func (frame *PageFrame) PinCount() int {
	return int(frame.pinCount.Load())
}

// MarkDirty flags the frame for write-back before eviction.
func (frame *PageFrame) MarkDirty() {
	frame.dirty.Store(true)
}

// IsDirty reports whether the frame has unwritten changes.
func (frame *PageFrame) IsDirty() bool {
	return frame.dirty.Load()
}

// Page returns the frame's bytes as a Page. The caller must hold the latch in the mode the access needs.
func (frame *PageFrame) Page() Page {
	return frame.Bytes[:]
}

// LSN atomically reads the Log Sequence Number from the page header.
func (frame *PageFrame) LSN() common.LSN {
	ptr := (*uint64)(unsafe.Pointer(&frame.Bytes[pageOffsetLSN]))
	val := atomic.LoadUint64(ptr)
	if isBigEndian {
		val = bits.ReverseBytes64(val)
	}
	return common.LSN(val)
}

// MonotonicallyUpdateLSN atomically updates the LSN. The update is atomic and is only applied if the given lsn is
// larger than the current value.
func (frame *PageFrame) MonotonicallyUpdateLSN(lsn common.LSN) {
	ptr := (*uint64)(unsafe.Pointer(&frame.Bytes[pageOffsetLSN]))
	newVal := uint64(lsn)

	for {
		rawCurrent := atomic.LoadUint64(ptr)
		logicalCurrent := rawCurrent
		if isBigEndian {
			logicalCurrent = bits.ReverseBytes64(rawCurrent)
		}

		if newVal <= logicalCurrent {
			return
		}

		rawNew := newVal
		if isBigEndian {
			rawNew = bits.ReverseBytes64(newVal)
		}

		if atomic.CompareAndSwapUint64(ptr, rawCurrent, rawNew) {
			return
		}
	}
}

// Page is a view over the bytes of one page, either a buffer frame or a private working copy.
type Page []byte

// InitPage zeroes the page and lays out an empty header with specialSize bytes reserved at the end.
func InitPage(p Page, specialSize int) {
	common.Assert(len(p) == common.PageSize, "page has %d bytes", len(p))
	common.Assert(common.AlignedTo8(specialSize) && specialSize < common.PageSize-PageHeaderSize,
		"bad special size %d", specialSize)
	clear(p)
	special := common.PageSize - specialSize
	p.SetLower(PageHeaderSize)
	p.SetUpper(special)
	binary.LittleEndian.PutUint16(p[pageOffsetSpecial:], uint16(special))
	binary.LittleEndian.PutUint16(p[pageOffsetVersion:], pageLayoutVersion)
}

// IsNew reports whether the page has never been initialized (all-zero header).
func (p Page) IsNew() bool {
	return p.Upper() == 0
}

// LSN reads the page LSN without synchronization; use PageFrame.LSN on shared frames.
func (p Page) LSN() common.LSN {
	return common.LSN(binary.LittleEndian.Uint64(p[pageOffsetLSN:]))
}

func (p Page) SetLSN(lsn common.LSN) {
	binary.LittleEndian.PutUint64(p[pageOffsetLSN:], uint64(lsn))
}

// Lower is the offset of the first free byte after the page contents.
func (p Page) Lower() int {
	return int(binary.LittleEndian.Uint16(p[pageOffsetLower:]))
}

func (p Page) SetLower(off int) {
	binary.LittleEndian.PutUint16(p[pageOffsetLower:], uint16(off))
}

// Upper is the offset one past the last free byte.
func (p Page) Upper() int {
	return int(binary.LittleEndian.Uint16(p[pageOffsetUpper:]))
}

func (p Page) SetUpper(off int) {
	binary.LittleEndian.PutUint16(p[pageOffsetUpper:], uint16(off))
}

// SpecialOffset is where the access-method specific trailer begins.
func (p Page) SpecialOffset() int {
	return int(binary.LittleEndian.Uint16(p[pageOffsetSpecial:]))
}

// Special returns the access-method specific trailer.
func (p Page) Special() []byte {
	return p[p.SpecialOffset():]
}

// FreeSpace returns the number of bytes between Lower and Upper.
func (p Page) FreeSpace() int {
	free := p.Upper() - p.Lower()
	if free < 0 {
		return 0
	}
	return free
}

// Validate checks the header invariants of an initialized page.
func (p Page) Validate() bool {
	lower, upper, special := p.Lower(), p.Upper(), p.SpecialOffset()
	return lower >= PageHeaderSize && lower <= upper && upper <= special && special <= common.PageSize
}
