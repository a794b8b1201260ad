package storage

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"mit.edu/dsg/bmindex/common"
)

// MaxGenericXLogPages bounds how many pages one logged unit may touch.
const MaxGenericXLogPages = 4

// GenericXLogFullImage asks Finish to log the whole page rather than a delta. Use it for freshly initialized pages.
const GenericXLogFullImage = 0x0001

// Delta fragment layout: Offset (2) | Length (2) | bytes
const (
	deltaFragmentHeaderSize = 4
	// Differences closer together than this are merged into one fragment.
	deltaMergeGap = 8
)

type xlogPage struct {
	frame *PageFrame
	image []byte
	full  bool
}

// GenericXLog stages changes to up to MaxGenericXLogPages pages and commits them as one log record. Callers
// register each page while holding its exclusive latch, modify only the returned working copy, and keep the
// latches until Finish or Abort returns.
type GenericXLog struct {
	lm    LogManager
	pages []xlogPage
	done  bool
}

// StartGenericXLog begins a logged unit. With a nil log manager the unit is applied unlogged.
func StartGenericXLog(lm LogManager) *GenericXLog {
	return &GenericXLog{lm: lm, pages: make([]xlogPage, 0, MaxGenericXLogPages)}
}

// RegisterBuffer returns the working copy of frame's page. Registering the same frame twice returns the same copy.
func (x *GenericXLog) RegisterBuffer(frame *PageFrame, flags int) Page {
	common.Assert(!x.done, "register on a finished xlog unit")
	for i := range x.pages {
		if x.pages[i].frame == frame {
			x.pages[i].full = x.pages[i].full || flags&GenericXLogFullImage != 0
			return x.pages[i].image
		}
	}
	common.Assert(len(x.pages) < MaxGenericXLogPages, "xlog unit already holds %d pages", MaxGenericXLogPages)
	image := make([]byte, common.PageSize)
	copy(image, frame.Bytes[:])
	x.pages = append(x.pages, xlogPage{frame: frame, image: image, full: flags&GenericXLogFullImage != 0})
	return image
}

// Finish logs every registered page that changed, installs the working copies, stamps them with the record's LSN
// and marks them dirty. Pages whose copy is unchanged are left untouched. It returns the record's LSN, or
// InvalidLSN if nothing was logged.
func (x *GenericXLog) Finish() (common.LSN, error) {
	common.Assert(!x.done, "xlog unit finished twice")
	x.done = true

	rec := &LogRecord{}
	changed := make([]*xlogPage, 0, len(x.pages))
	for i := range x.pages {
		p := &x.pages[i]
		delta := computeDelta(p.frame.Bytes[:], p.image)
		if len(delta) == 0 && !p.full {
			continue
		}
		changed = append(changed, p)
		if p.full || len(delta) >= common.PageSize/2 {
			rec.Pages = append(rec.Pages, PageImage{PageID: p.frame.pageID, FullImage: true, Data: p.image})
		} else {
			rec.Pages = append(rec.Pages, PageImage{PageID: p.frame.pageID, Data: delta})
		}
	}
	if len(changed) == 0 {
		return common.InvalidLSN, nil
	}

	lsn := common.InvalidLSN
	if x.lm != nil {
		var err error
		if lsn, err = x.lm.Append(rec); err != nil {
			return common.InvalidLSN, errors.Wrap(err, "append generic xlog record")
		}
	}
	for _, p := range changed {
		Page(p.image).SetLSN(p.frame.LSN())
		copy(p.frame.Bytes[:], p.image)
		p.frame.MonotonicallyUpdateLSN(lsn)
		p.frame.MarkDirty()
	}
	return lsn, nil
}

// Abort discards every working copy.
func (x *GenericXLog) Abort() {
	x.done = true
	x.pages = x.pages[:0]
}

// computeDelta encodes the byte ranges where newImage differs from oldImage, ignoring the LSN field.
func computeDelta(oldImage, newImage []byte) []byte {
	var out []byte
	n := len(newImage)
	i := pageOffsetLSN + 8
	for i < n {
		if oldImage[i] == newImage[i] {
			i++
			continue
		}
		start := i
		end := i + 1
		for j := end; j < n && j-end < deltaMergeGap; j++ {
			if oldImage[j] != newImage[j] {
				end = j + 1
			}
		}
		var hdr [deltaFragmentHeaderSize]byte
		binary.LittleEndian.PutUint16(hdr[0:], uint16(start))
		binary.LittleEndian.PutUint16(hdr[2:], uint16(end-start))
		out = append(out, hdr[:]...)
		out = append(out, newImage[start:end]...)
		i = end
	}
	return out
}

// applyDelta replays fragments produced by computeDelta onto page.
func applyDelta(page []byte, delta []byte) error {
	for len(delta) > 0 {
		if len(delta) < deltaFragmentHeaderSize {
			return common.NewError(common.CorruptPageError, "truncated delta fragment header")
		}
		off := int(binary.LittleEndian.Uint16(delta[0:]))
		length := int(binary.LittleEndian.Uint16(delta[2:]))
		delta = delta[deltaFragmentHeaderSize:]
		if length > len(delta) || off+length > len(page) {
			return common.NewError(common.CorruptPageError, "delta fragment [%d, %d) out of bounds", off, off+length)
		}
		copy(page[off:off+length], delta[:length])
		delta = delta[length:]
	}
	return nil
}
