package bmindex

import (
	"iter"

	"github.com/cockroachdb/errors"

	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/storage"
)

// Chain traversal protocol. The head of a chain is read under the meta page's share lock and locked before that
// lock is dropped, and every step locks the next page before releasing the current one. Vacuum cleanup only
// unlinks a page while holding its predecessor and a cleanup lock on the page itself, so a walker can never step
// onto a page that has been recycled.

// lockChainHead pins the first page of ordinal's chain and locks it in mode. It returns a nil frame if the chain is
// empty.
func (ix *Index) lockChainHead(ordinal int, mode storage.BufferLockMode) (*storage.PageFrame, error) {
	metaFrame, err := ix.readBuffer(metaBlock)
	if err != nil {
		return nil, err
	}
	storage.LockBuffer(metaFrame, storage.LockModeShare)
	defer ix.release(metaFrame, storage.LockModeShare)

	meta := metaPage{metaFrame.Page()}
	if err := meta.validate(); err != nil {
		return nil, err
	}
	if ordinal < 0 || ordinal >= meta.distinctCount() {
		return nil, errors.AssertionFailedf("ordinal %d is not registered (%d distinct values)", ordinal,
			meta.distinctCount())
	}
	head := meta.chainHead(ordinal)
	if !head.IsValid() {
		return nil, nil
	}
	frame, err := ix.readBuffer(head)
	if err != nil {
		return nil, err
	}
	storage.LockBuffer(frame, mode)
	return frame, nil
}

// createChain starts ordinal's chain with a page holding tup. It returns created=false, and changes nothing, if
// another goroutine created the chain first.
func (ix *Index) createChain(ordinal int, tup BitmapTuple) (head common.BlockNumber, created bool, err error) {
	metaFrame, err := ix.readBuffer(metaBlock)
	if err != nil {
		return common.InvalidBlockNumber, false, err
	}
	storage.LockBuffer(metaFrame, storage.LockModeExclusive)
	defer ix.release(metaFrame, storage.LockModeExclusive)
	if err := (metaPage{metaFrame.Page()}).validate(); err != nil {
		return common.InvalidBlockNumber, false, err
	}
	if head := (metaPage{metaFrame.Page()}).chainHead(ordinal); head.IsValid() {
		return head, false, nil
	}

	frame, err := ix.newBuffer()
	if err != nil {
		return common.InvalidBlockNumber, false, err
	}
	defer ix.release(frame, storage.LockModeExclusive)

	x := storage.StartGenericXLog(ix.lm)
	meta := metaPage{x.RegisterBuffer(metaFrame, 0)}
	p := x.RegisterBuffer(frame, storage.GenericXLogFullImage)
	initPage(p, PageKindBitmap)
	if !MergeOrAppend(p, tup) {
		x.Abort()
		return common.InvalidBlockNumber, false, common.NewError(common.CorruptPageError,
			"bitmap tuple does not fit an empty page")
	}
	meta.setChainHead(ordinal, frame.Block())
	if _, err := x.Finish(); err != nil {
		return common.InvalidBlockNumber, false, err
	}
	return frame.Block(), true, nil
}

// upsertRowID records rid in ordinal's chain and returns the chain's head. The row is merged into the first
// live page that has a tuple for its heap block or room for a new one; if none does, a page is added at the end.
// Deleted pages awaiting cleanup are skipped.
func (ix *Index) upsertRowID(ordinal int, rid common.RowID, arena *Arena) (common.BlockNumber, error) {
	tup := BitmapTuple(arena.Alloc(BitmapTupleSize))
	if err := formTupleInto(tup, rid); err != nil {
		return common.InvalidBlockNumber, err
	}

	var cur *storage.PageFrame
	var head common.BlockNumber
	for cur == nil {
		frame, err := ix.lockChainHead(ordinal, storage.LockModeExclusive)
		if err != nil {
			return common.InvalidBlockNumber, err
		}
		if frame != nil {
			cur, head = frame, frame.Block()
			break
		}
		newHead, created, err := ix.createChain(ordinal, tup)
		if err != nil || created {
			return newHead, err
		}
	}

	for {
		p := cur.Page()
		if err := checkPage(p, cur.Block(), PageKindBitmap); err != nil {
			ix.release(cur, storage.LockModeExclusive)
			return common.InvalidBlockNumber, err
		}
		if !isDeleted(p) {
			x := storage.StartGenericXLog(ix.lm)
			if MergeOrAppend(x.RegisterBuffer(cur, 0), tup) {
				_, err := x.Finish()
				ix.release(cur, storage.LockModeExclusive)
				return head, err
			}
			x.Abort()
		}

		next := nextBlock(p)
		if !next.IsValid() {
			err := ix.appendChainPage(cur, tup)
			ix.release(cur, storage.LockModeExclusive)
			return head, err
		}
		nextFrame, err := ix.readBuffer(next)
		if err != nil {
			ix.release(cur, storage.LockModeExclusive)
			return common.InvalidBlockNumber, err
		}
		storage.LockBuffer(nextFrame, storage.LockModeExclusive)
		ix.release(cur, storage.LockModeExclusive)
		cur = nextFrame
	}
}

// appendChainPage links a new page holding tup after tail, which the caller holds exclusively.
func (ix *Index) appendChainPage(tail *storage.PageFrame, tup BitmapTuple) error {
	frame, err := ix.newBuffer()
	if err != nil {
		return err
	}
	defer ix.release(frame, storage.LockModeExclusive)

	x := storage.StartGenericXLog(ix.lm)
	tp := x.RegisterBuffer(tail, 0)
	np := x.RegisterBuffer(frame, storage.GenericXLogFullImage)
	initPage(np, PageKindBitmap)
	if !MergeOrAppend(np, tup) {
		x.Abort()
		return common.NewError(common.CorruptPageError, "bitmap tuple does not fit an empty page")
	}
	setNextBlock(tp, frame.Block())
	_, err = x.Finish()
	return err
}

// chainCursor walks a chain one page at a time. Between steps it keeps only a pin on its page, together with a copy
// of the page's tuples, so readers never hold a latch while their caller works.
type chainCursor struct {
	ix     *Index
	frame  *storage.PageFrame
	tuples []byte
}

func (ix *Index) openChainCursor(ordinal int) (*chainCursor, error) {
	frame, err := ix.lockChainHead(ordinal, storage.LockModeShare)
	if err != nil {
		return nil, err
	}
	c := &chainCursor{ix: ix, frame: frame}
	if frame != nil {
		err = c.load()
		storage.UnlockBuffer(frame, storage.LockModeShare)
		if err != nil {
			c.close()
			return nil, err
		}
	}
	return c, nil
}

// load copies the tuples of the current page, which the caller holds share locked.
func (c *chainCursor) load() error {
	p := c.frame.Page()
	if err := checkPage(p, c.frame.Block(), PageKindBitmap); err != nil {
		return err
	}
	if isDeleted(p) {
		c.tuples = c.tuples[:0]
		return nil
	}
	c.tuples = append(c.tuples[:0], copyBitmapTuples(p)...)
	return nil
}

func (c *chainCursor) block() common.BlockNumber {
	if c.frame == nil {
		return common.InvalidBlockNumber
	}
	return c.frame.Block()
}

func (c *chainCursor) numTuples() int {
	return len(c.tuples) / BitmapTupleSize
}

func (c *chainCursor) tuple(i int) BitmapTuple {
	return BitmapTuple(c.tuples[i*BitmapTupleSize : (i+1)*BitmapTupleSize])
}

// advance moves to the next page of the chain. It returns false once the chain is exhausted.
func (c *chainCursor) advance() (bool, error) {
	if c.frame == nil {
		return false, nil
	}
	storage.LockBuffer(c.frame, storage.LockModeShare)
	next := nextBlock(c.frame.Page())
	if !next.IsValid() {
		c.ix.release(c.frame, storage.LockModeShare)
		c.frame, c.tuples = nil, c.tuples[:0]
		return false, nil
	}
	nextFrame, err := c.ix.readBuffer(next)
	if err != nil {
		c.ix.release(c.frame, storage.LockModeShare)
		c.frame = nil
		return false, err
	}
	storage.LockBuffer(nextFrame, storage.LockModeShare)
	c.ix.release(c.frame, storage.LockModeShare)
	c.frame = nextFrame
	err = c.load()
	storage.UnlockBuffer(nextFrame, storage.LockModeShare)
	return err == nil, err
}

func (c *chainCursor) close() {
	if c.frame != nil {
		c.ix.bp.UnpinPage(c.frame, false)
		c.frame = nil
	}
}

// IterateChain yields every bitmap tuple of ordinal's chain in page order. Each tuple is a private copy. Pages are
// visited under share locks, one at a time, and the iteration may be restarted.
func (ix *Index) IterateChain(ordinal int) iter.Seq2[BitmapTuple, error] {
	return func(yield func(BitmapTuple, error) bool) {
		c, err := ix.openChainCursor(ordinal)
		if err != nil {
			yield(nil, err)
			return
		}
		defer c.close()
		for c.frame != nil {
			for i := 0; i < c.numTuples(); i++ {
				if !yield(append(BitmapTuple(nil), c.tuple(i)...), nil) {
					return
				}
			}
			if _, err := c.advance(); err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// ChainBlocks returns the blocks of ordinal's chain in link order.
func (ix *Index) ChainBlocks(ordinal int) ([]common.BlockNumber, error) {
	c, err := ix.openChainCursor(ordinal)
	if err != nil {
		return nil, err
	}
	defer c.close()
	var blocks []common.BlockNumber
	for c.frame != nil {
		blocks = append(blocks, c.block())
		if _, err := c.advance(); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}
