package bmindex

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/storage"
)

// RowSource delivers every live row of the indexed table, in any order.
type RowSource interface {
	Scan(ctx context.Context, fn func(rid common.RowID, row []common.Value) error) error
}

// BuildResult reports what a build saw and indexed.
type BuildResult struct {
	HeapTuples  int
	IndexTuples int
}

// stagingChain is the in-memory page collecting one ordinal's bitmap tuples during a build, together with the
// blocks already written for that ordinal.
type stagingChain struct {
	page storage.Page
	head common.BlockNumber
	tail common.BlockNumber
}

type buildState struct {
	ix      *Index
	arena   *Arena
	staging map[int]*stagingChain
	result  BuildResult
}

// Build creates the index from a full scan of src. The index file must be empty. Bitmap tuples are collected in
// one in-memory page per distinct value and written out whenever that page fills, then once more at the end; the
// chain heads are published on the meta page last, in one logged unit.
func (ix *Index) Build(ctx context.Context, src RowSource) (BuildResult, error) {
	if err := ix.initIndex(); err != nil {
		return BuildResult{}, errors.Wrapf(err, "build index %s", ix.def.Name)
	}
	bs := &buildState{ix: ix, arena: NewArena(defaultArenaSize), staging: make(map[int]*stagingChain)}
	err := src.Scan(ctx, func(rid common.RowID, row []common.Value) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		defer bs.arena.Reset()
		bs.result.HeapTuples++
		return bs.add(ix.def.Project(row), rid)
	})
	if err != nil {
		return bs.result, errors.Wrapf(err, "build index %s", ix.def.Name)
	}

	ordinals := make([]int, 0, len(bs.staging))
	for ordinal := range bs.staging {
		ordinals = append(ordinals, ordinal)
	}
	slices.Sort(ordinals)
	heads := make(map[int]common.BlockNumber, len(ordinals))
	for _, ordinal := range ordinals {
		sc := bs.staging[ordinal]
		if err := bs.flush(sc); err != nil {
			return bs.result, errors.Wrapf(err, "build index %s", ix.def.Name)
		}
		heads[ordinal] = sc.head
	}
	if err := ix.updateChainHeads(heads); err != nil {
		return bs.result, errors.Wrapf(err, "build index %s", ix.def.Name)
	}
	ix.logger.Debug("index built", zap.Int("heapTuples", bs.result.HeapTuples),
		zap.Int("indexTuples", bs.result.IndexTuples), zap.Int("distinctValues", len(ordinals)))
	return bs.result, nil
}

func (bs *buildState) add(key []common.Value, rid common.RowID) error {
	if !rid.IsValid() {
		return common.NewError(common.InvalidRowIDError, "row %s: slot must be in [1, %d]", rid,
			common.MaxHeapTuplesPerPage)
	}
	ordinal, _, err := bs.ix.resolveOrdinal(key, true, bs.arena)
	if common.IsError(err, common.CapacityExceededError) {
		return nil
	}
	if err != nil {
		return err
	}
	tup := BitmapTuple(bs.arena.Alloc(BitmapTupleSize))
	if err := formTupleInto(tup, rid); err != nil {
		return err
	}

	sc := bs.staging[ordinal]
	if sc == nil {
		sc = &stagingChain{
			page: make(storage.Page, common.PageSize),
			head: common.InvalidBlockNumber,
			tail: common.InvalidBlockNumber,
		}
		initPage(sc.page, PageKindBitmap)
		bs.staging[ordinal] = sc
	}
	if !MergeOrAppend(sc.page, tup) {
		if err := bs.flush(sc); err != nil {
			return err
		}
		if !MergeOrAppend(sc.page, tup) {
			return common.NewError(common.CorruptPageError, "bitmap tuple does not fit an empty staging page")
		}
	}
	bs.result.IndexTuples++
	return nil
}

// flush writes the staging page to a new block linked after the ordinal's last written block, then empties it.
func (bs *buildState) flush(sc *stagingChain) error {
	if bitmapTupleCount(sc.page) == 0 {
		return nil
	}
	ix := bs.ix
	frame, err := ix.newBuffer()
	if err != nil {
		return err
	}
	defer ix.release(frame, storage.LockModeExclusive)

	x := storage.StartGenericXLog(ix.lm)
	copy(x.RegisterBuffer(frame, storage.GenericXLogFullImage), sc.page)
	if sc.tail.IsValid() {
		tailFrame, err := ix.readBuffer(sc.tail)
		if err != nil {
			x.Abort()
			return err
		}
		storage.LockBuffer(tailFrame, storage.LockModeExclusive)
		defer ix.release(tailFrame, storage.LockModeExclusive)
		setNextBlock(x.RegisterBuffer(tailFrame, 0), frame.Block())
	}
	if _, err := x.Finish(); err != nil {
		return err
	}

	if !sc.head.IsValid() {
		sc.head = frame.Block()
	}
	sc.tail = frame.Block()
	initPage(sc.page, PageKindBitmap)
	return nil
}
