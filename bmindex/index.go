package bmindex

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"mit.edu/dsg/bmindex/catalog"
	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/storage"
)

// Index is an open bitmap index. It holds no page state of its own: every operation re-reads the pages it needs
// through the buffer pool, so one Index may be shared by any number of goroutines.
type Index struct {
	def    *catalog.Index
	desc   *storage.IndexTupleDesc
	bp     *storage.BufferPool
	lm     storage.LogManager
	fsm    *storage.FreeSpaceMap
	logger *zap.Logger
}

// Option configures an Index at Open.
type Option func(*Index)

// WithLogger sets the logger for warnings and vacuum summaries. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// WithLogManager overrides the log manager used for page mutations. The default is the buffer pool's; with none,
// mutations are applied unlogged.
func WithLogManager(lm storage.LogManager) Option {
	return func(ix *Index) {
		ix.lm = lm
	}
}

// WithFreeSpaceMap shares a free space map, for example one rebuilt by an earlier handle.
func WithFreeSpaceMap(fsm *storage.FreeSpaceMap) Option {
	return func(ix *Index) {
		ix.fsm = fsm
	}
}

// Open returns a handle on the index described by def. If the index file already has pages, its meta page is
// checked.
func Open(def *catalog.Index, bp *storage.BufferPool, opts ...Option) (*Index, error) {
	ix := &Index{
		def:    def,
		desc:   storage.NewIndexTupleDesc(def.KeyTypes()),
		bp:     bp,
		lm:     bp.LogManager(),
		fsm:    storage.NewFreeSpaceMap(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = ix.logger.With(zap.String("index", def.Name), zap.Int32("oid", int32(def.Oid)))

	numPages, err := ix.NumPages()
	if err != nil {
		return nil, err
	}
	if numPages > 0 {
		if _, err := ix.readMetaSnapshot(); err != nil {
			return nil, errors.Wrapf(err, "open index %s", def.Name)
		}
	}
	return ix, nil
}

// Name returns the index name.
func (ix *Index) Name() string {
	return ix.def.Name
}

// Definition returns the catalog entry the index was opened with.
func (ix *Index) Definition() *catalog.Index {
	return ix.def
}

// TupleDesc describes the stored key tuples.
func (ix *Index) TupleDesc() *storage.IndexTupleDesc {
	return ix.desc
}

// FreeSpaceMap returns the map of reusable pages.
func (ix *Index) FreeSpaceMap() *storage.FreeSpaceMap {
	return ix.fsm
}

// Logger returns the index's logger.
func (ix *Index) Logger() *zap.Logger {
	return ix.logger
}

func (ix *Index) file() (storage.DBFile, error) {
	return ix.bp.StorageManager().GetDBFile(ix.def.Oid)
}

// NumPages returns the current length of the index file.
func (ix *Index) NumPages() (int, error) {
	file, err := ix.file()
	if err != nil {
		return 0, err
	}
	return file.NumPages()
}

func (ix *Index) readBuffer(blk common.BlockNumber) (*storage.PageFrame, error) {
	frame, err := ix.bp.ReadBuffer(ix.def.Oid, blk)
	if err != nil {
		return nil, errors.Wrapf(err, "index %s: read block %s", ix.def.Name, blk)
	}
	return frame, nil
}

func (ix *Index) release(frame *storage.PageFrame, mode storage.BufferLockMode) {
	ix.bp.UnlockReleaseBuffer(frame, mode)
}

// newBuffer returns a pinned, exclusively locked page the caller may initialize as it likes. Pages recorded in the
// free space map are tried first; one is taken only if it can be locked without waiting and is still new or
// deleted. Otherwise the file is extended.
func (ix *Index) newBuffer() (*storage.PageFrame, error) {
	for {
		blk := ix.fsm.GetFreePage()
		if !blk.IsValid() {
			break
		}
		frame, err := ix.readBuffer(blk)
		if err != nil {
			if common.IsError(err, common.InvalidBlockError) {
				continue
			}
			return nil, err
		}
		if storage.ConditionalLockBuffer(frame) {
			p := frame.Page()
			if p.IsNew() || (pageKindOf(p) == PageKindBitmap && isDeleted(p)) {
				return frame, nil
			}
			storage.UnlockBuffer(frame, storage.LockModeExclusive)
		}
		ix.bp.UnpinPage(frame, false)
	}
	return ix.extend()
}

// extend appends one page to the index file and returns it pinned and exclusively locked.
func (ix *Index) extend() (*storage.PageFrame, error) {
	file, err := ix.file()
	if err != nil {
		return nil, err
	}
	first, err := file.AllocatePage(1)
	if err != nil {
		return nil, errors.Wrapf(err, "index %s: extend", ix.def.Name)
	}
	frame, err := ix.readBuffer(common.BlockNumber(first))
	if err != nil {
		return nil, err
	}
	storage.LockBuffer(frame, storage.LockModeExclusive)
	return frame, nil
}

// initIndex writes the meta page and the first value page into an empty index file.
func (ix *Index) initIndex() error {
	numPages, err := ix.NumPages()
	if err != nil {
		return err
	}
	if numPages != 0 {
		return common.NewError(common.IndexNotEmptyError, "index %s already has %d pages", ix.def.Name, numPages)
	}
	meta, err := ix.extend()
	if err != nil {
		return err
	}
	defer ix.release(meta, storage.LockModeExclusive)
	value, err := ix.extend()
	if err != nil {
		return err
	}
	defer ix.release(value, storage.LockModeExclusive)
	if meta.Block() != metaBlock || value.Block() != firstValueBlock {
		return errors.AssertionFailedf("index %s initialized at blocks %s and %s", ix.def.Name, meta.Block(),
			value.Block())
	}

	x := storage.StartGenericXLog(ix.lm)
	initMetaPage(x.RegisterBuffer(meta, storage.GenericXLogFullImage), firstValueBlock)
	initPage(x.RegisterBuffer(value, storage.GenericXLogFullImage), PageKindValue)
	_, err = x.Finish()
	return err
}

// BuildEmpty initializes an index with no entries.
func (ix *Index) BuildEmpty() error {
	if err := ix.initIndex(); err != nil {
		return errors.Wrapf(err, "build empty index %s", ix.def.Name)
	}
	return nil
}
