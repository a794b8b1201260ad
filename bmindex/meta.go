package bmindex

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/storage"
)

// Meta page contents, right after the page header:
// Magic (4) | DistinctCount (4) | ValueChainEnd (4) | ChainHead[MaxDistinct] (4 each)
const (
	metaMagic uint32 = 0xDABC9876

	metaOffsetMagic         = storage.PageHeaderSize
	metaOffsetDistinctCount = metaOffsetMagic + 4
	metaOffsetValueChainEnd = metaOffsetDistinctCount + 4
	metaOffsetChainHeads    = metaOffsetValueChainEnd + 4

	// MaxDistinct is the number of distinct values an index can register: as many chain heads as fit on the meta
	// page after its fixed fields.
	MaxDistinct = (common.PageSize - specialSize - metaOffsetChainHeads) / 4
)

const (
	metaBlock       common.BlockNumber = 0
	firstValueBlock common.BlockNumber = 1
)

type metaPage struct {
	storage.Page
}

// initMetaPage lays out an empty meta page whose value chain ends at valueChainEnd.
func initMetaPage(p storage.Page, valueChainEnd common.BlockNumber) {
	initPage(p, PageKindMeta)
	m := metaPage{p}
	binary.LittleEndian.PutUint32(p[metaOffsetMagic:], metaMagic)
	m.setDistinctCount(0)
	m.setValueChainEnd(valueChainEnd)
	for i := 0; i < MaxDistinct; i++ {
		m.setChainHead(i, common.InvalidBlockNumber)
	}
	p.SetLower(metaOffsetChainHeads + 4*MaxDistinct)
}

func (m metaPage) magic() uint32 {
	return binary.LittleEndian.Uint32(m.Page[metaOffsetMagic:])
}

func (m metaPage) distinctCount() int {
	return int(binary.LittleEndian.Uint32(m.Page[metaOffsetDistinctCount:]))
}

func (m metaPage) setDistinctCount(n int) {
	binary.LittleEndian.PutUint32(m.Page[metaOffsetDistinctCount:], uint32(n))
}

func (m metaPage) valueChainEnd() common.BlockNumber {
	return common.BlockNumber(binary.LittleEndian.Uint32(m.Page[metaOffsetValueChainEnd:]))
}

func (m metaPage) setValueChainEnd(blk common.BlockNumber) {
	binary.LittleEndian.PutUint32(m.Page[metaOffsetValueChainEnd:], uint32(blk))
}

func (m metaPage) chainHead(ordinal int) common.BlockNumber {
	common.Assert(ordinal >= 0 && ordinal < MaxDistinct, "ordinal %d out of range", ordinal)
	return common.BlockNumber(binary.LittleEndian.Uint32(m.Page[metaOffsetChainHeads+4*ordinal:]))
}

func (m metaPage) setChainHead(ordinal int, blk common.BlockNumber) {
	common.Assert(ordinal >= 0 && ordinal < MaxDistinct, "ordinal %d out of range", ordinal)
	binary.LittleEndian.PutUint32(m.Page[metaOffsetChainHeads+4*ordinal:], uint32(blk))
}

func (m metaPage) validate() error {
	if err := checkPage(m.Page, metaBlock, PageKindMeta); err != nil {
		return err
	}
	if got := m.magic(); got != metaMagic {
		return common.NewError(common.CorruptPageError, "meta page has magic %#x, expected %#x", got, metaMagic)
	}
	if n := m.distinctCount(); n > MaxDistinct {
		return common.NewError(common.CorruptPageError, "meta page claims %d distinct values, maximum is %d", n,
			MaxDistinct)
	}
	return nil
}

// growDistinctCount registers one more distinct value whose chain is still empty and returns its ordinal. The
// caller holds the meta page exclusively and logs the change together with the value page append.
func (m metaPage) growDistinctCount(valueChainEnd common.BlockNumber) (int, error) {
	ordinal := m.distinctCount()
	if ordinal >= MaxDistinct {
		return 0, common.NewError(common.CapacityExceededError, "index already holds %d distinct values", ordinal)
	}
	m.setChainHead(ordinal, common.InvalidBlockNumber)
	m.setDistinctCount(ordinal + 1)
	m.setValueChainEnd(valueChainEnd)
	return ordinal, nil
}

// MetaSnapshot is a copy of the meta page taken under a share lock.
type MetaSnapshot struct {
	Magic         uint32
	DistinctCount int
	ValueChainEnd common.BlockNumber
	// ChainHeads holds the head of each live ordinal's chain, InvalidBlockNumber for empty chains.
	ChainHeads []common.BlockNumber
}

func (ix *Index) readMetaSnapshot() (MetaSnapshot, error) {
	frame, err := ix.readBuffer(metaBlock)
	if err != nil {
		return MetaSnapshot{}, err
	}
	storage.LockBuffer(frame, storage.LockModeShare)
	defer ix.bp.UnlockReleaseBuffer(frame, storage.LockModeShare)

	m := metaPage{frame.Page()}
	if err := m.validate(); err != nil {
		return MetaSnapshot{}, err
	}
	snap := MetaSnapshot{
		Magic:         m.magic(),
		DistinctCount: m.distinctCount(),
		ValueChainEnd: m.valueChainEnd(),
		ChainHeads:    make([]common.BlockNumber, m.distinctCount()),
	}
	for i := range snap.ChainHeads {
		snap.ChainHeads[i] = m.chainHead(i)
	}
	return snap, nil
}

// updateChainHeads repoints the chains of the given ordinals as one logged unit.
func (ix *Index) updateChainHeads(heads map[int]common.BlockNumber) error {
	frame, err := ix.readBuffer(metaBlock)
	if err != nil {
		return err
	}
	storage.LockBuffer(frame, storage.LockModeExclusive)
	defer ix.bp.UnlockReleaseBuffer(frame, storage.LockModeExclusive)

	if err := (metaPage{frame.Page()}).validate(); err != nil {
		return err
	}
	x := storage.StartGenericXLog(ix.lm)
	m := metaPage{x.RegisterBuffer(frame, 0)}
	for ordinal, head := range heads {
		if ordinal >= m.distinctCount() {
			x.Abort()
			return errors.AssertionFailedf("ordinal %d is not registered", ordinal)
		}
		m.setChainHead(ordinal, head)
	}
	_, err = x.Finish()
	return err
}
