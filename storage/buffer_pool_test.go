package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mit.edu/dsg/bmindex/common"
)

const testOid common.ObjectID = 7

func newTestPool(t *testing.T, frames, pages int) (*BufferPool, *MemFileManager) {
	t.Helper()
	fm := NewMemFileManager()
	file, err := fm.GetDBFile(testOid)
	require.NoError(t, err)
	_, err = file.AllocatePage(pages)
	require.NoError(t, err)
	return NewBufferPool(frames, fm), fm
}

func pid(n int) common.PageID {
	return common.PageID{Oid: testOid, PageNum: int32(n)}
}

func TestBufferPoolHitAndMiss(t *testing.T) {
	bp, _ := newTestPool(t, 4, 8)

	frame, err := bp.GetPage(pid(1))
	require.NoError(t, err)
	assert.Equal(t, pid(1), frame.PageID())
	assert.Equal(t, 1, frame.PinCount())

	again, err := bp.GetPage(pid(1))
	require.NoError(t, err)
	assert.Same(t, frame, again)
	assert.Equal(t, 2, frame.PinCount())

	bp.UnpinPage(frame, false)
	bp.UnpinPage(again, false)
	assert.Equal(t, 0, frame.PinCount())
	assert.Equal(t, int64(1), bp.Stats.Misses.Value())
	assert.Equal(t, int64(1), bp.Stats.Hits.Value())
}

func TestBufferPoolEvictsAndWritesBack(t *testing.T) {
	bp, fm := newTestPool(t, 2, 8)

	frame, err := bp.GetPage(pid(0))
	require.NoError(t, err)
	frame.PageLatch.Lock()
	frame.Bytes[100] = 0xAB
	frame.PageLatch.Unlock()
	bp.UnpinPage(frame, true)

	for i := 1; i < 8; i++ {
		f, err := bp.GetPage(pid(i))
		require.NoError(t, err)
		bp.UnpinPage(f, false)
	}
	assert.Positive(t, bp.Stats.Evictions.Value())

	file, err := fm.GetDBFile(testOid)
	require.NoError(t, err)
	buf := make([]byte, common.PageSize)
	require.NoError(t, file.ReadPage(0, buf))
	assert.Equal(t, byte(0xAB), buf[100])

	frame, err = bp.GetPage(pid(0))
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), frame.Bytes[100])
	bp.UnpinPage(frame, false)
}

func TestBufferPoolFullWhenAllPinned(t *testing.T) {
	bp, _ := newTestPool(t, 2, 4)
	a, err := bp.GetPage(pid(0))
	require.NoError(t, err)
	b, err := bp.GetPage(pid(1))
	require.NoError(t, err)

	_, err = bp.GetPage(pid(2))
	require.Error(t, err)
	assert.True(t, common.IsError(err, common.BufferPoolFullError))

	bp.UnpinPage(a, false)
	c, err := bp.GetPage(pid(2))
	require.NoError(t, err)
	bp.UnpinPage(b, false)
	bp.UnpinPage(c, false)
}

func TestBufferPoolMissingPage(t *testing.T) {
	bp, _ := newTestPool(t, 2, 1)
	_, err := bp.GetPage(pid(5))
	require.Error(t, err)
	assert.True(t, common.IsError(err, common.InvalidBlockError))

	// The frame claimed for the failed load is usable again.
	f, err := bp.GetPage(pid(0))
	require.NoError(t, err)
	bp.UnpinPage(f, false)
}

func TestBufferPoolWriteAheadRule(t *testing.T) {
	bp, _ := newTestPool(t, 1, 4)
	lm := NewMemoryLogManager()
	bp.SetLogManager(lm)

	frame, err := bp.GetPage(pid(0))
	require.NoError(t, err)
	frame.PageLatch.Lock()
	x := StartGenericXLog(lm)
	page := x.RegisterBuffer(frame, GenericXLogFullImage)
	InitPage(page, 16)
	lsn, err := x.Finish()
	require.NoError(t, err)
	frame.PageLatch.Unlock()
	bp.UnpinPage(frame, false)
	assert.Equal(t, common.InvalidLSN, lm.FlushedLSN())

	// Loading another page evicts the dirty one, which must flush the log first.
	other, err := bp.GetPage(pid(1))
	require.NoError(t, err)
	bp.UnpinPage(other, false)
	assert.Equal(t, lsn, lm.FlushedLSN())
}

func TestBufferPoolConcurrentReaders(t *testing.T) {
	bp, _ := newTestPool(t, 4, 16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				n := (g + i) % 16
				f, err := bp.GetPage(pid(n))
				if err != nil {
					// All frames may be momentarily pinned by the other goroutines.
					assert.True(t, common.IsError(err, common.BufferPoolFullError))
					continue
				}
				assert.Equal(t, pid(n), f.PageID())
				bp.UnpinPage(f, false)
			}
		}(g)
	}
	wg.Wait()
}

func TestBufferPoolCheckpoint(t *testing.T) {
	bp, fm := newTestPool(t, 4, 2)
	lm := NewMemoryLogManager()
	bp.SetLogManager(lm)

	frame, err := bp.GetPage(pid(1))
	require.NoError(t, err)
	frame.PageLatch.Lock()
	x := StartGenericXLog(lm)
	page := x.RegisterBuffer(frame, 0)
	InitPage(page, 16)
	_, err = x.Finish()
	require.NoError(t, err)
	frame.PageLatch.Unlock()
	bp.UnpinPage(frame, false)

	require.NoError(t, bp.Checkpoint())
	assert.False(t, frame.IsDirty())
	assert.Equal(t, lm.LastLSN(), lm.FlushedLSN())

	file, err := fm.GetDBFile(testOid)
	require.NoError(t, err)
	buf := make([]byte, common.PageSize)
	require.NoError(t, file.ReadPage(1, buf))
	assert.False(t, Page(buf).IsNew())
}
