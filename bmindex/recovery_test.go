package bmindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/storage"
)

// restart discards env's buffer pool without writing anything back and replays the durable log into a new one.
func (env *testEnv) restart(t *testing.T) storage.RedoStats {
	t.Helper()
	env.bp = storage.NewBufferPool(64, env.fm)
	env.bp.SetLogManager(env.lm)
	stats, err := storage.Redo(env.lm, env.bp)
	require.NoError(t, err)
	return stats
}

func TestRecoveryReplaysDurableChanges(t *testing.T) {
	env, ix := newEmptyIndex(t, common.StringType, common.Int32Type)
	want := map[string][]common.RowID{}
	for blk := 0; blk < MaxBitmapTuplesPerPage+10; blk++ {
		name := []string{"x", "y", "z"}[blk%3]
		r := rid(blk, blk%7+1)
		_, err := ix.Insert([]common.Value{str(name), common.NewInt32Value(int32(blk % 2))}, r)
		require.NoError(t, err)
		key := name + string(rune('0'+blk%2))
		want[key] = append(want[key], r)
	}
	require.NoError(t, env.lm.Flush(env.lm.LastLSN()))

	stats := env.restart(t)
	assert.Positive(t, stats.PagesApplied)
	ix = env.open(t)
	for key, rids := range want {
		got := lookup(t, ix, str(key[:1]), common.NewInt32Value(int32(key[1]-'0')))
		assert.Equal(t, rids, got, key)
	}
	info, err := ix.MetaInfo()
	require.NoError(t, err)
	assert.Equal(t, 6, info.DistinctCount)
}

func TestRecoveryLosesUnflushedTail(t *testing.T) {
	env, ix := newEmptyIndex(t, common.StringType)
	_, err := ix.Insert([]common.Value{str("a")}, rid(1, 1))
	require.NoError(t, err)
	require.NoError(t, env.lm.Flush(env.lm.LastLSN()))

	// The second value grows the file but none of its log records become durable.
	_, err = ix.Insert([]common.Value{str("b")}, rid(2, 1))
	require.NoError(t, err)
	numPages, err := ix.NumPages()
	require.NoError(t, err)
	env.lm.Crash()

	env.restart(t)
	ix = env.open(t)
	assert.Equal(t, []common.RowID{rid(1, 1)}, lookup(t, ix, str("a")))
	assert.Empty(t, lookup(t, ix, str("b")))

	info, err := ix.MetaInfo()
	require.NoError(t, err)
	assert.Equal(t, 1, info.DistinctCount)

	// The orphaned extension is found and reused.
	recorded, err := ix.RebuildFreeSpace()
	require.NoError(t, err)
	assert.Equal(t, 1, recorded)
	assert.Equal(t, []common.BlockNumber{common.BlockNumber(numPages - 1)}, ix.FreeSpaceMap().Pages())

	_, err = ix.Insert([]common.Value{str("b")}, rid(3, 1))
	require.NoError(t, err)
	blocks, err := ix.ChainBlocks(1)
	require.NoError(t, err)
	assert.Equal(t, []common.BlockNumber{common.BlockNumber(numPages - 1)}, blocks)
	after, err := ix.NumPages()
	require.NoError(t, err)
	assert.Equal(t, numPages, after)
}

func TestRecoveryAfterBuild(t *testing.T) {
	env := newTestEnv(t, 8, common.Int64Type)
	ix := env.open(t)
	rows := &memRows{}
	counts := map[int64]int{}
	for blk := 0; blk < 3*MaxBitmapTuplesPerPage; blk++ {
		rows.add(rid(blk, 1), common.NewInt64Value(int64(blk%4)))
		counts[int64(blk%4)]++
	}
	_, err := ix.Build(t.Context(), rows)
	require.NoError(t, err)
	require.NoError(t, env.lm.Flush(env.lm.LastLSN()))

	env.restart(t)
	ix = env.open(t)
	for v, n := range counts {
		assert.Len(t, lookup(t, ix, common.NewInt64Value(v)), n)
	}
	recorded, err := ix.RebuildFreeSpace()
	require.NoError(t, err)
	assert.Zero(t, recorded)
}

func TestRebuildFreeSpaceFindsDeletedPages(t *testing.T) {
	env, ix := newEmptyIndex(t, common.Int32Type)
	key := []common.Value{common.NewInt32Value(1)}
	for blk := 0; blk < MaxBitmapTuplesPerPage+1; blk++ {
		_, err := ix.Insert(key, rid(blk, 1))
		require.NoError(t, err)
	}
	blocks, err := ix.ChainBlocks(0)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	_, err = ix.BulkDelete(t.Context(), nil, func(r common.RowID) bool {
		return int(r.Block) < MaxBitmapTuplesPerPage
	})
	require.NoError(t, err)
	_, err = ix.VacuumCleanup(t.Context(), VacuumInfo{}, nil)
	require.NoError(t, err)
	require.NoError(t, env.lm.Flush(env.lm.LastLSN()))

	// The free space map does not survive a restart.
	env.restart(t)
	ix = env.open(t)
	assert.Zero(t, ix.FreeSpaceMap().Len())
	recorded, err := ix.RebuildFreeSpace()
	require.NoError(t, err)
	assert.Equal(t, 1, recorded)
	assert.Equal(t, blocks[:1], ix.FreeSpaceMap().Pages())
}
