package bmindex

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mit.edu/dsg/bmindex/catalog"
	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/storage"
)

const testIndexOid common.ObjectID = 100

type testEnv struct {
	fm  *storage.MemFileManager
	lm  *storage.MemoryLogManager
	bp  *storage.BufferPool
	def *catalog.Index
}

func newTestEnv(t *testing.T, frames int, types ...common.Type) *testEnv {
	t.Helper()
	cols := make([]catalog.Column, len(types))
	names := make([]string, len(types))
	for i, typ := range types {
		names[i] = fmt.Sprintf("c%d", i)
		cols[i] = catalog.Column{Name: names[i], Type: typ}
	}
	table := &catalog.Table{Oid: 1, Name: "t", Columns: cols}
	def, err := catalog.NewIndex(testIndexOid, "t_bm", table, names...)
	require.NoError(t, err)

	env := &testEnv{fm: storage.NewMemFileManager(), lm: storage.NewMemoryLogManager(), def: def}
	env.bp = storage.NewBufferPool(frames, env.fm)
	env.bp.SetLogManager(env.lm)
	return env
}

func (env *testEnv) open(t *testing.T, opts ...Option) *Index {
	t.Helper()
	ix, err := Open(env.def, env.bp, opts...)
	require.NoError(t, err)
	return ix
}

func newEmptyIndex(t *testing.T, types ...common.Type) (*testEnv, *Index) {
	t.Helper()
	env := newTestEnv(t, 64, types...)
	ix := env.open(t)
	require.NoError(t, ix.BuildEmpty())
	return env, ix
}

func str(s string) common.Value {
	return common.NewStringValue(s)
}

func rid(blk, slot int) common.RowID {
	return common.RowID{Block: common.BlockNumber(blk), Slot: uint16(slot)}
}

func eqKeys(values ...common.Value) []ScanKey {
	keys := make([]ScanKey, len(values))
	for i, v := range values {
		keys[i] = ScanKey{Attno: i + 1, Strategy: StrategyEqual, Argument: v}
	}
	return keys
}

// lookup returns the distinct rows matching values, sorted.
func lookup(t *testing.T, ix *Index, values ...common.Value) []common.RowID {
	t.Helper()
	s := ix.BeginScan(eqKeys(values...))
	defer s.Close()
	var out []common.RowID
	for s.Next() {
		out = append(out, s.RowID())
	}
	require.NoError(t, s.Error())
	slices.SortFunc(out, func(a, b common.RowID) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})
	return slices.Compact(out)
}

type memRows struct {
	rids []common.RowID
	rows [][]common.Value
}

func (m *memRows) add(r common.RowID, values ...common.Value) {
	m.rids = append(m.rids, r)
	m.rows = append(m.rows, values)
}

func (m *memRows) Scan(ctx context.Context, fn func(rid common.RowID, row []common.Value) error) error {
	for i := range m.rids {
		if err := fn(m.rids[i], m.rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func TestBuildAndLookup(t *testing.T) {
	env := newTestEnv(t, 64, common.StringType)
	ix := env.open(t)
	rows := &memRows{}
	rows.add(rid(1, 1), str("a"))
	rows.add(rid(1, 2), str("b"))
	rows.add(rid(2, 1), str("a"))

	res, err := ix.Build(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, BuildResult{HeapTuples: 3, IndexTuples: 3}, res)

	assert.Equal(t, []common.RowID{rid(1, 1), rid(2, 1)}, lookup(t, ix, str("a")))
	assert.Equal(t, []common.RowID{rid(1, 2)}, lookup(t, ix, str("b")))
	assert.Empty(t, lookup(t, ix, str("c")))

	info, err := ix.MetaInfo()
	require.NoError(t, err)
	assert.Equal(t, metaMagic, info.Magic)
	assert.Equal(t, 2, info.DistinctCount)
	assert.Equal(t, firstValueBlock, info.ValueChainEnd)
	assert.Len(t, info.ChainHeads, 2)
}

func TestBuildRejectsNonEmptyIndex(t *testing.T) {
	_, ix := newEmptyIndex(t, common.StringType)
	_, err := ix.Build(context.Background(), &memRows{})
	assert.True(t, common.IsError(err, common.IndexNotEmptyError))
	assert.True(t, common.IsError(ix.BuildEmpty(), common.IndexNotEmptyError))
}

func TestBuildLargeChains(t *testing.T) {
	env := newTestEnv(t, 16, common.Int32Type)
	ix := env.open(t)
	rows := &memRows{}
	// Two values, interleaved, each spread over more heap blocks than one page holds.
	for blk := 0; blk < 2*MaxBitmapTuplesPerPage+10; blk++ {
		rows.add(rid(blk, 1), common.NewInt32Value(0))
		rows.add(rid(blk, 2), common.NewInt32Value(1))
		rows.add(rid(blk, 3), common.NewInt32Value(0))
	}
	_, err := ix.Build(context.Background(), rows)
	require.NoError(t, err)

	for ordinal := 0; ordinal < 2; ordinal++ {
		blocks, err := ix.ChainBlocks(ordinal)
		require.NoError(t, err)
		assert.Len(t, blocks, 3)
	}
	zeros := lookup(t, ix, common.NewInt32Value(0))
	assert.Len(t, zeros, 2*(2*MaxBitmapTuplesPerPage+10))
	ones := lookup(t, ix, common.NewInt32Value(1))
	assert.Len(t, ones, 2*MaxBitmapTuplesPerPage+10)
}

func TestInsertAndLookup(t *testing.T) {
	_, ix := newEmptyIndex(t, common.StringType)
	for _, tc := range []struct {
		key string
		rid common.RowID
	}{
		{"a", rid(1, 1)}, {"b", rid(1, 2)}, {"a", rid(2, 1)},
	} {
		ok, err := ix.Insert([]common.Value{str(tc.key)}, tc.rid)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, []common.RowID{rid(1, 1), rid(2, 1)}, lookup(t, ix, str("a")))
	assert.Equal(t, []common.RowID{rid(1, 2)}, lookup(t, ix, str("b")))
	assert.Empty(t, lookup(t, ix, str("c")))
}

func TestInsertRejectsBadInput(t *testing.T) {
	_, ix := newEmptyIndex(t, common.StringType)
	_, err := ix.Insert([]common.Value{str("a")}, rid(1, 0))
	assert.True(t, common.IsError(err, common.InvalidRowIDError))
	_, err = ix.Insert([]common.Value{common.NewInt32Value(1)}, rid(1, 1))
	assert.Error(t, err)
	_, err = ix.Insert(nil, rid(1, 1))
	assert.Error(t, err)
}

func TestInsertIsIdempotent(t *testing.T) {
	_, ix := newEmptyIndex(t, common.StringType)
	for i := 0; i < 3; i++ {
		_, err := ix.Insert([]common.Value{str("k")}, rid(4, 7))
		require.NoError(t, err)
	}
	var bits int
	for tup, err := range ix.IterateChain(0) {
		require.NoError(t, err)
		bits += tup.Count()
	}
	assert.Equal(t, 1, bits)
}

func TestOrdinalsAreStable(t *testing.T) {
	_, ix := newEmptyIndex(t, common.Int64Type)
	arena := NewArena(64)
	ordinals := make(map[int64]int)
	for round := 0; round < 3; round++ {
		for k := int64(0); k < 50; k++ {
			key := []common.Value{common.NewInt64Value(k)}
			_, err := ix.Insert(key, rid(int(k), round+1))
			require.NoError(t, err)
			ordinal, found, err := ix.resolveOrdinal(key, false, arena)
			require.NoError(t, err)
			require.True(t, found)
			if prev, ok := ordinals[k]; ok {
				assert.Equal(t, prev, ordinal)
			} else {
				assert.Equal(t, int(k), ordinal, "ordinals follow first appearance")
				ordinals[k] = ordinal
			}
		}
	}
}

func TestNullKeys(t *testing.T) {
	_, ix := newEmptyIndex(t, common.Int32Type, common.StringType)
	null := common.NewNullValue(common.Int32Type)
	_, err := ix.Insert([]common.Value{null, str("x")}, rid(1, 1))
	require.NoError(t, err)
	_, err = ix.Insert([]common.Value{common.NewInt32Value(0), str("x")}, rid(1, 2))
	require.NoError(t, err)

	assert.Equal(t, []common.RowID{rid(1, 1)}, lookup(t, ix, null, str("x")))
	assert.Equal(t, []common.RowID{rid(1, 2)}, lookup(t, ix, common.NewInt32Value(0), str("x")))
}

func TestChainCompletenessAcrossPages(t *testing.T) {
	_, ix := newEmptyIndex(t, common.StringType)
	var want []common.RowID
	for blk := 0; blk < MaxBitmapTuplesPerPage+20; blk++ {
		for _, slot := range []int{1, 100, 291} {
			r := rid(blk, slot)
			_, err := ix.Insert([]common.Value{str("k")}, r)
			require.NoError(t, err)
			want = append(want, r)
		}
	}
	blocks, err := ix.ChainBlocks(0)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)

	var got []common.RowID
	for tup, err := range ix.IterateChain(0) {
		require.NoError(t, err)
		got = append(got, slices.Collect(tup.RowIDs())...)
	}
	assert.ElementsMatch(t, want, got, "every row appears exactly once")
	assert.Equal(t, want, lookup(t, ix, str("k")))
}

func TestCapacityBoundary(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	env := newTestEnv(t, 32, common.Int32Type)
	ix := env.open(t, WithLogger(zap.New(core)))
	require.NoError(t, ix.BuildEmpty())

	for k := 0; k < MaxDistinct; k++ {
		ok, err := ix.Insert([]common.Value{common.NewInt32Value(int32(k))}, rid(k, 1))
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Zero(t, logs.Len())

	ok, err := ix.Insert([]common.Value{common.NewInt32Value(MaxDistinct)}, rid(0, 2))
	require.NoError(t, err)
	assert.False(t, ok)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "too many distinct values, new value not indexed", entry.Message)
	assert.Equal(t, "t_bm", entry.ContextMap()["index"])

	info, err := ix.MetaInfo()
	require.NoError(t, err)
	assert.Equal(t, MaxDistinct, info.DistinctCount)
	assert.Empty(t, lookup(t, ix, common.NewInt32Value(MaxDistinct)))

	// Rows of registered values are still indexed.
	ok, err = ix.Insert([]common.Value{common.NewInt32Value(5)}, rid(9, 9))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []common.RowID{rid(5, 1), rid(9, 9)}, lookup(t, ix, common.NewInt32Value(5)))
}

func TestBuildCapacityBoundary(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	env := newTestEnv(t, 32, common.Int32Type)
	ix := env.open(t, WithLogger(zap.New(core)))

	rows := &memRows{}
	for k := 0; k < MaxDistinct; k++ {
		rows.add(rid(k, 1), common.NewInt32Value(int32(k)))
	}
	rows.add(rid(0, 2), common.NewInt32Value(MaxDistinct))
	rows.add(rid(9, 9), common.NewInt32Value(5))
	rows.add(rid(1, 2), common.NewInt32Value(MaxDistinct))
	rows.add(rid(9, 10), common.NewInt32Value(MaxDistinct-1))

	res, err := ix.Build(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, MaxDistinct+4, res.HeapTuples)
	assert.Equal(t, MaxDistinct+2, res.IndexTuples)

	require.Equal(t, 2, logs.Len())
	for _, entry := range logs.All() {
		assert.Equal(t, "too many distinct values, new value not indexed", entry.Message)
	}

	info, err := ix.MetaInfo()
	require.NoError(t, err)
	assert.Equal(t, MaxDistinct, info.DistinctCount)
	assert.Empty(t, lookup(t, ix, common.NewInt32Value(MaxDistinct)))
	assert.Equal(t, []common.RowID{rid(5, 1), rid(9, 9)}, lookup(t, ix, common.NewInt32Value(5)))
	assert.Equal(t, []common.RowID{rid(9, 10), rid(MaxDistinct-1, 1)},
		lookup(t, ix, common.NewInt32Value(MaxDistinct-1)))
	assert.Equal(t, []common.RowID{rid(0, 1)}, lookup(t, ix, common.NewInt32Value(0)))
}

func TestConcurrentFirstInsert(t *testing.T) {
	_, ix := newEmptyIndex(t, common.StringType)
	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				key := str(fmt.Sprintf("key-%d", i%4))
				_, err := ix.Insert([]common.Value{key}, rid(w, i+1))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	info, err := ix.MetaInfo()
	require.NoError(t, err)
	assert.Equal(t, 4, info.DistinctCount)
	items, err := ix.ValuePageItems(firstValueBlock)
	require.NoError(t, err)
	assert.Len(t, items, 4)

	for k := 0; k < 4; k++ {
		var want []common.RowID
		for w := 0; w < workers; w++ {
			for i := k; i < 20; i += 4 {
				want = append(want, rid(w, i+1))
			}
		}
		assert.ElementsMatch(t, want, lookup(t, ix, str(fmt.Sprintf("key-%d", k))))
	}
}

func TestConcurrentInsertAndScan(t *testing.T) {
	_, ix := newEmptyIndex(t, common.Int32Type)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for blk := 0; blk < 100; blk++ {
				_, err := ix.Insert([]common.Value{common.NewInt32Value(int32(blk % 3))}, rid(blk, w+1))
				assert.NoError(t, err)
			}
		}(w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				s := ix.BeginScan(eqKeys(common.NewInt32Value(1)))
				for s.Next() {
					assert.Equal(t, 1, int(s.RowID().Block)%3)
				}
				assert.NoError(t, s.Error())
				s.Close()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, lookup(t, ix, common.NewInt32Value(0)), 4*34)
}

func TestValuePagesGrow(t *testing.T) {
	_, ix := newEmptyIndex(t, common.StringType)
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	for k := 0; k < 20; k++ {
		key := str(fmt.Sprintf("%s-%d", long, k))
		_, err := ix.Insert([]common.Value{key}, rid(k, 1))
		require.NoError(t, err)
	}
	info, err := ix.MetaInfo()
	require.NoError(t, err)
	assert.Equal(t, 20, info.DistinctCount)
	assert.NotEqual(t, firstValueBlock, info.ValueChainEnd)
	for k := 0; k < 20; k++ {
		assert.Equal(t, []common.RowID{rid(k, 1)}, lookup(t, ix, str(fmt.Sprintf("%s-%d", long, k))))
	}

	tooLong := make([]byte, common.PageSize)
	_, err = ix.Insert([]common.Value{str(string(tooLong))}, rid(1, 1))
	assert.Error(t, err)
}
