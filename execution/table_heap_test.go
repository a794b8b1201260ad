package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mit.edu/dsg/bmindex/catalog"
	"mit.edu/dsg/bmindex/common"
)

func itemsTable() *catalog.Table {
	return &catalog.Table{Oid: 1, Name: "items", Columns: []catalog.Column{
		{Name: "id", Type: common.Int64Type},
		{Name: "color", Type: common.StringType},
		{Name: "size", Type: common.Int32Type},
	}}
}

func item(id int64, color string, size int32) []common.Value {
	return []common.Value{common.NewInt64Value(id), common.NewStringValue(color), common.NewInt32Value(size)}
}

func TestTableHeapInsertReadDelete(t *testing.T) {
	heap := NewTableHeap(itemsTable())
	rid, err := heap.InsertTuple(item(1, "red", 3))
	require.NoError(t, err)
	assert.Equal(t, common.RowID{Block: 0, Slot: 1}, rid)

	row, err := heap.ReadTuple(rid)
	require.NoError(t, err)
	assert.Equal(t, "red", row[1].String())
	assert.False(t, heap.IsDeleted(rid))

	require.NoError(t, heap.DeleteTuple(rid))
	assert.True(t, heap.IsDeleted(rid))
	_, err = heap.ReadTuple(rid)
	assert.ErrorIs(t, err, ErrTupleDeleted)
	assert.ErrorIs(t, heap.DeleteTuple(rid), ErrTupleDeleted)

	_, err = heap.ReadTuple(common.RowID{Block: 5, Slot: 1})
	assert.True(t, common.IsError(err, common.InvalidRowIDError))
	assert.True(t, heap.IsDeleted(common.RowID{Block: 0, Slot: 2}))
}

func TestTableHeapRejectsBadRows(t *testing.T) {
	heap := NewTableHeap(itemsTable())
	_, err := heap.InsertTuple(item(1, "red", 3)[:2])
	assert.Error(t, err)
	row := item(1, "red", 3)
	row[2] = common.NewInt64Value(3)
	_, err = heap.InsertTuple(row)
	assert.Error(t, err)
	assert.Zero(t, heap.NumBlocks())
}

func TestTableHeapFillsBlocks(t *testing.T) {
	heap := NewTableHeap(itemsTable())
	var last common.RowID
	for i := 0; i < common.MaxHeapTuplesPerPage+2; i++ {
		rid, err := heap.InsertTuple(item(int64(i), "red", 1))
		require.NoError(t, err)
		last = rid
	}
	assert.Equal(t, 2, heap.NumBlocks())
	assert.Equal(t, common.RowID{Block: 1, Slot: 2}, last)
}

func TestTableHeapScanAndIterator(t *testing.T) {
	heap := NewTableHeap(itemsTable())
	var rids []common.RowID
	for i := 0; i < common.MaxHeapTuplesPerPage+5; i++ {
		rid, err := heap.InsertTuple(item(int64(i), "blue", 2))
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	require.NoError(t, heap.DeleteTuple(rids[0]))
	require.NoError(t, heap.DeleteTuple(rids[common.MaxHeapTuplesPerPage]))

	var seen, alive int
	err := heap.Scan(context.Background(), func(rid common.RowID, row []common.Value, live bool) error {
		assert.Equal(t, rids[seen], rid)
		seen++
		if live {
			alive++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(rids), seen)
	assert.Equal(t, len(rids)-2, alive)

	it := heap.Iterator()
	var live []common.RowID
	for it.Next() {
		live = append(live, it.CurrentRID())
		assert.Equal(t, int64(int(it.CurrentRID().Block)*common.MaxHeapTuplesPerPage+int(it.CurrentRID().Slot)-1),
			it.CurrentTuple()[0].Int64())
	}
	assert.Len(t, live, len(rids)-2)
	assert.Equal(t, rids[1], live[0])

	dead, err := DeadRowIDs(context.Background(), heap)
	require.NoError(t, err)
	assert.Equal(t, []common.RowID{rids[0], rids[common.MaxHeapTuplesPerPage]}, dead.RowIDs())
}

func TestTableHeapScanStopsOnCancel(t *testing.T) {
	heap := NewTableHeap(itemsTable())
	_, err := heap.InsertTuple(item(1, "red", 3))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = heap.Scan(ctx, func(common.RowID, []common.Value, bool) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
