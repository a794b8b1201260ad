package execution

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"mit.edu/dsg/bmindex/catalog"
	"mit.edu/dsg/bmindex/common"
)

// ErrTupleDeleted is returned when a tuple that has been deleted is read or deleted again.
var ErrTupleDeleted = errors.New("tuple has been deleted")

// heapSlot is one row position of a heap block.
type heapSlot struct {
	row     []common.Value
	deleted bool
}

// TableHeap is an in-memory heap table. Rows are addressed by RowID like rows of an on-disk heap: each block holds
// up to common.MaxHeapTuplesPerPage slots, numbered from 1, and deleted rows keep their slot until the table is
// dropped, so their row identifiers stay visible to index vacuum.
type TableHeap struct {
	table *catalog.Table

	mu     sync.RWMutex
	blocks [][]heapSlot
}

// NewTableHeap creates an empty heap for table.
func NewTableHeap(table *catalog.Table) *TableHeap {
	return &TableHeap{table: table}
}

// Table returns the table this heap stores.
func (tableHeap *TableHeap) Table() *catalog.Table {
	return tableHeap.table
}

// checkRow verifies that row has one value of the right type per table column.
func (tableHeap *TableHeap) checkRow(row []common.Value) error {
	if len(row) != len(tableHeap.table.Columns) {
		return errors.Newf("table %s has %d columns, row has %d values",
			tableHeap.table.Name, len(tableHeap.table.Columns), len(row))
	}
	for i, col := range tableHeap.table.Columns {
		if row[i].Type() != col.Type {
			return errors.Newf("column %s of table %s is %s, got %s",
				col.Name, tableHeap.table.Name, col.Type, row[i].Type())
		}
	}
	return nil
}

// InsertTuple appends row to the last block of the heap, starting a new block when it is full, and returns the
// row's identifier.
func (tableHeap *TableHeap) InsertTuple(row []common.Value) (common.RowID, error) {
	if err := tableHeap.checkRow(row); err != nil {
		return common.RowID{}, err
	}
	tableHeap.mu.Lock()
	defer tableHeap.mu.Unlock()

	n := len(tableHeap.blocks)
	if n == 0 || len(tableHeap.blocks[n-1]) == common.MaxHeapTuplesPerPage {
		tableHeap.blocks = append(tableHeap.blocks, make([]heapSlot, 0, common.MaxHeapTuplesPerPage))
		n++
	}
	block := &tableHeap.blocks[n-1]
	*block = append(*block, heapSlot{row: append([]common.Value(nil), row...)})
	return common.RowID{Block: common.BlockNumber(n - 1), Slot: uint16(len(*block))}, nil
}

// slot returns the slot rid names. The caller holds mu.
func (tableHeap *TableHeap) slot(rid common.RowID) (*heapSlot, error) {
	if int(rid.Block) >= len(tableHeap.blocks) || rid.Slot < 1 || int(rid.Slot) > len(tableHeap.blocks[rid.Block]) {
		return nil, common.NewError(common.InvalidRowIDError, "table %s has no row %s", tableHeap.table.Name, rid)
	}
	return &tableHeap.blocks[rid.Block][rid.Slot-1], nil
}

// DeleteTuple marks a tuple as deleted. If the tuple has already been deleted, it returns ErrTupleDeleted.
func (tableHeap *TableHeap) DeleteTuple(rid common.RowID) error {
	tableHeap.mu.Lock()
	defer tableHeap.mu.Unlock()
	s, err := tableHeap.slot(rid)
	if err != nil {
		return err
	}
	if s.deleted {
		return ErrTupleDeleted
	}
	s.deleted = true
	return nil
}

// ReadTuple returns the values of a live tuple. If the tuple has been deleted, it returns ErrTupleDeleted.
func (tableHeap *TableHeap) ReadTuple(rid common.RowID) ([]common.Value, error) {
	tableHeap.mu.RLock()
	defer tableHeap.mu.RUnlock()
	s, err := tableHeap.slot(rid)
	if err != nil {
		return nil, err
	}
	if s.deleted {
		return nil, ErrTupleDeleted
	}
	return s.row, nil
}

// IsDeleted reports whether rid names a deleted row. Row identifiers the heap never handed out count as deleted,
// so it can serve directly as an index vacuum callback.
func (tableHeap *TableHeap) IsDeleted(rid common.RowID) bool {
	tableHeap.mu.RLock()
	defer tableHeap.mu.RUnlock()
	s, err := tableHeap.slot(rid)
	return err != nil || s.deleted
}

// NumBlocks returns the number of heap blocks in use.
func (tableHeap *TableHeap) NumBlocks() int {
	tableHeap.mu.RLock()
	defer tableHeap.mu.RUnlock()
	return len(tableHeap.blocks)
}

// next returns the slot after position (blk, slot), or ok=false at the end of the heap. slot 0 starts a block.
func (tableHeap *TableHeap) next(blk, slot int) (common.RowID, heapSlot, bool) {
	tableHeap.mu.RLock()
	defer tableHeap.mu.RUnlock()
	for ; blk < len(tableHeap.blocks); blk, slot = blk+1, 0 {
		if slot < len(tableHeap.blocks[blk]) {
			return common.RowID{Block: common.BlockNumber(blk), Slot: uint16(slot + 1)},
				tableHeap.blocks[blk][slot], true
		}
	}
	return common.RowID{}, heapSlot{}, false
}

// Scan calls fn for every row of the heap, live or deleted, in row identifier order. Rows inserted during the scan
// may or may not be seen.
func (tableHeap *TableHeap) Scan(ctx context.Context, fn func(rid common.RowID, row []common.Value, alive bool) error) error {
	blk, slot := 0, 0
	for {
		rid, s, ok := tableHeap.next(blk, slot)
		if !ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rid, s.row, !s.deleted); err != nil {
			return err
		}
		blk, slot = int(rid.Block), int(rid.Slot)
	}
}

// Iterator creates a new TableHeapIterator over the live rows of the heap.
func (tableHeap *TableHeap) Iterator() *TableHeapIterator {
	return &TableHeapIterator{tableHeap: tableHeap}
}

// TableHeapIterator iterates over all live tuples in the heap.
type TableHeapIterator struct {
	tableHeap  *TableHeap
	blk, slot  int
	currentRID common.RowID
	currentRow []common.Value
}

// Next advances the iterator to the next live tuple.
func (it *TableHeapIterator) Next() bool {
	for {
		rid, s, ok := it.tableHeap.next(it.blk, it.slot)
		if !ok {
			return false
		}
		it.blk, it.slot = int(rid.Block), int(rid.Slot)
		if s.deleted {
			continue
		}
		it.currentRID, it.currentRow = rid, s.row
		return true
	}
}

// CurrentTuple returns the values of the tuple at the current cursor position. Callers must not modify them.
func (it *TableHeapIterator) CurrentTuple() []common.Value {
	return it.currentRow
}

// CurrentRID returns the RowID of the current tuple.
func (it *TableHeapIterator) CurrentRID() common.RowID {
	return it.currentRID
}
