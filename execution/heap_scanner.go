package execution

import (
	"context"

	"mit.edu/dsg/bmindex/common"
)

// HeapScanner is a table an index can be built over and vacuumed against. Scan delivers every row with its
// identifier; alive is false for rows that have been deleted. A deleted row's values may be nil.
type HeapScanner interface {
	Scan(ctx context.Context, fn func(rid common.RowID, row []common.Value, alive bool) error) error
}

// liveRows adapts a HeapScanner to the row source of an index build, which only wants live rows.
type liveRows struct {
	heap HeapScanner
}

func (l liveRows) Scan(ctx context.Context, fn func(rid common.RowID, row []common.Value) error) error {
	return l.heap.Scan(ctx, func(rid common.RowID, row []common.Value, alive bool) error {
		if !alive {
			return nil
		}
		return fn(rid, row)
	})
}

// DeadRowIDs collects the identifiers of the deleted rows of heap. Its Contains method is a vacuum callback.
func DeadRowIDs(ctx context.Context, heap HeapScanner) (*TIDBitmap, error) {
	dead := NewTIDBitmap()
	err := heap.Scan(ctx, func(rid common.RowID, _ []common.Value, alive bool) error {
		if !alive {
			dead.Add(rid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dead, nil
}
