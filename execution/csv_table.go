package execution

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"

	"mit.edu/dsg/bmindex/catalog"
	"mit.edu/dsg/bmindex/common"
)

// DeletedRowPrefix marks a CSV record as a deleted row when it starts the record's first field.
const DeletedRowPrefix = "#"

// CSVTable is a read-only heap backed by a CSV file with one field per table column. Rows get identifiers by
// position: record n (0-based, after any header) is slot n%MaxHeapTuplesPerPage+1 of block n/MaxHeapTuplesPerPage.
// A record whose first field starts with DeletedRowPrefix is a deleted row: it keeps its identifier, so editing a
// line into a comment and vacuuming removes it from an index. Fields are parsed with common.ParseValue, so "null"
// is a null.
type CSVTable struct {
	table  *catalog.Table
	path   string
	header bool
}

// NewCSVTable describes the CSV file at path as the contents of table. If header is set the first record is
// skipped.
func NewCSVTable(table *catalog.Table, path string, header bool) *CSVTable {
	return &CSVTable{table: table, path: path, header: header}
}

// Table returns the table the file stores.
func (t *CSVTable) Table() *catalog.Table {
	return t.table
}

// Scan reads the file from the start, calling fn for every record.
func (t *CSVTable) Scan(ctx context.Context, fn func(rid common.RowID, row []common.Value, alive bool) error) error {
	f, err := os.Open(t.path)
	if err != nil {
		return errors.Wrapf(err, "open table %s", t.table.Name)
	}
	defer f.Close()
	return t.scanReader(ctx, f, fn)
}

func (t *CSVTable) scanReader(ctx context.Context, r io.Reader, fn func(rid common.RowID, row []common.Value, alive bool) error) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(t.table.Columns)
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	if t.header {
		if _, err := reader.Read(); err != nil && err != io.EOF {
			return errors.Wrapf(err, "%s: read header", t.path)
		}
	}
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "%s: read row %d", t.path, n)
		}
		rid := common.RowID{
			Block: common.BlockNumber(n / common.MaxHeapTuplesPerPage),
			Slot:  uint16(n%common.MaxHeapTuplesPerPage + 1),
		}
		if strings.HasPrefix(record[0], DeletedRowPrefix) {
			if err := fn(rid, nil, false); err != nil {
				return err
			}
			continue
		}
		row := make([]common.Value, len(record))
		for i, field := range record {
			if row[i], err = common.ParseValue(t.table.Columns[i].Type, field); err != nil {
				line, _ := reader.FieldPos(i)
				return errors.Wrapf(err, "%s:%d: column %s", t.path, line, t.table.Columns[i].Name)
			}
		}
		if err := fn(rid, row, true); err != nil {
			return err
		}
	}
}
