package catalog

import (
	"github.com/cockroachdb/errors"

	"mit.edu/dsg/bmindex/common"
)

// Column describes one column of a table.
type Column struct {
	Name string
	Type common.Type
}

// Table describes a heap relation that indexes can be built over.
type Table struct {
	Oid     common.ObjectID
	Name    string
	Columns []Column
	// Source is where the table's rows are read from, such as a CSV file. It may be empty.
	Source string
	// SourceHeader is set when Source starts with a header record.
	SourceHeader bool
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Index describes a bitmap index over a subset of a table's columns.
type Index struct {
	Oid   common.ObjectID
	Name  string
	Table *Table
	// ProjectionList maps the index key field i to the table column at ProjectionList[i].
	ProjectionList []int
}

// NewIndex defines an index named name over the given columns of table.
func NewIndex(oid common.ObjectID, name string, table *Table, columns ...string) (*Index, error) {
	if len(columns) == 0 {
		return nil, errors.Newf("index %q needs at least one key column", name)
	}
	projection := make([]int, len(columns))
	for i, col := range columns {
		pos := table.ColumnIndex(col)
		if pos < 0 {
			return nil, errors.Newf("table %q has no column %q", table.Name, col)
		}
		projection[i] = pos
	}
	return &Index{Oid: oid, Name: name, Table: table, ProjectionList: projection}, nil
}

// KeyTypes returns the types of the index key fields, in key order.
func (ix *Index) KeyTypes() []common.Type {
	types := make([]common.Type, len(ix.ProjectionList))
	for i, pos := range ix.ProjectionList {
		types[i] = ix.Table.Columns[pos].Type
	}
	return types
}

// KeyColumns returns the names of the index key fields, in key order.
func (ix *Index) KeyColumns() []string {
	names := make([]string, len(ix.ProjectionList))
	for i, pos := range ix.ProjectionList {
		names[i] = ix.Table.Columns[pos].Name
	}
	return names
}

// Project extracts the index key from a full table row.
func (ix *Index) Project(row []common.Value) []common.Value {
	key := make([]common.Value, len(ix.ProjectionList))
	for i, pos := range ix.ProjectionList {
		key[i] = row[pos]
	}
	return key
}
