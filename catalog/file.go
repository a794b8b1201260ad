package catalog

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"mit.edu/dsg/bmindex/common"
)

// indexFile is the on-disk form of an index definition.
type indexFile struct {
	Oid     common.ObjectID `yaml:"oid"`
	Name    string          `yaml:"name"`
	Columns []string        `yaml:"columns"`
	Table   tableFile       `yaml:"table"`
}

type tableFile struct {
	Oid     common.ObjectID `yaml:"oid"`
	Name    string          `yaml:"name"`
	Source  string          `yaml:"source,omitempty"`
	Header  bool            `yaml:"header,omitempty"`
	Columns []columnFile    `yaml:"columns"`
}

type columnFile struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// SaveIndex writes def to path as YAML.
func SaveIndex(path string, def *Index) error {
	table := tableFile{Oid: def.Table.Oid, Name: def.Table.Name, Source: def.Table.Source, Header: def.Table.SourceHeader}
	f := indexFile{Oid: def.Oid, Name: def.Name, Columns: def.KeyColumns(), Table: table}
	for _, c := range def.Table.Columns {
		f.Table.Columns = append(f.Table.Columns, columnFile{Name: c.Name, Type: c.Type.String()})
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return errors.Wrapf(err, "encode index %s", def.Name)
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write catalog file %s", path)
}

// LoadIndex reads an index definition written by SaveIndex.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}
	var f indexFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "decode catalog file %s", path)
	}
	table := &Table{Oid: f.Table.Oid, Name: f.Table.Name, Source: f.Table.Source, SourceHeader: f.Table.Header}
	for _, c := range f.Table.Columns {
		typ, err := common.ParseType(c.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: column %s", path, c.Name)
		}
		table.Columns = append(table.Columns, Column{Name: c.Name, Type: typ})
	}
	return NewIndex(f.Oid, f.Name, table, f.Columns...)
}
