package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"mit.edu/dsg/bmindex/catalog"
	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/execution"
)

// firstUserOid is the lowest oid handed to a new index or table.
const firstUserOid common.ObjectID = 16384

// parseSchema parses "name:type,name:type" into table columns.
func parseSchema(schema string) ([]catalog.Column, error) {
	var cols []catalog.Column
	for _, field := range strings.Split(schema, ",") {
		name, typeName, ok := strings.Cut(strings.TrimSpace(field), ":")
		if !ok || name == "" {
			return nil, errors.Newf("bad column %q: want name:type", field)
		}
		typ, err := common.ParseType(typeName)
		if err != nil {
			return nil, err
		}
		cols = append(cols, catalog.Column{Name: name, Type: typ})
	}
	return cols, nil
}

// nextOid returns an oid above every oid used by the catalog files in dir.
func nextOid(dir string) (common.ObjectID, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return 0, err
	}
	next := firstUserOid
	for _, path := range paths {
		def, err := catalog.LoadIndex(path)
		if err != nil {
			return 0, err
		}
		next = max(next, def.Oid+1, def.Table.Oid+1)
	}
	return next, nil
}

func newBuildCommand(a *app) *cobra.Command {
	var (
		csvPath string
		schema  string
		columns []string
		header  bool
		table   string
	)
	cmd := &cobra.Command{
		Use:   "build <index>",
		Short: "Create an index over the rows of a CSV file",
		Long: `Creates the named index over the key columns of a CSV table and fills it from the
file. Record n of the file is row (n/291, n%291+1). Records whose first field
starts with '#' are deleted rows; they are skipped but keep their row number.`,
		Example: `  bmindex build items_color --csv items.csv --header --schema id:int64,color:string --columns color`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			cols, err := parseSchema(schema)
			if err != nil {
				return err
			}
			source, err := filepath.Abs(csvPath)
			if err != nil {
				return err
			}
			if table == "" {
				table = strings.TrimSuffix(filepath.Base(csvPath), filepath.Ext(csvPath))
			}

			return a.withStore(func(s *store) error {
				if _, err := os.Stat(s.catalogPath(name)); err == nil {
					return errors.Newf("index %s already exists", name)
				}
				oid, err := nextOid(s.cfg.DataDir)
				if err != nil {
					return err
				}
				tbl := &catalog.Table{Oid: oid + 1, Name: table, Columns: cols, Source: source, SourceHeader: header}
				def, err := catalog.NewIndex(oid, name, tbl, columns...)
				if err != nil {
					return err
				}
				am, err := s.openDefinition(def, false)
				if err != nil {
					return err
				}
				res, err := am.Build(cmd.Context(), execution.NewCSVTable(tbl, source, header))
				if err != nil {
					return err
				}
				if err := catalog.SaveIndex(s.catalogPath(name), def); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "built index %s (oid %d) on %s(%s): %d rows, %d indexed\n",
					name, oid, table, strings.Join(columns, ", "), res.HeapTuples, res.IndexTuples)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV file holding the table rows")
	cmd.Flags().StringVar(&schema, "schema", "", "Table columns as name:type,...")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Key columns, in key order")
	cmd.Flags().BoolVar(&header, "header", false, "The CSV file starts with a header record")
	cmd.Flags().StringVar(&table, "table", "", "Table name (default: CSV file name)")
	_ = cmd.MarkFlagRequired("csv")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("columns")
	return cmd
}
