package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"mit.edu/dsg/bmindex/bmindex"
	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/execution"
)

// parseValues parses one value per type. "null" is a null.
func parseValues(types []common.Type, args []string) ([]common.Value, error) {
	if len(args) != len(types) {
		return nil, errors.Newf("want %d values, got %d", len(types), len(args))
	}
	values := make([]common.Value, len(args))
	for i, arg := range args {
		v, err := common.ParseValue(types[i], arg)
		if err != nil {
			return nil, errors.Wrapf(err, "value %d", i+1)
		}
		values[i] = v
	}
	return values, nil
}

// parseRowID parses "block:slot".
func parseRowID(s string) (common.RowID, error) {
	blk, slot, ok := strings.Cut(s, ":")
	b, err1 := strconv.ParseUint(blk, 10, 32)
	n, err2 := strconv.ParseUint(slot, 10, 16)
	if !ok || err1 != nil || err2 != nil {
		return common.RowID{}, errors.Newf("bad row id %q: want block:slot", s)
	}
	return common.RowID{Block: common.BlockNumber(b), Slot: uint16(n)}, nil
}

func newLookupCommand(a *app) *cobra.Command {
	var tuples bool
	cmd := &cobra.Command{
		Use:   "lookup <index> <value>...",
		Short: "List the rows whose key equals the given values",
		Long: `Prints the rows whose key columns equal the given values, one per line, in row
order. With --tuples the rows are read one at a time in index order instead, which
may repeat a row.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store) error {
				am, err := s.openIndex(args[0])
				if err != nil {
					return err
				}
				values, err := parseValues(am.Index().Definition().KeyTypes(), args[1:])
				if err != nil {
					return err
				}
				keys := make([]bmindex.ScanKey, len(values))
				for i, v := range values {
					keys[i] = bmindex.ScanKey{Attno: i + 1, Strategy: bmindex.StrategyEqual, Argument: v}
				}

				scan, err := am.BeginScan(len(keys), 0)
				if err != nil {
					return err
				}
				defer am.EndScan(scan)
				if err := am.Rescan(scan, keys); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if tuples {
					n := 0
					for {
						ok, err := am.GetTuple(scan, execution.ForwardScanDirection)
						if err != nil {
							return err
						}
						if !ok {
							break
						}
						fmt.Fprintln(out, scan.HeapTID)
						n++
					}
					fmt.Fprintf(out, "(%d rows)\n", n)
					return nil
				}
				tbm := execution.NewTIDBitmap()
				if _, err := am.GetBitmap(scan, tbm); err != nil {
					return err
				}
				for rid := range tbm.All() {
					fmt.Fprintln(out, rid)
				}
				fmt.Fprintf(out, "(%d rows)\n", tbm.Len())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&tuples, "tuples", false, "Read rows one at a time instead of as a bitmap")
	return cmd
}

func newInsertCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "insert <index> <block:slot> <value>...",
		Short: "Add one table row to an index",
		Long: `Indexes a row given by its row id and one value per table column. The table
itself is not changed.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rid, err := parseRowID(args[1])
			if err != nil {
				return err
			}
			return a.withStore(func(s *store) error {
				am, err := s.openIndex(args[0])
				if err != nil {
					return err
				}
				table := am.Index().Definition().Table
				types := make([]common.Type, len(table.Columns))
				for i, c := range table.Columns {
					types[i] = c.Type
				}
				row, err := parseValues(types, args[2:])
				if err != nil {
					return err
				}
				ok, err := am.Insert(row, rid)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "row %s not indexed: index %s is full\n", rid, args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed row %s\n", rid)
				return nil
			})
		},
	}
}

func newVacuumCommand(a *app) *cobra.Command {
	var analyzeOnly bool
	cmd := &cobra.Command{
		Use:   "vacuum <index>",
		Short: "Remove deleted rows of the source table from an index",
		Long: `Rereads the index's CSV source, removes every row marked deleted from the index,
and returns emptied bitmap pages to the free space map.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store) error {
				am, err := s.openIndex(args[0])
				if err != nil {
					return err
				}
				table := am.Index().Definition().Table
				if table.Source == "" {
					return errors.Newf("table %s has no source to vacuum against", table.Name)
				}
				ctx := cmd.Context()
				dead, err := execution.DeadRowIDs(ctx, execution.NewCSVTable(table, table.Source, table.SourceHeader))
				if err != nil {
					return err
				}
				var stats *bmindex.VacuumStats
				if !analyzeOnly {
					if stats, err = am.BulkDelete(ctx, nil, dead.Contains); err != nil {
						return err
					}
				}
				stats, err = am.VacuumCleanup(ctx, bmindex.VacuumInfo{AnalyzeOnly: analyzeOnly}, stats)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if stats == nil {
					fmt.Fprintf(out, "%d deleted rows in %s, nothing removed\n", dead.Len(), table.Name)
					return nil
				}
				fmt.Fprintf(out, "pages: %d\nrow references kept: %d\nrow references removed: %d\n"+
					"pages emptied: %d\npages freed: %d\n", stats.NumPages, stats.NumIndexTuples,
					stats.TuplesRemoved, stats.PagesDeleted, stats.PagesFreed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&analyzeOnly, "analyze-only", false, "Only count deleted rows")
	return cmd
}
