package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mit.edu/dsg/bmindex/bmindex"
	"mit.edu/dsg/bmindex/common"
)

var heading = color.New(color.FgCyan, color.Bold)

func parseBlock(s string) (common.BlockNumber, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return common.InvalidBlockNumber, errors.Newf("bad block number %q", s)
	}
	return common.BlockNumber(n), nil
}

// inspectCommand builds a command that opens the index named by its first argument and prints something about it.
func inspectCommand(a *app, use, short string, nargs int, print func(w io.Writer, ix *bmindex.Index, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store) error {
				am, err := s.openIndex(args[0])
				if err != nil {
					return err
				}
				return print(cmd.OutOrStdout(), am.Index(), args[1:])
			})
		},
	}
}

func newMetapCommand(a *app) *cobra.Command {
	return inspectCommand(a, "metap <index>", "Show the meta page", 1,
		func(w io.Writer, ix *bmindex.Index, _ []string) error {
			info, err := ix.MetaInfo()
			if err != nil {
				return err
			}
			heads := make([]string, len(info.ChainHeads))
			for i, h := range info.ChainHeads {
				heads[i] = h.String()
			}
			heading.Fprintf(w, "meta page of %s\n", ix.Name())
			fmt.Fprintf(w, "%-16s 0x%08x\n", "magic", info.Magic)
			fmt.Fprintf(w, "%-16s %d\n", "distinct values", info.DistinctCount)
			fmt.Fprintf(w, "%-16s %s\n", "value chain end", info.ValueChainEnd)
			fmt.Fprintf(w, "%-16s {%s}\n", "chain heads", strings.Join(heads, ","))
			return nil
		})
}

func newValuepCommand(a *app) *cobra.Command {
	return inspectCommand(a, "valuep <index> <block>", "List the key values stored on a value page", 2,
		func(w io.Writer, ix *bmindex.Index, args []string) error {
			blk, err := parseBlock(args[0])
			if err != nil {
				return err
			}
			items, err := ix.ValuePageItems(blk)
			if err != nil {
				return err
			}
			heading.Fprintf(w, "value page %s of %s\n", blk, ix.Name())
			fmt.Fprintf(w, "%-8s %s\n", "offset", "value")
			for _, item := range items {
				rendered := make([]string, len(item.Values))
				for i, v := range item.Values {
					rendered[i] = v.String()
				}
				fmt.Fprintf(w, "%-8d (%s)\n", item.Offset, strings.Join(rendered, ", "))
			}
			return nil
		})
}

func newIndexpCommand(a *app) *cobra.Command {
	return inspectCommand(a, "indexp <index> <block>", "List the bitmap tuples stored on a bitmap page", 2,
		func(w io.Writer, ix *bmindex.Index, args []string) error {
			blk, err := parseBlock(args[0])
			if err != nil {
				return err
			}
			items, err := ix.BitmapPageItems(blk)
			if err != nil {
				return err
			}
			heading.Fprintf(w, "bitmap page %s of %s\n", blk, ix.Name())
			fmt.Fprintf(w, "%-8s %-10s %s\n", "offset", "heap blk", "words")
			for _, item := range items {
				words := make([]string, len(item.Words))
				for i, word := range item.Words {
					words[i] = fmt.Sprintf("%08x", word)
				}
				fmt.Fprintf(w, "%-8d %-10s %s\n", item.Offset, item.HeapBlock, strings.Join(words, " "))
			}
			return nil
		})
}
