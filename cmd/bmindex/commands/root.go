package commands

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mit.edu/dsg/bmindex/config"
)

// app carries the configuration shared by all subcommands.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

// withStore opens the data directory, runs fn, and checkpoints and closes the directory even if fn failed.
func (a *app) withStore(fn func(s *store) error) error {
	s, err := openStore(a.cfg, a.logger)
	if err != nil {
		return err
	}
	err = fn(s)
	err = errors.CombineErrors(err, s.close())
	_ = a.logger.Sync()
	return err
}

// NewRootCommand builds the bmindex command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	var (
		envFile     string
		dataDir     string
		bufferPages int
		logLevel    string
		walSync     bool
	)
	root := &cobra.Command{
		Use:   "bmindex",
		Short: "Build, query and inspect bitmap indexes over CSV tables",
		Long: `bmindex maintains bitmap indexes in a data directory. Each index keeps, for every
distinct key value, a bitmap of the table rows holding that value.

Settings come from BMINDEX_DATA_DIR, BMINDEX_BUFFER_PAGES, BMINDEX_LOG_LEVEL and
BMINDEX_WAL_SYNC, which may also be set in a .env file. Flags override both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if flags.Changed("buffer-pages") {
				cfg.BufferPages = bufferPages
			}
			if flags.Changed("log-level") {
				if cfg.LogLevel, err = zapcore.ParseLevel(logLevel); err != nil {
					return err
				}
			}
			if flags.Changed("wal-sync") {
				cfg.WALSync = walSync
			}
			a.cfg = cfg
			a.logger, err = cfg.NewLogger()
			return err
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "Optional file of BMINDEX_* settings")
	flags.StringVarP(&dataDir, "data-dir", "d", "", "Data directory (default: BMINDEX_DATA_DIR or ./bmdata)")
	flags.IntVar(&bufferPages, "buffer-pages", 0, "Buffer pool size in pages (default: BMINDEX_BUFFER_PAGES or 256)")
	flags.StringVar(&logLevel, "log-level", "", "Log level (default: BMINDEX_LOG_LEVEL or warn)")
	flags.BoolVar(&walSync, "wal-sync", true, "Fsync the log on every flush (default: BMINDEX_WAL_SYNC or true)")

	root.AddCommand(
		newBuildCommand(a),
		newInsertCommand(a),
		newLookupCommand(a),
		newVacuumCommand(a),
		newMetapCommand(a),
		newValuepCommand(a),
		newIndexpCommand(a),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}
