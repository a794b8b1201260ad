package commands

import (
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"mit.edu/dsg/bmindex/bmindex"
	"mit.edu/dsg/bmindex/catalog"
	"mit.edu/dsg/bmindex/config"
	"mit.edu/dsg/bmindex/execution"
	"mit.edu/dsg/bmindex/storage"
)

const logFileName = "bmindex.wal"

// store is the data directory opened for one command: the index files, the log, and a buffer pool over them.
type store struct {
	cfg    config.Config
	logger *zap.Logger
	fm     *storage.DiskFileManager
	lm     *storage.FileLogManager
	bp     *storage.BufferPool
}

// openStore opens the data directory and replays the log, so every index in it is consistent.
func openStore(cfg config.Config, logger *zap.Logger) (*store, error) {
	fm, err := storage.NewDiskFileManager(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	lm, err := storage.OpenFileLogManager(filepath.Join(cfg.DataDir, logFileName), cfg.WALSync)
	if err != nil {
		_ = fm.Close()
		return nil, err
	}
	s := &store{cfg: cfg, logger: logger, fm: fm, lm: lm, bp: storage.NewBufferPool(cfg.BufferPages, fm)}
	s.bp.SetLogManager(lm)

	stats, err := storage.Redo(lm, s.bp)
	if err != nil {
		_ = s.close()
		return nil, errors.Wrap(err, "recover data directory")
	}
	logger.Debug("redo done", zap.Int("records", stats.Records), zap.Int("pagesApplied", stats.PagesApplied),
		zap.Int("pagesSkipped", stats.PagesSkipped))
	return s, nil
}

func (s *store) catalogPath(name string) string {
	return filepath.Join(s.cfg.DataDir, name+".yaml")
}

// openIndex opens the named index and rebuilds its free space map.
func (s *store) openIndex(name string) (*execution.BitmapAM, error) {
	def, err := catalog.LoadIndex(s.catalogPath(name))
	if err != nil {
		return nil, errors.Wrapf(err, "index %s", name)
	}
	return s.openDefinition(def, true)
}

func (s *store) openDefinition(def *catalog.Index, rebuildFreeSpace bool) (*execution.BitmapAM, error) {
	ix, err := bmindex.Open(def, s.bp, bmindex.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	if rebuildFreeSpace {
		n, err := ix.RebuildFreeSpace()
		if err != nil {
			return nil, err
		}
		ix.Logger().Debug("free space map rebuilt", zap.Int("pages", n))
	}
	return execution.NewBitmapAM(ix), nil
}

// close checkpoints the buffer pool and closes the files.
func (s *store) close() error {
	err := s.bp.Checkpoint()
	err = errors.CombineErrors(err, s.lm.Close())
	return errors.CombineErrors(err, s.fm.Close())
}
