package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"mit.edu/dsg/bmindex/common"
)

// DBFile is the page-addressed file backing one relation.
type DBFile interface {
	// NumPages returns the number of pages currently in the file.
	NumPages() (int, error)
	// AllocatePage extends the file by numPages zeroed pages and returns the page number of the first one.
	// Concurrent callers always receive disjoint ranges.
	AllocatePage(numPages int) (int, error)
	// ReadPage copies page pageNum into buf.
	ReadPage(pageNum int, buf []byte) error
	// WritePage writes buf to page pageNum, which must already be allocated.
	WritePage(pageNum int, buf []byte) error
	// Sync makes previously written pages durable.
	Sync() error
	Close() error
}

// DBFileManager hands out the DBFile for each relation.
type DBFileManager interface {
	GetDBFile(oid common.ObjectID) (DBFile, error)
	Close() error
}

// DiskFileManager stores each relation as <dir>/<oid>.idx.
type DiskFileManager struct {
	dir   string
	files *xsync.MapOf[common.ObjectID, *diskFile]
}

// NewDiskFileManager creates dir if needed and returns a manager rooted there.
func NewDiskFileManager(dir string) (*DiskFileManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data directory %s", dir)
	}
	return &DiskFileManager{dir: dir, files: xsync.NewMapOf[common.ObjectID, *diskFile]()}, nil
}

// PathFor returns the file path used for a relation.
func (m *DiskFileManager) PathFor(oid common.ObjectID) string {
	return filepath.Join(m.dir, fmt.Sprintf("%d.idx", oid))
}

func (m *DiskFileManager) GetDBFile(oid common.ObjectID) (DBFile, error) {
	var openErr error
	f, ok := m.files.Compute(oid, func(old *diskFile, loaded bool) (*diskFile, bool) {
		if loaded {
			return old, false
		}
		df, err := openDiskFile(m.PathFor(oid))
		if err != nil {
			openErr = err
			return nil, true
		}
		return df, false
	})
	if !ok {
		return nil, openErr
	}
	return f, nil
}

func (m *DiskFileManager) Close() error {
	var errs error
	m.files.Range(func(oid common.ObjectID, f *diskFile) bool {
		errs = errors.CombineErrors(errs, f.Close())
		return true
	})
	m.files.Clear()
	return errs
}

type diskFile struct {
	mu       sync.Mutex // serializes extension
	file     *os.File
	numPages int
}

func openDiskFile(path string) (*diskFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if info.Size()%common.PageSize != 0 {
		_ = file.Close()
		return nil, common.NewError(common.CorruptPageError, "%s: size %d is not a multiple of the page size",
			path, info.Size())
	}
	return &diskFile{file: file, numPages: int(info.Size() / common.PageSize)}, nil
}

func (f *diskFile) NumPages() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.numPages, nil
}

func (f *diskFile) AllocatePage(numPages int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	first := f.numPages
	if err := f.file.Truncate(int64(first+numPages) * common.PageSize); err != nil {
		return 0, errors.Wrapf(err, "extend %s", f.file.Name())
	}
	f.numPages += numPages
	return first, nil
}

func (f *diskFile) checkRange(pageNum int) error {
	f.mu.Lock()
	n := f.numPages
	f.mu.Unlock()
	if pageNum < 0 || pageNum >= n {
		return common.NewError(common.InvalidBlockError, "page %d out of range [0, %d) in %s", pageNum, n, f.file.Name())
	}
	return nil
}

func (f *diskFile) ReadPage(pageNum int, buf []byte) error {
	if err := f.checkRange(pageNum); err != nil {
		return err
	}
	if _, err := f.file.ReadAt(buf[:common.PageSize], int64(pageNum)*common.PageSize); err != nil {
		return errors.Wrapf(err, "read page %d of %s", pageNum, f.file.Name())
	}
	return nil
}

func (f *diskFile) WritePage(pageNum int, buf []byte) error {
	if err := f.checkRange(pageNum); err != nil {
		return err
	}
	if _, err := f.file.WriteAt(buf[:common.PageSize], int64(pageNum)*common.PageSize); err != nil {
		return errors.Wrapf(err, "write page %d of %s", pageNum, f.file.Name())
	}
	return nil
}

func (f *diskFile) Sync() error {
	return errors.Wrapf(f.file.Sync(), "sync %s", f.file.Name())
}

func (f *diskFile) Close() error {
	return f.file.Close()
}

// MemFileManager keeps relations in memory. Its contents play the role of durable storage in tests: whatever the
// buffer pool has not written back is lost when the pool is discarded.
type MemFileManager struct {
	files *xsync.MapOf[common.ObjectID, *MemFile]
}

func NewMemFileManager() *MemFileManager {
	return &MemFileManager{files: xsync.NewMapOf[common.ObjectID, *MemFile]()}
}

func (m *MemFileManager) GetDBFile(oid common.ObjectID) (DBFile, error) {
	f, _ := m.files.LoadOrCompute(oid, func() *MemFile { return &MemFile{} })
	return f, nil
}

func (m *MemFileManager) Close() error {
	return nil
}

// MemFile is an in-memory DBFile.
type MemFile struct {
	mu    sync.RWMutex
	pages [][]byte
}

func (f *MemFile) NumPages() (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.pages), nil
}

func (f *MemFile) AllocatePage(numPages int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	first := len(f.pages)
	for i := 0; i < numPages; i++ {
		f.pages = append(f.pages, make([]byte, common.PageSize))
	}
	return first, nil
}

func (f *MemFile) ReadPage(pageNum int, buf []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if pageNum < 0 || pageNum >= len(f.pages) {
		return common.NewError(common.InvalidBlockError, "page %d out of range [0, %d)", pageNum, len(f.pages))
	}
	copy(buf[:common.PageSize], f.pages[pageNum])
	return nil
}

func (f *MemFile) WritePage(pageNum int, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pageNum < 0 || pageNum >= len(f.pages) {
		return common.NewError(common.InvalidBlockError, "page %d out of range [0, %d)", pageNum, len(f.pages))
	}
	copy(f.pages[pageNum], buf[:common.PageSize])
	return nil
}

func (f *MemFile) Sync() error {
	return nil
}

func (f *MemFile) Close() error {
	return nil
}
