package storage

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"mit.edu/dsg/bmindex/common"
)

// PageImage is the logged after-image of one page: either the whole page or a list of changed byte ranges.
type PageImage struct {
	PageID    common.PageID
	FullImage bool
	Data      []byte
}

// LogRecord is one atomic unit of redo: every page image in it is applied, or none is.
type LogRecord struct {
	LSN   common.LSN
	Pages []PageImage
}

// LogManager is the write-ahead log.
type LogManager interface {
	// Append assigns the next LSN to rec, buffers it, and returns the LSN.
	Append(rec *LogRecord) (common.LSN, error)
	// Flush makes every record up to and including lsn durable.
	Flush(lsn common.LSN) error
	// LastLSN returns the LSN of the most recently appended record.
	LastLSN() common.LSN
	// FlushedLSN returns the LSN up to which the log is durable.
	FlushedLSN() common.LSN
	// Records returns the durable records in LSN order.
	Records() ([]*LogRecord, error)
	Close() error
}

// Record layout: Length (4) | CRC (4) | LSN (8) | NumPages (1) | pages...
// Page layout: Oid (4) | PageNum (4) | Flags (1) | DataLen (4) | data
const (
	logRecordHeaderSize = 4 + 4 + 8 + 1
	logPageHeaderSize   = 4 + 4 + 1 + 4
	logFlagFullImage    = 0x01
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func encodeLogRecord(rec *LogRecord) []byte {
	size := logRecordHeaderSize
	for _, p := range rec.Pages {
		size += logPageHeaderSize + len(p.Data)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:], uint32(size))
	binary.LittleEndian.PutUint64(buf[8:], uint64(rec.LSN))
	buf[16] = byte(len(rec.Pages))
	off := logRecordHeaderSize
	for _, p := range rec.Pages {
		binary.LittleEndian.PutUint32(buf[off:], uint32(p.PageID.Oid))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(p.PageID.PageNum))
		if p.FullImage {
			buf[off+8] = logFlagFullImage
		}
		binary.LittleEndian.PutUint32(buf[off+9:], uint32(len(p.Data)))
		off += logPageHeaderSize
		off += copy(buf[off:], p.Data)
	}
	binary.LittleEndian.PutUint32(buf[4:], crc32.Checksum(buf[8:], crcTable))
	return buf
}

func decodeLogRecord(buf []byte) (*LogRecord, error) {
	if len(buf) < logRecordHeaderSize {
		return nil, errors.Newf("log record too short: %d bytes", len(buf))
	}
	if crc32.Checksum(buf[8:], crcTable) != binary.LittleEndian.Uint32(buf[4:]) {
		return nil, errors.New("log record checksum mismatch")
	}
	rec := &LogRecord{LSN: common.LSN(binary.LittleEndian.Uint64(buf[8:]))}
	n := int(buf[16])
	off := logRecordHeaderSize
	for i := 0; i < n; i++ {
		if off+logPageHeaderSize > len(buf) {
			return nil, errors.Newf("log record %d truncated in page %d", rec.LSN, i)
		}
		p := PageImage{
			PageID: common.PageID{
				Oid:     common.ObjectID(binary.LittleEndian.Uint32(buf[off:])),
				PageNum: int32(binary.LittleEndian.Uint32(buf[off+4:])),
			},
			FullImage: buf[off+8]&logFlagFullImage != 0,
		}
		dataLen := int(binary.LittleEndian.Uint32(buf[off+9:]))
		off += logPageHeaderSize
		if off+dataLen > len(buf) {
			return nil, errors.Newf("log record %d truncated in page %d data", rec.LSN, i)
		}
		p.Data = append([]byte(nil), buf[off:off+dataLen]...)
		off += dataLen
		rec.Pages = append(rec.Pages, p)
	}
	return rec, nil
}

// MemoryLogManager keeps the log in memory. Every appended record counts as durable once flushed; unflushed
// records are dropped by Crash.
type MemoryLogManager struct {
	mu      sync.Mutex
	records []*LogRecord
	flushed common.LSN
}

func NewMemoryLogManager() *MemoryLogManager {
	return &MemoryLogManager{}
}

func (lm *MemoryLogManager) Append(rec *LogRecord) (common.LSN, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	rec.LSN = common.LSN(len(lm.records) + 1)
	lm.records = append(lm.records, rec)
	return rec.LSN, nil
}

func (lm *MemoryLogManager) Flush(lsn common.LSN) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if last := common.LSN(len(lm.records)); lsn > last {
		lsn = last
	}
	if lsn > lm.flushed {
		lm.flushed = lsn
	}
	return nil
}

func (lm *MemoryLogManager) LastLSN() common.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return common.LSN(len(lm.records))
}

func (lm *MemoryLogManager) FlushedLSN() common.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushed
}

func (lm *MemoryLogManager) Records() ([]*LogRecord, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return append([]*LogRecord(nil), lm.records[:lm.flushed]...), nil
}

// Crash discards every record that was never flushed.
func (lm *MemoryLogManager) Crash() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.records = lm.records[:lm.flushed]
}

func (lm *MemoryLogManager) Close() error {
	return nil
}

// FileLogManager appends records to a single file. Appends are buffered until Flush, which writes and fsyncs.
type FileLogManager struct {
	mu      sync.Mutex
	file    *os.File
	pending []byte
	last    common.LSN
	flushed common.LSN
	sync    bool
}

// OpenFileLogManager opens or creates the log at path. A torn record at the tail is truncated away. If syncWrites
// is false, Flush writes without fsync.
func OpenFileLogManager(path string, syncWrites bool) (*FileLogManager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log %s", path)
	}
	lm := &FileLogManager{file: file, sync: syncWrites}
	records, validSize, err := readLogRecords(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := file.Truncate(validSize); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "truncate torn log tail of %s", path)
	}
	if _, err := file.Seek(validSize, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "seek log %s", path)
	}
	if n := len(records); n > 0 {
		lm.last = records[n-1].LSN
		lm.flushed = lm.last
	}
	return lm, nil
}

func readLogRecords(file *os.File) ([]*LogRecord, int64, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, 0, errors.Wrap(err, "seek log")
	}
	r := bufio.NewReader(file)
	var records []*LogRecord
	var valid int64
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			// EOF or a torn length prefix both end the log.
			return records, valid, nil
		}
		size := int(binary.LittleEndian.Uint32(lenBuf[:]))
		if size < logRecordHeaderSize {
			return records, valid, nil
		}
		buf := make([]byte, size)
		copy(buf, lenBuf[:])
		if _, err := io.ReadFull(r, buf[4:]); err != nil {
			return records, valid, nil
		}
		rec, err := decodeLogRecord(buf)
		if err != nil {
			return records, valid, nil
		}
		records = append(records, rec)
		valid += int64(size)
	}
}

func (lm *FileLogManager) Append(rec *LogRecord) (common.LSN, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.last++
	rec.LSN = lm.last
	lm.pending = append(lm.pending, encodeLogRecord(rec)...)
	return rec.LSN, nil
}

func (lm *FileLogManager) Flush(lsn common.LSN) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lsn <= lm.flushed || len(lm.pending) == 0 {
		return nil
	}
	if _, err := lm.file.Write(lm.pending); err != nil {
		return errors.Wrap(err, "write log")
	}
	if lm.sync {
		if err := lm.file.Sync(); err != nil {
			return errors.Wrap(err, "sync log")
		}
	}
	lm.pending = lm.pending[:0]
	lm.flushed = lm.last
	return nil
}

func (lm *FileLogManager) LastLSN() common.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.last
}

func (lm *FileLogManager) FlushedLSN() common.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushed
}

func (lm *FileLogManager) Records() ([]*LogRecord, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	records, valid, err := readLogRecords(lm.file)
	if err != nil {
		return nil, err
	}
	if _, err := lm.file.Seek(valid, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek log")
	}
	return records, nil
}

func (lm *FileLogManager) Close() error {
	if err := lm.Flush(lm.LastLSN()); err != nil {
		return err
	}
	return lm.file.Close()
}
