package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mit.edu/dsg/bmindex/common"
)

func sampleRecord() *LogRecord {
	return &LogRecord{Pages: []PageImage{
		{PageID: common.PageID{Oid: 1, PageNum: 0}, Data: []byte{1, 2, 3}},
		{PageID: common.PageID{Oid: 1, PageNum: 4}, FullImage: true, Data: make([]byte, common.PageSize)},
	}}
}

func TestLogRecordCodec(t *testing.T) {
	rec := sampleRecord()
	rec.LSN = 17
	buf := encodeLogRecord(rec)
	out, err := decodeLogRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, rec, out)

	buf[len(buf)-1] ^= 0xFF
	_, err = decodeLogRecord(buf)
	assert.Error(t, err)
}

func TestMemoryLogManager(t *testing.T) {
	lm := NewMemoryLogManager()
	lsn1, err := lm.Append(sampleRecord())
	require.NoError(t, err)
	lsn2, err := lm.Append(sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, common.LSN(1), lsn1)
	assert.Equal(t, common.LSN(2), lsn2)
	assert.Equal(t, lsn2, lm.LastLSN())

	require.NoError(t, lm.Flush(lsn1))
	recs, err := lm.Records()
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	lm.Crash()
	assert.Equal(t, lsn1, lm.LastLSN())
	lsn, err := lm.Append(sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, common.LSN(2), lsn)
}

func TestFileLogManagerReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	lm, err := OpenFileLogManager(path, true)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := lm.Append(sampleRecord())
		require.NoError(t, err)
	}
	require.NoError(t, lm.Flush(2))
	// Unflushed appends are not durable yet; Flush writes everything buffered.
	assert.Equal(t, common.LSN(3), lm.FlushedLSN())
	_, err = lm.Append(sampleRecord())
	require.NoError(t, err)
	require.NoError(t, lm.file.Close())

	lm, err = OpenFileLogManager(path, true)
	require.NoError(t, err)
	defer lm.Close()
	assert.Equal(t, common.LSN(3), lm.LastLSN())
	recs, err := lm.Records()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, common.LSN(i+1), rec.LSN)
		assert.Len(t, rec.Pages, 2)
	}

	lsn, err := lm.Append(sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, common.LSN(4), lsn)
}

func TestFileLogManagerTruncatesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	lm, err := OpenFileLogManager(path, false)
	require.NoError(t, err)
	_, err = lm.Append(sampleRecord())
	require.NoError(t, err)
	require.NoError(t, lm.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF, 0x00, 0x00, 0x00, 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lm, err = OpenFileLogManager(path, false)
	require.NoError(t, err)
	defer lm.Close()
	assert.Equal(t, common.LSN(1), lm.LastLSN())
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), info2.Size())
}
