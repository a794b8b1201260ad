package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapSetAndLoad(t *testing.T) {
	buf := make([]byte, 40)
	bm := AsBitmap(buf, 291)

	assert.False(t, bm.SetBit(0, true))
	assert.True(t, bm.SetBit(0, true))
	assert.False(t, bm.SetBit(290, true))
	assert.True(t, bm.LoadBit(0))
	assert.True(t, bm.LoadBit(290))
	assert.False(t, bm.LoadBit(1))
	assert.Equal(t, 2, bm.Count())

	assert.True(t, bm.SetBit(0, false))
	assert.False(t, bm.LoadBit(0))
	assert.Equal(t, 1, bm.Count())
}

func TestBitmapWordLayout(t *testing.T) {
	buf := make([]byte, 40)
	bm := AsBitmap(buf, 291)
	bm.SetBit(0, true)
	bm.SetBit(33, true)
	bm.SetBit(63, true)

	assert.Equal(t, uint32(1), bm.Word32(0))
	assert.Equal(t, uint32(1<<1|1<<31), bm.Word32(1))
	assert.Equal(t, uint32(0), bm.Word32(2))
}

func TestBitmapNextSetBit(t *testing.T) {
	buf := make([]byte, 40)
	bm := AsBitmap(buf, 291)
	assert.Equal(t, -1, bm.NextSetBit(0))
	assert.True(t, bm.IsZero())

	for _, i := range []int{3, 8, 200, 290} {
		bm.SetBit(i, true)
	}
	var got []int
	for i := bm.NextSetBit(0); i >= 0; i = bm.NextSetBit(i + 1) {
		got = append(got, i)
	}
	assert.Equal(t, []int{3, 8, 200, 290}, got)
	assert.Equal(t, 200, bm.NextSetBit(9))
	assert.Equal(t, -1, bm.NextSetBit(291))
}

func TestBitmapNextSetBitIgnoresTrailingBits(t *testing.T) {
	buf := make([]byte, 2)
	bm := AsBitmap(buf, 10)
	buf[1] = 0xFC // bits 10..15 lie past the end
	assert.Equal(t, -1, bm.NextSetBit(0))
}

func TestBitmapOr(t *testing.T) {
	a := AsBitmap(make([]byte, 40), 291)
	b := AsBitmap(make([]byte, 40), 291)
	a.SetBit(1, true)
	b.SetBit(1, true)
	b.SetBit(100, true)
	a.Or(b)
	assert.Equal(t, 2, a.Count())
	assert.True(t, a.LoadBit(100))

	require.Panics(t, func() { a.Or(AsBitmap(make([]byte, 4), 32)) })
}
