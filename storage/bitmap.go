package storage

import (
	"encoding/binary"
	"math/bits"

	"mit.edu/dsg/bmindex/common"
)

// Bitmap provides a convenient interface for manipulating bits in a byte slice.
// It does not own the underlying bytes; instead, it provides a structured view over
// an existing buffer (e.g., a record on a database page).
//
// Bit i lives in byte i/8 at position i%8, so the same bytes read as little-endian 32-bit words put bit i in word
// i/32 at position i%32. The on-disk format depends on this and not on host endianness.
type Bitmap struct {
	data    []byte
	numBits int
}

// AsBitmap creates a Bitmap view over the provided byte slice, which must hold at least numBits bits.
func AsBitmap(data []byte, numBits int) Bitmap {
	common.Assert(numBits >= 0 && len(data)*8 >= numBits, "bitmap buffer too small: %d bytes for %d bits",
		len(data), numBits)
	return Bitmap{data: data, numBits: numBits}
}

// Len returns the number of addressable bits.
func (b Bitmap) Len() int {
	return b.numBits
}

// SetBit sets the bit at index i to the given value.
// Returns the previous value of the bit.
func (b Bitmap) SetBit(i int, on bool) (originalValue bool) {
	common.Assert(i >= 0 && i < b.numBits, "indexing out of bounds")
	mask := byte(1) << uint(i%8)
	ptr := &b.data[i/8]
	originalValue = *ptr&mask != 0
	if on {
		*ptr |= mask
	} else {
		*ptr &^= mask
	}
	return originalValue
}

// LoadBit returns the value of the bit at index i.
func (b Bitmap) LoadBit(i int) bool {
	common.Assert(i >= 0 && i < b.numBits, "indexing out of bounds")
	return b.data[i/8]&(1<<uint(i%8)) != 0
}

// NextSetBit returns the index of the first set bit at or after start, or -1 if there is none.
func (b Bitmap) NextSetBit(start int) int {
	if start < 0 {
		start = 0
	}
	for i := start; i < b.numBits; {
		by := b.data[i/8] >> uint(i%8)
		if by == 0 {
			// Skip to the next byte boundary.
			i = (i/8 + 1) * 8
			continue
		}
		idx := i + bits.TrailingZeros8(by)
		if idx >= b.numBits {
			return -1
		}
		return idx
	}
	return -1
}

// Or merges every set bit of other into b. Both bitmaps must be the same length.
func (b Bitmap) Or(other Bitmap) {
	common.Assert(b.numBits == other.numBits, "bitmap length mismatch: %d vs %d", b.numBits, other.numBits)
	n := (b.numBits + 7) / 8
	for i := 0; i < n; i++ {
		b.data[i] |= other.data[i]
	}
}

// IsZero reports whether no bit is set.
func (b Bitmap) IsZero() bool {
	return b.NextSetBit(0) == -1
}

// Count returns the number of set bits.
func (b Bitmap) Count() int {
	n := 0
	for i := b.NextSetBit(0); i >= 0; i = b.NextSetBit(i + 1) {
		n++
	}
	return n
}

// Word32 returns the i-th 32-bit word of the backing bytes.
func (b Bitmap) Word32(i int) uint32 {
	return binary.LittleEndian.Uint32(b.data[i*4:])
}
