package storage

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"mit.edu/dsg/bmindex/common"
)

// Index tuple layout:
// Size (2) | null bitmap (ceil(n/8)) | attributes...
//
// A by-value attribute is stored little-endian in Type.Len() bytes. A variable-length attribute is Length (2)
// followed by its payload. Null attributes take no space beyond their bit.
const (
	indexTupleSizeOffset = 0
	indexTupleHeaderSize = 2
	varlenHeaderSize     = 2
	maxIndexTupleSize    = 1<<16 - 1
)

// IndexTupleDesc describes the key columns of an index tuple.
type IndexTupleDesc struct {
	types []common.Type
}

func NewIndexTupleDesc(types []common.Type) *IndexTupleDesc {
	return &IndexTupleDesc{types: append([]common.Type(nil), types...)}
}

// NumAttrs returns the number of key columns.
func (d *IndexTupleDesc) NumAttrs() int {
	return len(d.types)
}

// Types returns the key column types.
func (d *IndexTupleDesc) Types() []common.Type {
	return d.types
}

func (d *IndexTupleDesc) nullBitmapSize() int {
	return (len(d.types) + 7) / 8
}

func (d *IndexTupleDesc) checkValues(values []common.Value) error {
	if len(values) != len(d.types) {
		return errors.Newf("index tuple needs %d values, got %d", len(d.types), len(values))
	}
	for i, v := range values {
		if v.Type() != d.types[i] {
			return errors.Newf("index attribute %d has type %s, got %s", i+1, d.types[i], v.Type())
		}
	}
	return nil
}

// TupleSize returns the number of bytes FormTuple would produce for values.
func (d *IndexTupleDesc) TupleSize(values []common.Value) int {
	size := indexTupleHeaderSize + d.nullBitmapSize()
	for i, v := range values {
		if v.IsNull() {
			continue
		}
		if t := d.types[i]; t.ByVal() {
			size += t.Len()
		} else {
			size += varlenHeaderSize + len(v.Payload())
		}
	}
	return size
}

// AppendTuple serializes values and appends the tuple to dst.
func (d *IndexTupleDesc) AppendTuple(dst []byte, values []common.Value) ([]byte, error) {
	if err := d.checkValues(values); err != nil {
		return dst, err
	}
	size := d.TupleSize(values)
	if size > maxIndexTupleSize {
		return dst, errors.Newf("index tuple of %d bytes exceeds the maximum of %d", size, maxIndexTupleSize)
	}
	start := len(dst)
	dst = append(dst, make([]byte, indexTupleHeaderSize+d.nullBitmapSize())...)
	binary.LittleEndian.PutUint16(dst[start+indexTupleSizeOffset:], uint16(size))
	nulls := AsBitmap(dst[start+indexTupleHeaderSize:], len(d.types))
	for i, v := range values {
		if v.IsNull() {
			nulls.SetBit(i, true)
			continue
		}
		t := d.types[i]
		if t.ByVal() {
			var word [8]byte
			binary.LittleEndian.PutUint64(word[:], v.Word())
			dst = append(dst, word[:t.Len()]...)
		} else {
			dst = binary.LittleEndian.AppendUint16(dst, uint16(len(v.Payload())))
			dst = append(dst, v.Payload()...)
		}
	}
	return dst, nil
}

// FormTuple serializes values into a new tuple.
func (d *IndexTupleDesc) FormTuple(values []common.Value) ([]byte, error) {
	return d.AppendTuple(nil, values)
}

// attrs calls fn for each attribute of tup in order with its null flag and stored bytes.
func (d *IndexTupleDesc) attrs(tup []byte, fn func(i int, null bool, raw []byte) bool) error {
	if len(tup) < indexTupleHeaderSize+d.nullBitmapSize() {
		return common.NewError(common.CorruptPageError, "index tuple of %d bytes is too short", len(tup))
	}
	size := int(binary.LittleEndian.Uint16(tup[indexTupleSizeOffset:]))
	if size != len(tup) {
		return common.NewError(common.CorruptPageError, "index tuple header says %d bytes, item has %d", size,
			len(tup))
	}
	nulls := AsBitmap(tup[indexTupleHeaderSize:], len(d.types))
	off := indexTupleHeaderSize + d.nullBitmapSize()
	for i, t := range d.types {
		if nulls.LoadBit(i) {
			if !fn(i, true, nil) {
				return nil
			}
			continue
		}
		var raw []byte
		if t.ByVal() {
			if off+t.Len() > len(tup) {
				return common.NewError(common.CorruptPageError, "index attribute %d runs past the tuple", i+1)
			}
			raw = tup[off : off+t.Len()]
			off += t.Len()
		} else {
			if off+varlenHeaderSize > len(tup) {
				return common.NewError(common.CorruptPageError, "index attribute %d runs past the tuple", i+1)
			}
			n := int(binary.LittleEndian.Uint16(tup[off:]))
			off += varlenHeaderSize
			if off+n > len(tup) {
				return common.NewError(common.CorruptPageError, "index attribute %d runs past the tuple", i+1)
			}
			raw = tup[off : off+n]
			off += n
		}
		if !fn(i, false, raw) {
			return nil
		}
	}
	return nil
}

func decodeAttr(t common.Type, raw []byte) common.Value {
	if !t.ByVal() {
		return common.NewValueFromBytes(t, bytes.Clone(raw))
	}
	var word [8]byte
	copy(word[:], raw)
	return common.NewValueFromWord(t, binary.LittleEndian.Uint64(word[:]))
}

// DeformTuple decodes a tuple produced by FormTuple. Variable-length payloads are copied out of tup.
func (d *IndexTupleDesc) DeformTuple(tup []byte) ([]common.Value, error) {
	values := make([]common.Value, len(d.types))
	err := d.attrs(tup, func(i int, null bool, raw []byte) bool {
		if null {
			values[i] = common.NewNullValue(d.types[i])
		} else {
			values[i] = decodeAttr(d.types[i], raw)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// Matches reports whether the stored tuple equals keys attribute by attribute. A null matches only a null.
func (d *IndexTupleDesc) Matches(tup []byte, keys []common.Value) (bool, error) {
	if len(keys) != len(d.types) {
		return false, errors.Newf("index tuple needs %d keys, got %d", len(d.types), len(keys))
	}
	match := true
	err := d.attrs(tup, func(i int, null bool, raw []byte) bool {
		key := keys[i]
		switch {
		case null || key.IsNull():
			match = null && key.IsNull()
		default:
			match = DatumIsEqual(d.types[i], decodeAttrView(d.types[i], raw), key)
		}
		return match
	})
	if err != nil {
		return false, err
	}
	return match, nil
}

// decodeAttrView is decodeAttr without copying variable-length payloads.
func decodeAttrView(t common.Type, raw []byte) common.Value {
	if !t.ByVal() {
		return common.NewValueFromBytes(t, raw)
	}
	return decodeAttr(t, raw)
}

// DatumIsEqual compares two non-null values of type t by their stored representation: by-value types compare the
// bits of the stored width, variable-length types compare length and then bytes.
func DatumIsEqual(t common.Type, a, b common.Value) bool {
	if t.ByVal() {
		// A shift by 64 yields 0, so 8-byte types get the full mask.
		mask := uint64(1)<<(8*t.Len()) - 1
		return a.Word()&mask == b.Word()&mask
	}
	pa, pb := a.Payload(), b.Payload()
	return len(pa) == len(pb) && bytes.Equal(pa, pb)
}
