package common

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Type is the type of an indexed column.
type Type int

const (
	BoolType Type = iota
	Int32Type
	Int64Type
	Float64Type
	StringType
	BytesType
)

// ByVal reports whether values of this type are stored inline in a fixed-width word.
func (t Type) ByVal() bool {
	switch t {
	case BoolType, Int32Type, Int64Type, Float64Type:
		return true
	}
	return false
}

// Len returns the stored width in bytes for by-value types, and -1 for variable-length types.
func (t Type) Len() int {
	switch t {
	case BoolType:
		return 1
	case Int32Type:
		return 4
	case Int64Type, Float64Type:
		return 8
	}
	return -1
}

func (t Type) String() string {
	switch t {
	case BoolType:
		return "bool"
	case Int32Type:
		return "int32"
	case Int64Type:
		return "int64"
	case Float64Type:
		return "float64"
	case StringType:
		return "string"
	case BytesType:
		return "bytes"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType maps a type name as written in a catalog definition to a Type.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bool", "boolean":
		return BoolType, nil
	case "int32", "int", "int4", "integer":
		return Int32Type, nil
	case "int64", "bigint", "int8":
		return Int64Type, nil
	case "float64", "float8", "double":
		return Float64Type, nil
	case "string", "text", "varchar":
		return StringType, nil
	case "bytes", "bytea":
		return BytesType, nil
	}
	return 0, errors.Newf("unknown column type %q", name)
}

// Value is a single column value, possibly null. By-value types keep their payload in word; variable-length types
// keep it in data.
type Value struct {
	typ  Type
	null bool
	word uint64
	data []byte
}

func NewBoolValue(b bool) Value {
	v := Value{typ: BoolType}
	if b {
		v.word = 1
	}
	return v
}

func NewInt32Value(i int32) Value {
	return Value{typ: Int32Type, word: uint64(uint32(i))}
}

func NewInt64Value(i int64) Value {
	return Value{typ: Int64Type, word: uint64(i)}
}

func NewFloat64Value(f float64) Value {
	return Value{typ: Float64Type, word: math.Float64bits(f)}
}

func NewStringValue(s string) Value {
	return Value{typ: StringType, data: []byte(s)}
}

func NewBytesValue(b []byte) Value {
	return Value{typ: BytesType, data: bytes.Clone(b)}
}

// NewNullValue returns the null of type t.
func NewNullValue(t Type) Value {
	return Value{typ: t, null: true}
}

// NewValueFromWord rebuilds a by-value Value from its stored word.
func NewValueFromWord(t Type, word uint64) Value {
	Assert(t.ByVal(), "type %s is not stored by value", t)
	return Value{typ: t, word: word}
}

// NewValueFromBytes rebuilds a variable-length Value from its stored payload. The payload is not copied.
func NewValueFromBytes(t Type, data []byte) Value {
	Assert(!t.ByVal(), "type %s is stored by value", t)
	return Value{typ: t, data: data}
}

func (v Value) Type() Type      { return v.typ }
func (v Value) IsNull() bool    { return v.null }
func (v Value) Word() uint64    { return v.word }
func (v Value) Payload() []byte { return v.data }

func (v Value) Bool() bool       { return v.word != 0 }
func (v Value) Int32() int32     { return int32(uint32(v.word)) }
func (v Value) Int64() int64     { return int64(v.word) }
func (v Value) Float64() float64 { return math.Float64frombits(v.word) }

func (v Value) String() string {
	if v.null {
		return "null"
	}
	switch v.typ {
	case BoolType:
		return strconv.FormatBool(v.Bool())
	case Int32Type:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case Int64Type:
		return strconv.FormatInt(v.Int64(), 10)
	case Float64Type:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case StringType:
		return string(v.data)
	case BytesType:
		return fmt.Sprintf("\\x%x", v.data)
	}
	return "?"
}

// ParseValue parses the textual form of a value of type t. The literal "null" (any case) yields a null.
func ParseValue(t Type, s string) (Value, error) {
	if strings.EqualFold(s, "null") {
		return NewNullValue(t), nil
	}
	switch t {
	case BoolType:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, errors.Wrapf(err, "parse %s", t)
		}
		return NewBoolValue(b), nil
	case Int32Type:
		i, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Value{}, errors.Wrapf(err, "parse %s", t)
		}
		return NewInt32Value(int32(i)), nil
	case Int64Type:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, errors.Wrapf(err, "parse %s", t)
		}
		return NewInt64Value(i), nil
	case Float64Type:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, errors.Wrapf(err, "parse %s", t)
		}
		return NewFloat64Value(f), nil
	case StringType:
		return NewStringValue(s), nil
	case BytesType:
		return NewBytesValue([]byte(s)), nil
	}
	return Value{}, errors.Newf("cannot parse values of type %s", t)
}
