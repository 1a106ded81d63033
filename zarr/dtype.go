package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dtype is the set of all zarr data types
// Simple data types as a string following the NumPy array protocol type string
// (typestr) format. The format consists of 3 parts:
//   - One character describing the byteorder of the data:
//     "<": little-endian; ">": big-endian; "|": not-relevant)
//   - One character code giving the basic type of the array:
//     "b" boolean, "i" integer, "u" unsigned integer, "f" floating point
//   - An integer specifying the number of bytes the type uses.
//
// Only fixed-size numeric types can back an array in this package.
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// Common dtypes for image and mask data.
var (
	Uint8   = Dtype{BONotRelevant, BTUnsigned, 1}
	Int8    = Dtype{BONotRelevant, BTInteger, 1}
	Bool    = Dtype{BONotRelevant, BTBoolean, 1}
	Uint16  = Dtype{BOLittleEndian, BTUnsigned, 2}
	Int16   = Dtype{BOLittleEndian, BTInteger, 2}
	Uint32  = Dtype{BOLittleEndian, BTUnsigned, 4}
	Int32   = Dtype{BOLittleEndian, BTInteger, 4}
	Uint64  = Dtype{BOLittleEndian, BTUnsigned, 8}
	Int64   = Dtype{BOLittleEndian, BTInteger, 8}
	Float32 = Dtype{BOLittleEndian, BTFloatingPoint, 4}
	Float64 = Dtype{BOLittleEndian, BTFloatingPoint, 8}
)

func ParseDtype(s string) (dt Dtype, err error) {
	// some writers HTML-escape byte order marks when serializing JSON
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("invalid Dtype string. %q is too short", s)
	}

	boByte, s := s[0], s[1:]
	dt.ByteOrder, err = ParseByteOrder(rune(boByte))
	if err != nil {
		return dt, err
	}

	typeByte, s := s[0], s[1:]
	dt.BasicType, err = ParseBasicType(rune(typeByte))
	if err != nil {
		return dt, err
	}

	size, err := strconv.ParseInt(s, 10, 0)
	if err != nil {
		return dt, err
	}
	dt.ByteSize = int(size)
	if _, ok := sizesByType[dt.BasicType][dt.ByteSize]; !ok {
		return dt, fmt.Errorf("unsupported size %d for %s", dt.ByteSize, dt.BasicType.Human())
	}

	return dt, nil
}

func (dt Dtype) String() string {
	return fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
}

// ItemSize is the number of bytes one element occupies.
func (dt Dtype) ItemSize() int { return dt.ByteSize }

// Order is the binary byte order of encoded elements.
func (dt Dtype) Order() binary.ByteOrder {
	if dt.ByteOrder == BOBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Equal compares dtypes, ignoring byte order for single byte types.
func (dt Dtype) Equal(o Dtype) bool {
	if dt.BasicType != o.BasicType || dt.ByteSize != o.ByteSize {
		return false
	}
	return dt.ByteSize == 1 || dt.ByteOrder == o.ByteOrder
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.String() + `"`), nil
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return err
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}

	*dt = t
	return nil
}

// encodeScalar encodes v as a single element of dt.
func (dt Dtype) encodeScalar(v float64) []byte {
	b := make([]byte, dt.ByteSize)
	o := dt.Order()
	switch dt.BasicType {
	case BTFloatingPoint:
		if dt.ByteSize == 4 {
			o.PutUint32(b, math.Float32bits(float32(v)))
		} else {
			o.PutUint64(b, math.Float64bits(v))
		}
	case BTInteger:
		putUint(o, b, uint64(int64(v)))
	default:
		putUint(o, b, uint64(v))
	}
	return b
}

func putUint(o binary.ByteOrder, b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		o.PutUint16(b, uint16(v))
	case 4:
		o.PutUint32(b, uint32(v))
	case 8:
		o.PutUint64(b, v)
	}
}

// fillBytes resolves a zarr fill_value into one encoded element. A nil fill
// value means zero.
func (dt Dtype) fillBytes(fill interface{}) ([]byte, error) {
	switch v := fill.(type) {
	case nil:
		return make([]byte, dt.ByteSize), nil
	case float64:
		return dt.encodeScalar(v), nil
	case int:
		return dt.encodeScalar(float64(v)), nil
	case bool:
		if v {
			return dt.encodeScalar(1), nil
		}
		return dt.encodeScalar(0), nil
	case string:
		if dt.BasicType != BTFloatingPoint {
			return nil, fmt.Errorf("fill value %q requires a floating point dtype, have %s", v, dt)
		}
		switch v {
		case FillValueNaN:
			return dt.encodeScalar(math.NaN()), nil
		case FillValueInfinity:
			return dt.encodeScalar(math.Inf(1)), nil
		case FillValueNegativeInfinity:
			return dt.encodeScalar(math.Inf(-1)), nil
		}
	}
	return nil, fmt.Errorf("unsupported fill value %v (%T)", fill, fill)
}

// Number is the set of element types NDArray values can be read into.
type Number interface {
	uint8 | uint16 | uint32 | uint64 | int8 | int16 | int32 | int64 | float32 | float64
}

// DtypeOf returns the little-endian dtype matching T.
func DtypeOf[T Number]() Dtype {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case float32:
		return Float32
	default:
		return Float64
	}
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, fmt.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return supportedBasicTypes[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
)

var supportedBasicTypes = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
}

var sizesByType = map[BasicType]map[int]struct{}{
	BTBoolean:       {1: {}},
	BTInteger:       {1: {}, 2: {}, 4: {}, 8: {}},
	BTUnsigned:      {1: {}, 2: {}, 4: {}, 8: {}},
	BTFloatingPoint: {4: {}, 8: {}},
}
