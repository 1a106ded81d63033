package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"
)

// NDArray is a dense, C-ordered, in-memory N-dimensional array of one dtype.
// It is the unit of exchange for region reads and writes.
type NDArray struct {
	dtype Dtype
	shape []int
	data  []byte
}

// NewNDArray allocates a zeroed array.
func NewNDArray(dt Dtype, shape []int) *NDArray {
	return &NDArray{
		dtype: dt,
		shape: slices.Clone(shape),
		data:  make([]byte, numElements(shape)*dt.ItemSize()),
	}
}

// NewNDArrayFromBytes wraps encoded element data. data is not copied.
func NewNDArrayFromBytes(dt Dtype, shape []int, data []byte) (*NDArray, error) {
	if want := numElements(shape) * dt.ItemSize(); len(data) != want {
		return nil, fmt.Errorf("shape %v of %s needs %d bytes, got %d", shape, dt, want, len(data))
	}
	return &NDArray{dtype: dt, shape: slices.Clone(shape), data: data}, nil
}

// FromValues builds an array of T's dtype from C-ordered values.
func FromValues[T Number](shape []int, vals []T) (*NDArray, error) {
	if n := numElements(shape); len(vals) != n {
		return nil, fmt.Errorf("shape %v holds %d values, got %d", shape, n, len(vals))
	}
	dt := DtypeOf[T]()
	buf := bytes.NewBuffer(make([]byte, 0, len(vals)*dt.ItemSize()))
	if err := binary.Write(buf, dt.Order(), vals); err != nil {
		return nil, err
	}
	return &NDArray{dtype: dt, shape: slices.Clone(shape), data: buf.Bytes()}, nil
}

// Values decodes a's elements as T. T must match a's dtype.
func Values[T Number](a *NDArray) ([]T, error) {
	want := DtypeOf[T]()
	if a.dtype.BasicType != want.BasicType && !(a.dtype.BasicType == BTBoolean && want == Uint8) {
		return nil, fmt.Errorf("cannot read %s values as %s", a.dtype, want)
	}
	if a.dtype.ByteSize != want.ByteSize {
		return nil, fmt.Errorf("cannot read %s values as %s", a.dtype, want)
	}
	out := make([]T, a.Size())
	if err := binary.Read(bytes.NewReader(a.data), a.dtype.Order(), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *NDArray) Dtype() Dtype { return a.dtype }

// Shape returns a copy of the array's extent along every axis.
func (a *NDArray) Shape() []int { return slices.Clone(a.shape) }

// Ndim is the number of axes.
func (a *NDArray) Ndim() int { return len(a.shape) }

// Size is the number of elements.
func (a *NDArray) Size() int { return numElements(a.shape) }

// Bytes exposes the encoded element data without copying.
func (a *NDArray) Bytes() []byte { return a.data }

func (a *NDArray) Clone() *NDArray {
	return &NDArray{dtype: a.dtype, shape: slices.Clone(a.shape), data: slices.Clone(a.data)}
}

// Equal reports whether both arrays have the same dtype, shape and contents.
func (a *NDArray) Equal(b *NDArray) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.dtype.Equal(b.dtype) && slices.Equal(a.shape, b.shape) && bytes.Equal(a.data, b.data)
}

func (a *NDArray) String() string {
	return fmt.Sprintf("<NDArray %s %v>", a.dtype, a.shape)
}

// Region copies out the sub-array [offset, offset+shape).
func (a *NDArray) Region(offset, shape []int) (*NDArray, error) {
	if err := checkBounds(a.shape, offset, shape); err != nil {
		return nil, err
	}
	out := NewNDArray(a.dtype, shape)
	copyBox(out.data, out.shape, make([]int, len(shape)), a.data, a.shape, offset, shape, a.dtype.ItemSize())
	return out, nil
}

// SetRegion copies v into a at offset.
func (a *NDArray) SetRegion(offset []int, v *NDArray) error {
	if !a.dtype.Equal(v.dtype) {
		return fmt.Errorf("dtype mismatch: %s into %s", v.dtype, a.dtype)
	}
	if err := checkBounds(a.shape, offset, v.shape); err != nil {
		return err
	}
	copyBox(a.data, a.shape, offset, v.data, v.shape, make([]int, len(v.shape)), v.shape, a.dtype.ItemSize())
	return nil
}

// fill sets every element to the encoded element e.
func (a *NDArray) fill(e []byte) {
	if allZero(e) {
		clear(a.data)
		return
	}
	for i := 0; i < len(a.data); i += len(e) {
		copy(a.data[i:], e)
	}
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
