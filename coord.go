package tilestore

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxDims is the largest number of axes a Coord can address.
const MaxDims = 8

// Coord is the placement of a tile's top-left corner in the canvas, one
// non-negative integer per spatial axis. Coords compare with == and can key
// maps directly.
type Coord struct {
	dims int
	c    [MaxDims]int
}

// NewCoord builds a Coord from its components.
func NewCoord(vals ...int) (Coord, error) {
	var c Coord
	if len(vals) == 0 {
		return c, fmt.Errorf("%w: coordinate needs at least one axis", ErrInvalidKey)
	}
	if len(vals) > MaxDims {
		return c, fmt.Errorf("%w: %d axes exceeds the maximum of %d", ErrInvalidKey, len(vals), MaxDims)
	}
	for i, v := range vals {
		if v < 0 {
			return c, fmt.Errorf("%w: negative component %d in %v", ErrInvalidKey, v, vals)
		}
		c.c[i] = v
	}
	c.dims = len(vals)
	return c, nil
}

// MustCoord is NewCoord for literal coordinates. It panics on bad input.
func MustCoord(vals ...int) Coord {
	c, err := NewCoord(vals...)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseCoord reads the string form of a coordinate. Parentheses and
// brackets are optional: "(0, 50)", "(0,50)", "[0, 50]" and "0,50" are all
// the same coordinate.
func ParseCoord(s string) (Coord, error) {
	t := strings.TrimSpace(s)
	if n := len(t); n >= 2 && (t[0] == '(' && t[n-1] == ')' || t[0] == '[' && t[n-1] == ']') {
		t = t[1 : n-1]
	}
	// one-axis tuples may carry a trailing comma, "(5,)"
	t = strings.TrimSuffix(strings.TrimSpace(t), ",")
	if t == "" {
		return Coord{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	parts := strings.Split(t, ",")
	vals := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Coord{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
		}
		vals[i] = v
	}
	return NewCoord(vals...)
}

// Len is the number of axes.
func (c Coord) Len() int { return c.dims }

// At returns the component on axis d.
func (c Coord) At(d int) int { return c.c[d] }

// Ints returns the components as a new slice.
func (c Coord) Ints() []int {
	out := make([]int, c.dims)
	copy(out, c.c[:c.dims])
	return out
}

// Pad returns the components extended with zeros to n axes, the offset of
// the coordinate in an array of n dimensions.
func (c Coord) Pad(n int) []int {
	out := make([]int, max(n, c.dims))
	copy(out, c.c[:c.dims])
	return out
}

// IsZero reports whether c is the zero Coord, which has no axes.
func (c Coord) IsZero() bool { return c.dims == 0 }

func (c Coord) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i := 0; i < c.dims; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(c.c[i]))
	}
	sb.WriteByte(')')
	return sb.String()
}

// MarshalText renders the string form, so Coords can key JSON objects.
func (c Coord) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Coord) UnmarshalText(b []byte) error {
	v, err := ParseCoord(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
