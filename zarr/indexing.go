package zarr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrOutOfBounds is returned for regions reaching past an array's extent.
var ErrOutOfBounds = errors.New("region out of bounds")

// A mapping of items from chunk to output array. Can be used to extract items
// from the chunk array for loading into an output array. Can also be used to
// extract items from a value array for setting/updating in a chunk array.
type chunkProjection struct {
	// Indices of chunk
	ChunkCoords []int
	// Offset of the selected items within the chunk array.
	ChunkSelection []int
	// Offset of the selected items within the target (output) array.
	OutSelection []int
	// Extent of the selection along every axis.
	Extent []int
}

// covers reports whether the projection spans the whole chunk.
func (p chunkProjection) covers(chunks []int) bool {
	for d, e := range p.Extent {
		if e != chunks[d] {
			return false
		}
	}
	return true
}

// projectRegion splits the region [offset, offset+shape) into one
// projection per chunk it touches.
func projectRegion(offset, shape, chunks []int) []chunkProjection {
	n := len(shape)
	lo := make([]int, n)
	hi := make([]int, n)
	for d := 0; d < n; d++ {
		if shape[d] == 0 {
			return nil
		}
		lo[d] = offset[d] / chunks[d]
		hi[d] = (offset[d]+shape[d]-1)/chunks[d] + 1
	}

	var out []chunkProjection
	forEachIndex(lo, hi, func(ix []int) bool {
		p := chunkProjection{
			ChunkCoords:    append([]int(nil), ix...),
			ChunkSelection: make([]int, n),
			OutSelection:   make([]int, n),
			Extent:         make([]int, n),
		}
		for d := 0; d < n; d++ {
			cStart := ix[d] * chunks[d]
			start := max(cStart, offset[d])
			stop := min(cStart+chunks[d], offset[d]+shape[d])
			p.ChunkSelection[d] = start - cStart
			p.OutSelection[d] = start - offset[d]
			p.Extent[d] = stop - start
		}
		out = append(out, p)
		return true
	})
	return out
}

// forEachIndex visits every index vector in [lo, hi) in row-major order
// until fn returns false. The slice passed to fn is reused between calls.
func forEachIndex(lo, hi []int, fn func(ix []int) bool) {
	n := len(lo)
	for d := 0; d < n; d++ {
		if hi[d] <= lo[d] {
			return
		}
	}
	ix := append([]int(nil), lo...)
	for {
		if !fn(ix) {
			return
		}
		d := n - 1
		for ; d >= 0; d-- {
			ix[d]++
			if ix[d] < hi[d] {
				break
			}
			ix[d] = lo[d]
		}
		if d < 0 {
			return
		}
	}
}

// ForEachIndex is the exported form of forEachIndex for grid enumeration.
func ForEachIndex(lo, hi []int, fn func(ix []int) bool) { forEachIndex(lo, hi, fn) }

// copyBox copies an extent-sized box between two C-ordered buffers, one
// contiguous row of the last axis at a time.
func copyBox(dst []byte, dstShape, dstOff []int, src []byte, srcShape, srcOff []int, extent []int, itemSize int) {
	n := len(extent)
	if n == 0 {
		copy(dst[:itemSize], src[:itemSize])
		return
	}
	for _, e := range extent {
		if e <= 0 {
			return
		}
	}
	dstStrides := strides(dstShape)
	srcStrides := strides(srcShape)
	row := extent[n-1] * itemSize
	ix := make([]int, n)
	for {
		d, s := 0, 0
		for i := 0; i < n; i++ {
			d += (dstOff[i] + ix[i]) * dstStrides[i]
			s += (srcOff[i] + ix[i]) * srcStrides[i]
		}
		d *= itemSize
		s *= itemSize
		copy(dst[d:d+row], src[s:s+row])

		i := n - 2
		for ; i >= 0; i-- {
			ix[i]++
			if ix[i] < extent[i] {
				break
			}
			ix[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

func strides(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		st[d] = acc
		acc *= shape[d]
	}
	return st
}

func numElements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func checkBounds(arrShape, offset, shape []int) error {
	if len(offset) != len(arrShape) || len(shape) != len(arrShape) {
		return fmt.Errorf("%w: region offset %v shape %v on array of %d dimensions", ErrOutOfBounds, offset, shape, len(arrShape))
	}
	for d := range arrShape {
		if offset[d] < 0 || shape[d] < 0 || offset[d]+shape[d] > arrShape[d] {
			return fmt.Errorf("%w: region offset %v shape %v on array shape %v", ErrOutOfBounds, offset, shape, arrShape)
		}
	}
	return nil
}

// ChunkKey generates the key for a chunk given its indices and a separator.
// For Zarr V2, the separator is typically ".".
// Example: indices=[1, 4], separator="." -> "1.4"
func ChunkKey(indices []int, separator string) string {
	if len(indices) == 0 {
		return "0"
	}
	var sb strings.Builder
	for i, idx := range indices {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}
