package tilestore

import (
	"fmt"
	"slices"

	"github.com/qri-io/tilestore/zarr"
)

// overlapGrid buckets tile coordinates by the tile-shaped cell holding
// their origin. A tile can only intersect tiles whose cells are adjacent
// to its own, so a lookup visits at most 3^dims cells.
type overlapGrid struct {
	shape []int
	cells map[Coord][]Coord
}

func (g *overlapGrid) cell(c Coord) (Coord, bool) {
	n := min(c.Len(), len(g.shape))
	vals := make([]int, n)
	for d := range vals {
		vals[d] = c.At(d) / g.shape[d]
	}
	cell, err := NewCoord(vals...)
	return cell, err == nil
}

func (g *overlapGrid) insert(c Coord) {
	if cell, ok := g.cell(c); ok && !slices.Contains(g.cells[cell], c) {
		g.cells[cell] = append(g.cells[cell], c)
	}
}

func (g *overlapGrid) remove(c Coord) {
	cell, ok := g.cell(c)
	if !ok {
		return
	}
	rest := slices.DeleteFunc(g.cells[cell], func(o Coord) bool { return o == c })
	if len(rest) == 0 {
		delete(g.cells, cell)
		return
	}
	g.cells[cell] = rest
}

// neighbours calls fn for every indexed coordinate in the cells around c.
func (g *overlapGrid) neighbours(c Coord, fn func(Coord) bool) {
	center, ok := g.cell(c)
	if !ok {
		return
	}
	lo := make([]int, center.Len())
	hi := make([]int, center.Len())
	for d := range lo {
		lo[d] = max(0, center.At(d)-1)
		hi[d] = center.At(d) + 2
	}
	zarr.ForEachIndex(lo, hi, func(ix []int) bool {
		cell, err := NewCoord(ix...)
		if err != nil {
			return true
		}
		for _, o := range g.cells[cell] {
			if !fn(o) {
				return false
			}
		}
		return true
	})
}

// grid returns the overlap grid for the current tile shape, rebuilding it
// from the index when the shape changed or the index was replaced.
func (s *TilesStore) grid(tileShape []int) *overlapGrid {
	if s.overlaps != nil && slices.Equal(s.overlaps.shape, tileShape) {
		return s.overlaps
	}
	g := &overlapGrid{shape: slices.Clone(tileShape), cells: map[Coord][]Coord{}}
	for c := range s.index.All() {
		g.insert(c)
	}
	s.overlaps = g
	return g
}

// checkOverlap applies the overlap policy to a tile about to be added.
// Re-adding the same coordinate is an overwrite, not an overlap.
func (s *TilesStore) checkOverlap(t *Tile, log *Logger) error {
	if s.opts.overlap == OverlapAllow || s.index.Len() == 0 {
		return nil
	}
	ts := s.canvas.TileShape()
	if ts == nil {
		return nil
	}
	var err error
	s.grid(ts).neighbours(t.Coords, func(c Coord) bool {
		if c == t.Coords || !boxesIntersect(c, t.Coords, ts) {
			return true
		}
		if s.opts.overlap == OverlapForbid {
			err = fmt.Errorf("%w: %s intersects %s", ErrOverlap, t.Coords, c)
			return false
		}
		log.Warn("tile overlaps an existing tile", "existing", c.String())
		return true
	})
	return err
}

func boxesIntersect(a, b Coord, tileShape []int) bool {
	n := min(a.Len(), b.Len(), len(tileShape))
	for d := 0; d < n; d++ {
		lo := max(a.At(d), b.At(d))
		hi := min(a.At(d), b.At(d)) + tileShape[d]
		if lo >= hi {
			return false
		}
	}
	return true
}
