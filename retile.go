package tilestore

import (
	"fmt"
	"slices"

	"github.com/qri-io/tilestore/zarr"
)

// RetileOptions control Retile.
type RetileOptions struct {
	// CenterCrop centers the new grid in the canvas instead of anchoring it
	// at the origin.
	CenterCrop bool
	// AllowLossy lets a retile whose shape does not evenly divide the
	// canvas proceed, dropping every tile's name and labels.
	AllowLossy bool
}

// RetilePlan is the result of partitioning a canvas into a new grid.
type RetilePlan struct {
	// TileShape is the new tile shape, padded to the canvas dimensions.
	TileShape []int
	// Coords of the new tiles in row-major order.
	Coords []Coord
	// Lossless is true when the new shape evenly divides the canvas, so
	// every new tile lies inside exactly one old tile.
	Lossless bool
}

// PlanRetile partitions a canvas of extent canvas into tiles of newShape
// along its first dims axes. Axes past newShape keep the canvas extent.
// Axes at or past dims are not gridded and must span the canvas.
func PlanRetile(canvas, newShape []int, dims int, centerCrop bool) (*RetilePlan, error) {
	if len(newShape) == 0 || len(newShape) > len(canvas) {
		return nil, fmt.Errorf("%w: tile shape %v for a %d dimensional canvas", ErrInvalidValue, newShape, len(canvas))
	}
	if dims <= 0 || dims > len(canvas) {
		return nil, fmt.Errorf("%w: %d gridded axes for a %d dimensional canvas", ErrInvalidValue, dims, len(canvas))
	}
	full := slices.Clone(canvas)
	copy(full, newShape)
	for d, s := range full {
		if s <= 0 {
			return nil, fmt.Errorf("%w: tile shape %v must be positive", ErrInvalidValue, newShape)
		}
		if d >= dims && s != canvas[d] {
			return nil, fmt.Errorf("%w: axis %d is not tiled, its extent must stay %d, got %d", ErrInvalidValue, d, canvas[d], s)
		}
	}

	plan := &RetilePlan{TileShape: full, Lossless: true}
	cells := make([]int, dims)
	shift := make([]int, dims)
	for d := 0; d < dims; d++ {
		cells[d] = canvas[d] / full[d]
		rem := canvas[d] % full[d]
		if full[d] > canvas[d] || rem != 0 {
			plan.Lossless = false
		}
		if centerCrop {
			shift[d] = rem / 2
		}
	}

	vals := make([]int, dims)
	zarr.ForEachIndex(make([]int, dims), cells, func(ix []int) bool {
		for d := range ix {
			vals[d] = ix[d]*full[d] + shift[d]
		}
		plan.Coords = append(plan.Coords, MustCoord(vals...))
		return true
	})
	return plan, nil
}

// containing returns the coordinate of the tile of shape tileShape that
// holds c, truncated to dims axes.
func containing(c Coord, tileShape []int, dims int) Coord {
	vals := make([]int, min(dims, c.Len()))
	for d := range vals {
		vals[d] = c.At(d) - c.At(d)%tileShape[d]
	}
	return MustCoord(vals...)
}

// Retile re-partitions the canvas into tiles of newShape. The pixels are
// not rewritten; only the index and the tile shape change. When newShape
// evenly divides the canvas every new tile inherits the name, labels and
// type of the old tile containing it. Otherwise all annotations are
// dropped, which requires AllowLossy; without it Retile returns
// ErrLossyRetile and changes nothing.
//
// Feature rows describe the old tiles and are dropped; the count is
// logged.
func (s *TilesStore) Retile(newShape []int, opts RetileOptions) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.canvas.Exists() || s.index.Len() == 0 {
		return fmt.Errorf("%w: no tiles to retile", ErrNotFound)
	}
	dims := s.index.order[0].Len()
	oldShape := s.canvas.TileShape()
	plan, err := PlanRetile(s.canvas.Shape(), newShape, dims, opts.CenterCrop)
	if err != nil {
		return err
	}
	if !plan.Lossless && !opts.AllowLossy {
		return fmt.Errorf("%w: %v does not evenly divide canvas %v", ErrLossyRetile, newShape, s.canvas.Shape())
	}

	dropped, err := s.features.Clear()
	if err != nil {
		return err
	}

	order := make([]Coord, 0, len(plan.Coords))
	entries := make(map[Coord]Entry, len(plan.Coords))
	inherited := 0
	for _, c := range plan.Coords {
		var e Entry
		if plan.Lossless {
			if old, ok := s.index.entries[containing(c, oldShape, dims)]; ok {
				e = old
				e.Labels = cloneLabels(old.Labels)
				inherited++
			}
		}
		order = append(order, c)
		entries[c] = e
	}

	if err := s.canvas.setTileShape(plan.TileShape); err != nil {
		return err
	}
	if err := s.masks.setSpatialShape(plan.TileShape[:dims]); err != nil {
		return err
	}
	s.index.replace(order, entries)
	s.overlaps = nil

	log := s.log.With("from", oldShape, "to", plan.TileShape, "tiles", len(order))
	if plan.Lossless {
		log.Info("retiled", "inherited", inherited)
	} else {
		log.Warn("retiled with a non-dividing shape, tile names and labels dropped")
	}
	if dropped > 0 {
		log.Info("dropped feature rows of the old tiles", "rows", dropped)
	}
	return nil
}
