package tilestore

import (
	"fmt"
	"maps"
	"slices"

	"github.com/qri-io/tilestore/zarr"
)

// Labels annotate a tile with scalars or small arrays. Values must survive a
// JSON round trip, so numbers read back as float64.
type Labels map[string]interface{}

// FeatureRow is one row of per-tile or per-cell features.
type FeatureRow map[string]float64

// Tile is an image patch placed at Coords in the canvas, with its masks and
// metadata. Tiles are values exchanged with collaborators; the store never
// keeps a reference to one.
type Tile struct {
	Image  *zarr.NDArray
	Coords Coord
	// Masks share the spatial shape of Image, leading axes first.
	Masks    map[string]*zarr.NDArray
	Labels   Labels
	Name     string
	Type     string
	Features []FeatureRow
}

// NewTile places image at coords.
func NewTile(image *zarr.NDArray, coords Coord) *Tile {
	return &Tile{Image: image, Coords: coords}
}

// Range selects [Start, Stop) along one axis, relative to a tile's origin.
type Range struct {
	Start, Stop int
}

// Len is the number of elements selected.
func (r Range) Len() int { return r.Stop - r.Start }

func (t *Tile) validate() error {
	if t == nil || t.Image == nil {
		return fmt.Errorf("%w: tile has no image", ErrInvalidValue)
	}
	if t.Coords.IsZero() {
		return fmt.Errorf("%w: tile has no coordinates", ErrInvalidValue)
	}
	if t.Coords.Len() > t.Image.Ndim() {
		return fmt.Errorf("%w: %d dimensional coordinate %s for a %d dimensional image", ErrInvalidValue, t.Coords.Len(), t.Coords, t.Image.Ndim())
	}
	for name, m := range t.Masks {
		if m == nil {
			return fmt.Errorf("%w: mask %q is nil", ErrInvalidValue, name)
		}
		if m.Ndim() < t.Coords.Len() {
			return fmt.Errorf("%w: mask %q has fewer axes than coordinate %s", ErrInvalidValue, name, t.Coords)
		}
		img, msk := t.Image.Shape(), m.Shape()
		if !slices.Equal(img[:t.Coords.Len()], msk[:t.Coords.Len()]) {
			return shapeMismatch("mask "+name, img[:t.Coords.Len()], msk[:t.Coords.Len()])
		}
	}
	return nil
}

func cloneLabels(l Labels) Labels {
	if l == nil {
		return nil
	}
	return maps.Clone(l)
}
