package tilestore

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/qri-io/tilestore/zarr"
)

const attrMaskNames = "names"

// MaskCanvasSet holds one canvas per mask name, each in the coordinate
// system of the primary canvas. A mask's shape is fixed by its first write
// and may differ from the image's in its non-spatial axes.
type MaskCanvasSet struct {
	store   zarr.Store
	path    string
	opts    *options
	arrOpts []zarr.ArrayOption
	log     *Logger

	canvases map[string]*CanvasStore
}

func newMaskCanvasSet(s zarr.Store, path string, o *options, arrOpts []zarr.ArrayOption) *MaskCanvasSet {
	return &MaskCanvasSet{
		store:    s,
		path:     path,
		opts:     o,
		arrOpts:  arrOpts,
		log:      o.logger,
		canvases: map[string]*CanvasStore{},
	}
}

func (m *MaskCanvasSet) load() error {
	attrs, err := zarr.ReadAttrs(m.store, m.path)
	if err != nil {
		return err
	}
	var names []string
	if _, err := attrs.Decode(attrMaskNames, &names); err != nil {
		return fmt.Errorf("reading mask names: %w", err)
	}
	for _, name := range names {
		c := m.canvas(name)
		if err := c.load(); err != nil {
			return err
		}
		if !c.Exists() {
			return fmt.Errorf("%w: mask %q is listed but has no array", ErrNotFound, name)
		}
	}
	return nil
}

func (m *MaskCanvasSet) canvas(name string) *CanvasStore {
	c, ok := m.canvases[name]
	if !ok {
		c = newCanvasStore(m.store, m.path+"/"+name, m.opts, m.arrOpts)
		c.log = m.log.WithMask(name)
		m.canvases[name] = c
	}
	return c
}

// Names lists the known mask names in lexical order.
func (m *MaskCanvasSet) Names() []string {
	names := make([]string, 0, len(m.canvases))
	for name, c := range m.canvases {
		if c.Exists() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Len is the number of masks.
func (m *MaskCanvasSet) Len() int { return len(m.Names()) }

// Has reports whether a mask called name exists.
func (m *MaskCanvasSet) Has(name string) bool {
	c, ok := m.canvases[name]
	return ok && c.Exists()
}

// Shape is the tracked per-tile shape of the named mask.
func (m *MaskCanvasSet) Shape(name string) ([]int, error) {
	if !m.Has(name) {
		return nil, fmt.Errorf("%w: mask %q", ErrNotFound, name)
	}
	return m.canvases[name].TileShape(), nil
}

// Add writes arr for mask name at coords, creating the mask on first use.
func (m *MaskCanvasSet) Add(name string, coords Coord, arr *zarr.NDArray) error {
	if err := validMaskName(name); err != nil {
		return err
	}
	isNew := !m.Has(name)
	c := m.canvas(name)
	if err := c.Add(coords, arr); err != nil {
		if isNew {
			_ = c.delete()
			delete(m.canvases, name)
		}
		return fmt.Errorf("mask %q: %w", name, err)
	}
	if isNew {
		if err := zarr.CreateGroup(m.store, m.path); err != nil {
			return err
		}
		return m.saveNames()
	}
	return nil
}

// Update overwrites the region of an existing mask at coords.
func (m *MaskCanvasSet) Update(name string, coords Coord, arr *zarr.NDArray) error {
	if !m.Has(name) {
		return fmt.Errorf("%w: mask %q", ErrNotFound, name)
	}
	if err := m.canvases[name].Update(coords, arr); err != nil {
		return fmt.Errorf("mask %q: %w", name, err)
	}
	return nil
}

// Get reads the region at coords from every mask, each sized by that
// mask's own tile shape.
func (m *MaskCanvasSet) Get(coords Coord) (map[string]*zarr.NDArray, error) {
	return m.GetSliced(coords, nil)
}

// GetSliced is Get restricted to ranges along the leading axes.
func (m *MaskCanvasSet) GetSliced(coords Coord, ranges []Range) (map[string]*zarr.NDArray, error) {
	names := m.Names()
	if len(names) == 0 {
		return nil, nil
	}
	out := make(map[string]*zarr.NDArray, len(names))
	for _, name := range names {
		c := m.canvases[name]
		offset, shape, err := sliceBox(coords, c.tileShape, ranges)
		if err != nil {
			return nil, fmt.Errorf("mask %q: %w", name, err)
		}
		v, err := c.GetRegion(offset, shape)
		if err != nil {
			return nil, fmt.Errorf("mask %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// clearExcept zeroes the region at coords in every mask not in keep.
func (m *MaskCanvasSet) clearExcept(coords Coord, keep map[string]*zarr.NDArray) error {
	cleared := 0
	for _, name := range m.Names() {
		if _, ok := keep[name]; ok {
			continue
		}
		if err := m.canvases[name].Clear(coords); err != nil {
			return fmt.Errorf("mask %q: %w", name, err)
		}
		cleared++
	}
	if cleared > 0 {
		m.log.WithCoord(coords).Debug("cleared masks absent from replacement tile", "masks", cleared)
	}
	return nil
}

// Remove deletes a mask and all of its pixels.
func (m *MaskCanvasSet) Remove(name string) error {
	if !m.Has(name) {
		return fmt.Errorf("%w: mask %q", ErrNotFound, name)
	}
	if err := m.canvases[name].delete(); err != nil {
		return err
	}
	delete(m.canvases, name)
	return m.saveNames()
}

// setSpatialShape replaces the leading axes of every mask's tile shape.
func (m *MaskCanvasSet) setSpatialShape(spatial []int) error {
	for _, name := range m.Names() {
		c := m.canvases[name]
		ts := c.TileShape()
		copy(ts, spatial[:min(len(spatial), len(ts))])
		if err := c.setTileShape(ts); err != nil {
			return fmt.Errorf("mask %q: %w", name, err)
		}
	}
	return nil
}

func (m *MaskCanvasSet) saveNames() error {
	return zarr.UpdateAttrs(m.store, m.path, zarr.Attributes{attrMaskNames: m.Names()})
}

func validMaskName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".z") {
		return fmt.Errorf("%w: mask name %q", ErrInvalidKey, name)
	}
	return nil
}

// sliceBox turns per-axis ranges relative to a tile at coords into an
// absolute region. Axes without a range span the whole tile.
func sliceBox(coords Coord, tileShape []int, ranges []Range) (offset, shape []int, err error) {
	offset = coords.Pad(len(tileShape))
	shape = slices.Clone(tileShape)
	for d, r := range ranges {
		if d >= len(shape) {
			break
		}
		if r.Start < 0 || r.Start > r.Stop || r.Stop > tileShape[d] {
			return nil, nil, fmt.Errorf("%w: range [%d, %d) on axis %d of a %v tile", ErrInvalidValue, r.Start, r.Stop, d, tileShape)
		}
		offset[d] += r.Start
		shape[d] = r.Len()
	}
	return offset, shape, nil
}
