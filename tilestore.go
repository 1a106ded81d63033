// Package tilestore accumulates the tiles of a whole-slide image into one
// growable, chunked, compressed canvas addressed by coordinate, together
// with per-pixel masks, per-tile metadata and feature rows.
//
// A TilesStore exclusively owns one zarr.Store. Pixels stay in the store;
// the tile index lives in memory and is persisted by Flush and Close. The
// store is not safe for concurrent use.
package tilestore

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/blang/semver"
	"github.com/qri-io/tilestore/zarr"
)

// FormatVersion is the container layout version written by this package.
// Containers with a different major version are rejected by Open.
var FormatVersion = semver.MustParse("1.0.0")

const (
	attrFormat     = "tilestore_format"
	canvasPath     = "array"
	masksPath      = "masks"
	tilesPath      = "tiles"
	slideMasksPath = "slide_masks"
)

// TilesStore composes the canvas, the mask canvases, the tile index and the
// feature table over one backing store.
type TilesStore struct {
	store  zarr.Store
	opts   options
	log    *Logger
	closed bool

	canvas     *CanvasStore
	masks      *MaskCanvasSet
	index      *TileIndex
	features   *FeatureTable
	slideMasks *FlatMaskStore

	overlaps *overlapGrid
}

func newTilesStore(store zarr.Store, opts []Option) *TilesStore {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	arrOpts := o.arrayOptions()
	return &TilesStore{
		store:      store,
		opts:       o,
		log:        o.logger,
		canvas:     newCanvasStore(store, canvasPath, &o, arrOpts),
		masks:      newMaskCanvasSet(store, masksPath, &o, arrOpts),
		index:      NewTileIndex(),
		features:   newFeatureTable(store, o.logger),
		slideMasks: newFlatMaskStore(store, slideMasksPath, &o, arrOpts),
	}
}

// New initializes an empty container in store. It fails with ErrExists if
// store already holds one.
func New(store zarr.Store, opts ...Option) (*TilesStore, error) {
	if Exists(store) {
		return nil, fmt.Errorf("%w: store already holds a tile container", ErrExists)
	}
	s := newTilesStore(store, opts)
	if err := zarr.CreateGroup(store, ""); err != nil {
		return nil, err
	}
	if err := zarr.UpdateAttrs(store, "", zarr.Attributes{attrFormat: FormatVersion.String()}); err != nil {
		return nil, err
	}
	s.log.Debug("created tile container", "store", store.Type())
	return s, nil
}

// Open loads the container held in store.
func Open(store zarr.Store, opts ...Option) (*TilesStore, error) {
	attrs, err := zarr.ReadAttrs(store, "")
	if err != nil {
		return nil, err
	}
	var v string
	if ok, err := attrs.Decode(attrFormat, &v); err != nil || !ok {
		return nil, fmt.Errorf("%w: store holds no tile container", ErrNotFound)
	}
	ver, err := semver.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("%w: format version %q: %s", ErrIncompatibleFormat, v, err)
	}
	if ver.Major != FormatVersion.Major {
		return nil, fmt.Errorf("%w: container format %s, this package reads %d.x", ErrIncompatibleFormat, ver, FormatVersion.Major)
	}

	s := newTilesStore(store, opts)
	if err := s.canvas.load(); err != nil {
		return nil, err
	}
	if err := s.masks.load(); err != nil {
		return nil, err
	}
	if err := s.index.load(store, tilesPath); err != nil {
		return nil, err
	}
	if err := s.slideMasks.load(); err != nil {
		return nil, err
	}
	s.log.Debug("opened tile container", "store", store.Type(), "format", ver.String(), "tiles", s.index.Len())
	return s, nil
}

// Exists reports whether store holds a tile container.
func Exists(store zarr.Store) bool {
	attrs, err := zarr.ReadAttrs(store, "")
	if err != nil {
		return false
	}
	_, ok := attrs[attrFormat]
	return ok
}

// Len is the number of tiles.
func (s *TilesStore) Len() int { return s.index.Len() }

// Keys returns every tile coordinate in insertion order.
func (s *TilesStore) Keys() []Coord { return s.index.Keys() }

// TileShape is the shape of every tile, nil before the first Add.
func (s *TilesStore) TileShape() []int { return s.canvas.TileShape() }

// CanvasShape is the extent of the canvas, nil before the first Add.
func (s *TilesStore) CanvasShape() []int { return s.canvas.Shape() }

// Index is the in-memory tile index.
func (s *TilesStore) Index() *TileIndex { return s.index }

// Masks is the set of per-tile mask canvases.
func (s *TilesStore) Masks() *MaskCanvasSet { return s.masks }

// SlideMasks holds masks covering the whole slide.
func (s *TilesStore) SlideMasks() *FlatMaskStore { return s.slideMasks }

// Features is the table of per-tile feature rows.
func (s *TilesStore) Features() *FeatureTable { return s.features }

// Store is the backing store. Writing to it directly bypasses the index.
func (s *TilesStore) Store() zarr.Store { return s.store }

// Add writes a tile's pixels and masks into the canvas, indexes it and
// appends its feature rows. A tile at a coordinate already present
// replaces the earlier one, including its feature rows. Masks the
// replacement does not carry are cleared at its region.
//
// Add is not atomic: if it fails part way the canvas may hold pixels the
// index does not describe.
func (s *TilesStore) Add(t *Tile) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := t.validate(); err != nil {
		return err
	}
	log := s.log.WithCoord(t.Coords)
	if err := s.checkOverlap(t, log); err != nil {
		return err
	}

	present := s.index.Has(t.Coords)
	if err := s.canvas.Add(t.Coords, t.Image); err != nil {
		return err
	}
	if err := s.writeMasks(t.Coords, t.Masks, present); err != nil {
		return err
	}
	overwrote := s.index.Add(t.Coords, Entry{Name: t.Name, Labels: t.Labels, Type: t.Type})
	if overwrote {
		log.Info("tile already present; overwriting")
	} else if s.overlaps != nil {
		s.overlaps.insert(t.Coords)
	}
	if len(t.Features) > 0 || overwrote {
		if err := s.features.Append(t.Coords, t.Features); err != nil {
			return err
		}
	}
	return nil
}

// Get reassembles the tile key resolves to. key is anything
// TileIndex.Resolve accepts.
func (s *TilesStore) Get(key interface{}) (*Tile, error) {
	return s.GetSliced(key, nil)
}

// GetSliced is Get restricted to ranges along the leading axes of the
// image and masks, relative to the tile's origin.
func (s *TilesStore) GetSliced(key interface{}, ranges []Range) (*Tile, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	c, e, err := s.index.Get(key)
	if err != nil {
		return nil, err
	}
	return s.read(c, e, ranges)
}

func (s *TilesStore) read(c Coord, e Entry, ranges []Range) (*Tile, error) {
	offset, shape, err := sliceBox(c, s.canvas.TileShape(), ranges)
	if err != nil {
		return nil, err
	}
	img, err := s.canvas.GetRegion(offset, shape)
	if err != nil {
		return nil, err
	}
	masks, err := s.masks.GetSliced(c, ranges)
	if err != nil {
		return nil, err
	}
	rows, err := s.features.Rows(c)
	if err != nil {
		return nil, err
	}
	return &Tile{
		Image:    img,
		Coords:   c,
		Masks:    masks,
		Labels:   cloneLabels(e.Labels),
		Name:     e.Name,
		Type:     e.Type,
		Features: rows,
	}, nil
}

// Slice yields every tile in insertion order, each restricted to ranges.
// A nil ranges yields whole tiles. Iteration stops after the first error.
func (s *TilesStore) Slice(ranges []Range) iter.Seq2[*Tile, error] {
	return func(yield func(*Tile, error) bool) {
		if err := s.checkOpen(); err != nil {
			yield(nil, err)
			return
		}
		for c, e := range s.index.All() {
			t, err := s.read(c, e, ranges)
			if !yield(t, err) || err != nil {
				return
			}
		}
	}
}

// Update changes one part of an existing tile.
//
//   - FieldAll takes a *Tile and replaces pixels, masks, metadata and
//     feature rows. Its Coords are ignored.
//   - FieldImage takes a *zarr.NDArray.
//   - FieldName takes a string and FieldLabels a Labels.
//
// Masks cannot be updated here; use Masks().Update.
func (s *TilesStore) Update(key interface{}, field Field, value interface{}) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	c, err := s.index.Resolve(key)
	if err != nil {
		return err
	}
	switch field {
	case FieldAll:
		t, ok := value.(*Tile)
		if !ok || t == nil {
			return fmt.Errorf("%w: updating all needs a *Tile, got %T", ErrInvalidValue, value)
		}
		nt := *t
		nt.Coords = c
		if err := nt.validate(); err != nil {
			return err
		}
		if err := s.canvas.Update(c, nt.Image); err != nil {
			return err
		}
		if err := s.writeMasks(c, nt.Masks, true); err != nil {
			return err
		}
		s.index.Add(c, Entry{Name: nt.Name, Labels: nt.Labels, Type: nt.Type})
		return s.features.Append(c, nt.Features)
	case FieldImage:
		img, ok := value.(*zarr.NDArray)
		if !ok || img == nil {
			return fmt.Errorf("%w: updating image needs a *zarr.NDArray, got %T", ErrInvalidValue, value)
		}
		return s.canvas.Update(c, img)
	case FieldMasks:
		return fmt.Errorf("%w: update masks through the mask set", ErrNotImplemented)
	case FieldName, FieldLabels:
		return s.index.Update(c, field, value)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedField, field)
}

// Remove drops a tile from the index along with its feature rows. Its
// pixels stay in the canvas.
func (s *TilesStore) Remove(key interface{}) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	c, err := s.index.Remove(key)
	if err != nil {
		return err
	}
	if s.overlaps != nil {
		s.overlaps.remove(c)
	}
	return s.features.Remove(c)
}

// writeMasks writes a tile's masks at c. When the tile replaces another,
// masks it does not carry are cleared so none of the old tile's remain.
func (s *TilesStore) writeMasks(c Coord, masks map[string]*zarr.NDArray, replacing bool) error {
	for _, name := range sortedKeys(masks) {
		if err := s.masks.Add(name, c, masks[name]); err != nil {
			return err
		}
	}
	if !replacing {
		return nil
	}
	return s.masks.clearExcept(c, masks)
}

// Flush persists the tile index and consolidates the container metadata.
func (s *TilesStore) Flush() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := zarr.CreateGroup(s.store, tilesPath); err != nil {
		return err
	}
	if err := s.index.save(s.store, tilesPath); err != nil {
		return fmt.Errorf("saving tile index: %w", err)
	}
	return zarr.Consolidate(s.store)
}

// CopyTo flushes the container and copies every key of it into dst.
func (s *TilesStore) CopyTo(dst zarr.Store) error {
	if err := s.Flush(); err != nil {
		return err
	}
	return zarr.Copy(dst, s.store, "")
}

// Close flushes the container and releases the backing store if it holds
// resources. The store is released even when flushing fails.
func (s *TilesStore) Close() error {
	if s.closed {
		return nil
	}
	err := s.Flush()
	s.closed = true
	if c, ok := s.store.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	for _, c := range s.opts.closers {
		err = errors.Join(err, c.Close())
	}
	return err
}

func (s *TilesStore) checkOpen() error {
	if s.closed {
		return errors.New("tile store is closed")
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
