package tilestore

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"

	"github.com/qri-io/tilestore/zarr"
)

const attrTiles = "tiles"

// Field names a part of a tile for Update.
type Field string

const (
	FieldAll    Field = "all"
	FieldImage  Field = "image"
	FieldMasks  Field = "masks"
	FieldLabels Field = "labels"
	FieldName   Field = "name"
)

// Entry is the metadata the index keeps for one tile. It holds no pixels.
type Entry struct {
	Name   string
	Labels Labels
	Type   string
}

// TileIndex maps tile coordinates to their metadata in insertion order. It
// lives in memory; the pixels it describes stay in the canvas.
type TileIndex struct {
	order   []Coord
	entries map[Coord]Entry
}

// NewTileIndex returns an empty index.
func NewTileIndex() *TileIndex {
	return &TileIndex{entries: map[Coord]Entry{}}
}

// Len is the number of tiles.
func (x *TileIndex) Len() int { return len(x.order) }

// Keys returns every coordinate in insertion order.
func (x *TileIndex) Keys() []Coord { return slices.Clone(x.order) }

// Has reports whether a tile is indexed at c.
func (x *TileIndex) Has(c Coord) bool {
	_, ok := x.entries[c]
	return ok
}

// Add inserts or replaces the entry at coords. A replaced entry keeps its
// position. Add reports whether an entry was replaced.
func (x *TileIndex) Add(coords Coord, e Entry) (overwrote bool) {
	if coords.IsZero() {
		return false
	}
	_, overwrote = x.entries[coords]
	if !overwrote {
		x.order = append(x.order, coords)
	}
	e.Labels = cloneLabels(e.Labels)
	x.entries[coords] = e
	return overwrote
}

// Resolve turns a key into the coordinate of an indexed tile. Keys may be
// a Coord, an []int, the string form of a coordinate, or an int position
// in insertion order.
func (x *TileIndex) Resolve(key interface{}) (Coord, error) {
	var (
		c   Coord
		err error
	)
	switch k := key.(type) {
	case Coord:
		c = k
	case *Coord:
		if k == nil {
			return Coord{}, fmt.Errorf("%w: nil coordinate", ErrInvalidKeyType)
		}
		c = *k
	case []int:
		c, err = NewCoord(k...)
	case string:
		c, err = ParseCoord(k)
	case int:
		return x.At(k)
	case int64:
		return x.At(int(k))
	case int32:
		return x.At(int(k))
	default:
		return Coord{}, fmt.Errorf("%w: %T", ErrInvalidKeyType, key)
	}
	if err != nil {
		return Coord{}, err
	}
	if !x.Has(c) {
		return Coord{}, fmt.Errorf("%w: tile %s", ErrNotFound, c)
	}
	return c, nil
}

// At returns the coordinate at position i.
func (x *TileIndex) At(i int) (Coord, error) {
	if i < 0 || i >= len(x.order) {
		return Coord{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, len(x.order))
	}
	return x.order[i], nil
}

// Position returns the insertion position of c, or -1.
func (x *TileIndex) Position(c Coord) int {
	return slices.Index(x.order, c)
}

// Get returns the coordinate and entry key resolves to.
func (x *TileIndex) Get(key interface{}) (Coord, Entry, error) {
	c, err := x.Resolve(key)
	if err != nil {
		return Coord{}, Entry{}, err
	}
	e := x.entries[c]
	e.Labels = cloneLabels(e.Labels)
	return c, e, nil
}

// Update sets the name or labels of an entry. Other fields are the store's
// to update.
func (x *TileIndex) Update(key interface{}, field Field, value interface{}) error {
	c, err := x.Resolve(key)
	if err != nil {
		return err
	}
	e := x.entries[c]
	switch field {
	case FieldName:
		name, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: name must be a string, got %T", ErrInvalidValue, value)
		}
		e.Name = name
	case FieldLabels:
		switch l := value.(type) {
		case nil:
			e.Labels = nil
		case Labels:
			e.Labels = cloneLabels(l)
		case map[string]interface{}:
			e.Labels = cloneLabels(Labels(l))
		default:
			return fmt.Errorf("%w: labels must be a map, got %T", ErrInvalidValue, value)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedField, field)
	}
	x.entries[c] = e
	return nil
}

// Remove deletes the entry key resolves to and returns its coordinate.
func (x *TileIndex) Remove(key interface{}) (Coord, error) {
	c, err := x.Resolve(key)
	if err != nil {
		return Coord{}, err
	}
	delete(x.entries, c)
	i := x.Position(c)
	x.order = slices.Delete(x.order, i, i+1)
	return c, nil
}

// All yields every coordinate and entry in insertion order. The sequence
// may be ranged over any number of times.
func (x *TileIndex) All() iter.Seq2[Coord, Entry] {
	return func(yield func(Coord, Entry) bool) {
		for _, c := range x.order {
			e, ok := x.entries[c]
			if !ok {
				continue
			}
			if !yield(c, e) {
				return
			}
		}
	}
}

// replace swaps in a whole new set of entries, keeping the given order.
func (x *TileIndex) replace(order []Coord, entries map[Coord]Entry) {
	x.order = order
	x.entries = entries
}

type indexRecord struct {
	Coords []int  `json:"coords"`
	Name   string `json:"name,omitempty"`
	Labels Labels `json:"labels,omitempty"`
	Type   string `json:"type,omitempty"`
}

func (x *TileIndex) MarshalJSON() ([]byte, error) {
	recs := make([]indexRecord, 0, len(x.order))
	for c, e := range x.All() {
		recs = append(recs, indexRecord{Coords: c.Ints(), Name: e.Name, Labels: e.Labels, Type: e.Type})
	}
	return json.Marshal(recs)
}

func (x *TileIndex) UnmarshalJSON(d []byte) error {
	var recs []indexRecord
	if err := json.Unmarshal(d, &recs); err != nil {
		return err
	}
	order := make([]Coord, 0, len(recs))
	entries := make(map[Coord]Entry, len(recs))
	for _, r := range recs {
		c, err := NewCoord(r.Coords...)
		if err != nil {
			return err
		}
		if _, dup := entries[c]; !dup {
			order = append(order, c)
		}
		entries[c] = Entry{Name: r.Name, Labels: r.Labels, Type: r.Type}
	}
	x.replace(order, entries)
	return nil
}

func (x *TileIndex) save(s zarr.Store, path string) error {
	d, err := json.Marshal(x)
	if err != nil {
		return err
	}
	return zarr.UpdateAttrs(s, path, zarr.Attributes{attrTiles: json.RawMessage(d)})
}

func (x *TileIndex) load(s zarr.Store, path string) error {
	attrs, err := zarr.ReadAttrs(s, path)
	if err != nil {
		return err
	}
	raw, ok := attrs[attrTiles]
	if !ok {
		x.replace(nil, map[Coord]Entry{})
		return nil
	}
	d, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(d, x); err != nil {
		return fmt.Errorf("reading tile index: %w", err)
	}
	return nil
}
