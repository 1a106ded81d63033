package tilestore

import (
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/qri-io/tilestore/zarr"
)

const attrTileShape = "tile_shape"

// CanvasStore is one resizable, chunked array holding the union of every
// tile region placed so far. The array is created by the first Add, sized
// to that tile's extent from the origin, and grows one axis at a time as
// tiles land further out. Regions never written read as zero.
type CanvasStore struct {
	store      zarr.Store
	path       string
	compressor *zarr.CompressionMeta
	chunkShape []int
	arrOpts    []zarr.ArrayOption
	log        *Logger

	arr       *zarr.Array
	tileShape []int
}

func newCanvasStore(s zarr.Store, path string, o *options, arrOpts []zarr.ArrayOption) *CanvasStore {
	return &CanvasStore{
		store:      s,
		path:       path,
		compressor: o.compressor,
		chunkShape: o.chunkShape,
		arrOpts:    arrOpts,
		log:        o.logger,
	}
}

// load opens the canvas array if one exists at the store path.
func (c *CanvasStore) load() error {
	arr, err := zarr.Open(c.store, c.path, zarr.ModeReadWrite, c.arrOpts...)
	if zarr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening canvas %q: %w", c.path, err)
	}
	attrs, err := arr.Attrs()
	if err != nil {
		return err
	}
	var ts []int
	if ok, err := attrs.Decode(attrTileShape, &ts); err != nil {
		return fmt.Errorf("canvas %q tile shape: %w", c.path, err)
	} else if !ok || len(ts) != len(arr.Shape()) {
		return fmt.Errorf("canvas %q has no valid %s attribute", c.path, attrTileShape)
	}
	c.arr = arr
	c.tileShape = ts
	return nil
}

// Exists reports whether the canvas array has been allocated.
func (c *CanvasStore) Exists() bool { return c.arr != nil }

// TileShape is the shape every tile must have, nil before the first Add.
func (c *CanvasStore) TileShape() []int { return slices.Clone(c.tileShape) }

// Shape is the current canvas extent, nil before the first Add.
func (c *CanvasStore) Shape() []int {
	if c.arr == nil {
		return nil
	}
	return c.arr.Shape()
}

// Dtype is the element type of the canvas, zero before the first Add.
func (c *CanvasStore) Dtype() zarr.Dtype {
	if c.arr == nil {
		return zarr.Dtype{}
	}
	return c.arr.Dtype()
}

// Add writes image at coords, allocating or growing the canvas as needed.
func (c *CanvasStore) Add(coords Coord, image *zarr.NDArray) error {
	if err := c.check(coords, image); err != nil {
		return err
	}
	offset := coords.Pad(image.Ndim())
	need := make([]int, image.Ndim())
	for d, s := range image.Shape() {
		need[d] = offset[d] + s
	}

	if c.arr == nil {
		if err := c.create(need, image); err != nil {
			return err
		}
	} else if err := c.grow(need); err != nil {
		return err
	}
	return c.arr.SetRegion(offset, image)
}

// Update overwrites the region at coords in place. Unlike Add it never
// allocates or grows the canvas.
func (c *CanvasStore) Update(coords Coord, image *zarr.NDArray) error {
	if c.arr == nil {
		return fmt.Errorf("%w: canvas %q is not allocated", ErrNotFound, c.path)
	}
	if err := c.check(coords, image); err != nil {
		return err
	}
	offset := coords.Pad(image.Ndim())
	shape := c.arr.Shape()
	for d, s := range image.Shape() {
		if offset[d]+s > shape[d] {
			return fmt.Errorf("%w: region at %s lies outside canvas %v", ErrNotFound, coords, shape)
		}
	}
	return c.arr.SetRegion(offset, image)
}

// Clear zeroes the tile-shaped region at coords. Parts outside the
// canvas extent already read as zero and are not allocated.
func (c *CanvasStore) Clear(coords Coord) error {
	if c.arr == nil {
		return nil
	}
	offset := coords.Pad(len(c.tileShape))
	ext := c.arr.Shape()
	inner := make([]int, len(ext))
	for d := range ext {
		inner[d] = max(0, min(offset[d]+c.tileShape[d], ext[d])-offset[d])
	}
	if numElements(inner) == 0 {
		return nil
	}
	return c.arr.SetRegion(offset, zarr.NewNDArray(c.arr.Dtype(), inner))
}

// Get reads the tile-shaped region at coords.
func (c *CanvasStore) Get(coords Coord) (*zarr.NDArray, error) {
	if c.arr == nil {
		return nil, fmt.Errorf("%w: canvas %q is not allocated", ErrNotFound, c.path)
	}
	return c.GetRegion(coords.Pad(len(c.tileShape)), c.tileShape)
}

// GetRegion reads [offset, offset+shape). Parts of the region outside the
// canvas extent read as zero, like parts never written.
func (c *CanvasStore) GetRegion(offset, shape []int) (*zarr.NDArray, error) {
	if c.arr == nil {
		return nil, fmt.Errorf("%w: canvas %q is not allocated", ErrNotFound, c.path)
	}
	ext := c.arr.Shape()
	if len(offset) != len(ext) || len(shape) != len(ext) {
		return nil, fmt.Errorf("%w: region offset %v shape %v on %d dimensional canvas", ErrInvalidValue, offset, shape, len(ext))
	}
	inner := make([]int, len(ext))
	clipped := false
	for d := range ext {
		if offset[d] < 0 || shape[d] < 0 {
			return nil, fmt.Errorf("%w: region offset %v shape %v", ErrInvalidValue, offset, shape)
		}
		inner[d] = max(0, min(offset[d]+shape[d], ext[d])-offset[d])
		clipped = clipped || inner[d] != shape[d]
	}
	if !clipped {
		return c.arr.GetRegion(offset, shape)
	}

	out := zarr.NewNDArray(c.arr.Dtype(), shape)
	if numElements(inner) == 0 {
		return out, nil
	}
	part, err := c.arr.GetRegion(offset, inner)
	if err != nil {
		return nil, err
	}
	if err := out.SetRegion(make([]int, len(shape)), part); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CanvasStore) check(coords Coord, image *zarr.NDArray) error {
	if image == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidValue)
	}
	if coords.Len() > image.Ndim() {
		return fmt.Errorf("%w: %d dimensional coordinate %s for a %d dimensional array", ErrInvalidValue, coords.Len(), coords, image.Ndim())
	}
	if c.tileShape != nil && !slices.Equal(c.tileShape, image.Shape()) {
		return shapeMismatch("tile", c.TileShape(), image.Shape())
	}
	if c.arr != nil && !c.arr.Dtype().Equal(image.Dtype()) {
		return fmt.Errorf("%w: canvas holds %s, got %s", ErrDtypeMismatch, c.arr.Dtype(), image.Dtype())
	}
	return nil
}

func (c *CanvasStore) create(shape []int, image *zarr.NDArray) error {
	tileShape := image.Shape()
	chunks := slices.Clone(tileShape)
	for d := 0; d < len(c.chunkShape) && d < len(chunks); d++ {
		if c.chunkShape[d] > 0 {
			chunks[d] = c.chunkShape[d]
		}
	}
	arr, err := zarr.Create(c.store, c.path, &zarr.ArrayMeta{
		Shape:      shape,
		Chunks:     chunks,
		Dtype:      image.Dtype(),
		Compressor: c.compressor,
	}, c.arrOpts...)
	if err != nil {
		return fmt.Errorf("creating canvas %q: %w", c.path, err)
	}
	if err := arr.UpdateAttrs(zarr.Attributes{attrTileShape: tileShape}); err != nil {
		return err
	}
	c.arr = arr
	c.tileShape = tileShape
	c.log.Debug("canvas created", "path", c.path, "shape", shape, "chunks", chunks, "dtype", image.Dtype().String())
	return nil
}

// grow extends every axis whose extent is below need.
func (c *CanvasStore) grow(need []int) error {
	cur := c.arr.Shape()
	next := slices.Clone(cur)
	grown := false
	for d := range next {
		if need[d] > next[d] {
			next[d] = need[d]
			grown = true
		}
	}
	if !grown {
		return nil
	}
	if err := c.arr.Resize(next); err != nil {
		return fmt.Errorf("growing canvas %q: %w", c.path, err)
	}
	c.log.Debug("canvas grown", "path", c.path, "from", cur, "to", next, "size", humanize.Bytes(uint64(c.arr.NBytes())))
	return nil
}

// setTileShape changes the logical tile shape. The pixels are untouched.
func (c *CanvasStore) setTileShape(shape []int) error {
	if c.arr == nil {
		return fmt.Errorf("%w: canvas %q is not allocated", ErrNotFound, c.path)
	}
	if len(shape) != len(c.tileShape) {
		return fmt.Errorf("%w: tile shape %v for %d dimensional canvas", ErrInvalidValue, shape, len(c.tileShape))
	}
	if err := c.arr.UpdateAttrs(zarr.Attributes{attrTileShape: shape}); err != nil {
		return err
	}
	c.tileShape = slices.Clone(shape)
	return nil
}

func (c *CanvasStore) delete() error {
	if c.arr == nil {
		return nil
	}
	if err := c.arr.Delete(); err != nil {
		return err
	}
	c.arr = nil
	c.tileShape = nil
	return nil
}

func numElements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
