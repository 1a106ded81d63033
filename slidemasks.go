package tilestore

import (
	"fmt"
	"slices"

	"github.com/qri-io/tilestore/zarr"
)

const (
	attrSlideMaskKeys  = "keys"
	attrSlideMaskShape = "shape"
	slideMaskChunk     = 1024
)

// FlatMaskStore keeps slide-level masks that are not tied to tiles. Masks
// are keyed by name and all share the shape of the first one added.
type FlatMaskStore struct {
	store      zarr.Store
	path       string
	compressor *zarr.CompressionMeta
	arrOpts    []zarr.ArrayOption
	log        *Logger

	keys   []string
	shape  []int
	arrays map[string]*zarr.Array
}

func newFlatMaskStore(s zarr.Store, path string, o *options, arrOpts []zarr.ArrayOption) *FlatMaskStore {
	return &FlatMaskStore{
		store:      s,
		path:       path,
		compressor: o.compressor,
		arrOpts:    arrOpts,
		log:        o.logger,
		arrays:     map[string]*zarr.Array{},
	}
}

func (f *FlatMaskStore) load() error {
	attrs, err := zarr.ReadAttrs(f.store, f.path)
	if err != nil {
		return err
	}
	if _, err := attrs.Decode(attrSlideMaskKeys, &f.keys); err != nil {
		return fmt.Errorf("reading slide mask keys: %w", err)
	}
	if _, err := attrs.Decode(attrSlideMaskShape, &f.shape); err != nil {
		return fmt.Errorf("reading slide mask shape: %w", err)
	}
	for _, k := range f.keys {
		arr, err := zarr.Open(f.store, f.arrayPath(k), zarr.ModeReadWrite, f.arrOpts...)
		if err != nil {
			return fmt.Errorf("opening slide mask %q: %w", k, err)
		}
		f.arrays[k] = arr
	}
	return nil
}

// Keys lists mask names in the order they were added.
func (f *FlatMaskStore) Keys() []string { return slices.Clone(f.keys) }

// Len is the number of masks.
func (f *FlatMaskStore) Len() int { return len(f.keys) }

// Shape is the shape shared by every mask, nil before the first Add.
func (f *FlatMaskStore) Shape() []int { return slices.Clone(f.shape) }

// Add stores a new mask. Existing names must be changed with Update.
func (f *FlatMaskStore) Add(name string, mask *zarr.NDArray) error {
	if err := validMaskName(name); err != nil {
		return err
	}
	if _, ok := f.arrays[name]; ok {
		return fmt.Errorf("%w: slide mask %q, use Update", ErrExists, name)
	}
	if err := f.checkShape(mask); err != nil {
		return err
	}
	shape := mask.Shape()
	chunks := make([]int, len(shape))
	for d, s := range shape {
		chunks[d] = max(1, min(s, slideMaskChunk))
	}
	arr, err := zarr.Create(f.store, f.arrayPath(name), &zarr.ArrayMeta{
		Shape:      shape,
		Chunks:     chunks,
		Dtype:      mask.Dtype(),
		Compressor: f.compressor,
	}, f.arrOpts...)
	if err != nil {
		return fmt.Errorf("creating slide mask %q: %w", name, err)
	}
	if err := arr.SetRegion(make([]int, len(shape)), mask); err != nil {
		_ = arr.Delete()
		return err
	}
	f.arrays[name] = arr
	f.keys = append(f.keys, name)
	if f.shape == nil {
		f.shape = shape
	}
	return f.save()
}

// Get returns the name and contents of a mask. key is a mask name or an int
// position in Keys.
func (f *FlatMaskStore) Get(key interface{}) (string, *zarr.NDArray, error) {
	name, err := f.resolve(key)
	if err != nil {
		return "", nil, err
	}
	v, err := f.arrays[name].ReadAll()
	if err != nil {
		return "", nil, err
	}
	return name, v, nil
}

// Update overwrites an existing mask.
func (f *FlatMaskStore) Update(key interface{}, mask *zarr.NDArray) error {
	name, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := f.checkShape(mask); err != nil {
		return err
	}
	arr := f.arrays[name]
	if !arr.Dtype().Equal(mask.Dtype()) {
		return fmt.Errorf("%w: slide mask %q holds %s, got %s", ErrDtypeMismatch, name, arr.Dtype(), mask.Dtype())
	}
	return arr.SetRegion(make([]int, len(f.shape)), mask)
}

// Remove deletes a mask.
func (f *FlatMaskStore) Remove(key interface{}) error {
	name, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := f.arrays[name].Delete(); err != nil {
		return err
	}
	delete(f.arrays, name)
	f.keys = slices.DeleteFunc(f.keys, func(k string) bool { return k == name })
	return f.save()
}

// Slice reads the same sub-region of every mask. Axes without a range are
// read whole.
func (f *FlatMaskStore) Slice(ranges []Range) (map[string]*zarr.NDArray, error) {
	if len(f.keys) == 0 {
		return map[string]*zarr.NDArray{}, nil
	}
	offset, shape, err := sliceBox(Coord{}, f.shape, ranges)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*zarr.NDArray, len(f.keys))
	for _, k := range f.keys {
		v, err := f.arrays[k].GetRegion(offset, shape)
		if err != nil {
			return nil, fmt.Errorf("slide mask %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func (f *FlatMaskStore) resolve(key interface{}) (string, error) {
	switch k := key.(type) {
	case string:
		if _, ok := f.arrays[k]; !ok {
			return "", fmt.Errorf("%w: slide mask %q", ErrNotFound, k)
		}
		return k, nil
	case int:
		if k < 0 || k >= len(f.keys) {
			return "", fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, k, len(f.keys))
		}
		return f.keys[k], nil
	}
	return "", fmt.Errorf("%w: slide masks are keyed by name or position, got %T", ErrInvalidKeyType, key)
}

func (f *FlatMaskStore) checkShape(mask *zarr.NDArray) error {
	if mask == nil {
		return fmt.Errorf("%w: nil mask", ErrInvalidValue)
	}
	if f.shape != nil && !slices.Equal(f.shape, mask.Shape()) {
		return shapeMismatch("slide mask", f.Shape(), mask.Shape())
	}
	return nil
}

func (f *FlatMaskStore) arrayPath(name string) string {
	return f.path + "/" + name
}

func (f *FlatMaskStore) save() error {
	if err := zarr.CreateGroup(f.store, f.path); err != nil {
		return err
	}
	return zarr.UpdateAttrs(f.store, f.path, zarr.Attributes{
		attrSlideMaskKeys:  f.keys,
		attrSlideMaskShape: f.shape,
	})
}
