package zarr

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/coocood/freecache"
	"golang.org/x/sync/errgroup"
)

const (
	// Version is the current version of this library.
	Version = FormatVersion

	defaultConcurrency = 4
)

var (
	// ErrExists is returned when creating an array over an existing one.
	ErrExists = errors.New("already exists")
	// ErrReadOnly is returned for writes to an array opened with ModeRead.
	ErrReadOnly = errors.New("array is read only")
)

// Array is a chunked, compressed N-dimensional array held in a Store. Chunk
// keys depend only on chunk grid indices, so the array can grow along any
// axis by rewriting its metadata alone.
type Array struct {
	path        Path
	store       Store
	mode        PersistenceMode
	meta        *ArrayMeta
	fill        []byte
	cache       *freecache.Cache
	concurrency int
}

// ArrayOption configures how an Array accesses its chunks.
type ArrayOption func(*Array)

// WithChunkCache keeps decompressed chunks in c. One cache may be shared by
// many arrays since entries are keyed by full chunk path.
func WithChunkCache(c *freecache.Cache) ArrayOption {
	return func(a *Array) { a.cache = c }
}

// WithConcurrency bounds the number of chunks read or written at once by a
// single region operation.
func WithConcurrency(n int) ArrayOption {
	return func(a *Array) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

func newArray(store Store, path string, mode PersistenceMode, opts []ArrayOption) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	a := &Array{
		path:        p,
		store:       store,
		mode:        mode,
		concurrency: defaultConcurrency,
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	return a, nil
}

// Create writes a new array at path. It fails with ErrExists if an array is
// already there.
func Create(store Store, path string, m *ArrayMeta, opts ...ArrayOption) (*Array, error) {
	a, err := newArray(store, path, ModeReadWrite, opts)
	if err != nil {
		return nil, err
	}
	if rc, err := store.Get(a.metaKey()); err == nil {
		rc.Close()
		return nil, fmt.Errorf("%w: array at %q", ErrExists, path)
	}

	meta := *m
	meta.ZarrFormat = FormatVersion
	meta.Shape = slices.Clone(m.Shape)
	meta.Chunks = slices.Clone(m.Chunks)
	if meta.Order == "" {
		meta.Order = "C"
	}
	if err := a.setMeta(&meta); err != nil {
		return nil, err
	}
	if err := a.writeMeta(); err != nil {
		return nil, err
	}
	return a, nil
}

// Open loads the array at path. It fails with a not found error if there
// is none.
func Open(store Store, path string, mode PersistenceMode, opts ...ArrayOption) (*Array, error) {
	switch mode {
	case ModeRead, ModeReadWrite:
	default:
		return nil, fmt.Errorf("unsupported persistence mode %q", mode)
	}
	a, err := newArray(store, path, mode, opts)
	if err != nil {
		return nil, err
	}

	meta := &ArrayMeta{}
	if err := readJSON(store, a.metaKey(), meta); err != nil {
		return nil, err
	}
	if err := a.setMeta(meta); err != nil {
		return nil, fmt.Errorf("array %q: %w", path, err)
	}
	return a, nil
}

func (a *Array) setMeta(m *ArrayMeta) error {
	if err := m.Validate(); err != nil {
		return err
	}
	fill, err := m.Dtype.fillBytes(m.FillValue)
	if err != nil {
		return err
	}
	a.meta = m
	a.fill = fill
	return nil
}

func (a *Array) Info() string {
	return fmt.Sprintf("<zarr-go.Array %s shape=%v chunks=%v dtype=%s>", a.Path(), a.meta.Shape, a.meta.Chunks, a.meta.Dtype)
}

func (a *Array) Path() string {
	return a.path.String()
}

// Meta returns a copy of the array metadata.
func (a *Array) Meta() ArrayMeta {
	m := *a.meta
	m.Shape = slices.Clone(a.meta.Shape)
	m.Chunks = slices.Clone(a.meta.Chunks)
	return m
}

func (a *Array) Shape() []int  { return slices.Clone(a.meta.Shape) }
func (a *Array) Chunks() []int { return slices.Clone(a.meta.Chunks) }
func (a *Array) Dtype() Dtype  { return a.meta.Dtype }

// NBytes is the uncompressed size of the whole array.
func (a *Array) NBytes() int64 {
	return int64(numElements(a.meta.Shape)) * int64(a.meta.Dtype.ItemSize())
}

// Attrs reads the array's user attributes.
func (a *Array) Attrs() (Attributes, error) {
	return ReadAttrs(a.store, a.Path())
}

// UpdateAttrs merges attrs into the array's user attributes.
func (a *Array) UpdateAttrs(attrs Attributes) error {
	if a.mode == ModeRead {
		return ErrReadOnly
	}
	return UpdateAttrs(a.store, a.Path(), attrs)
}

// Resize changes the array extent. Axes may only grow; elements exposed by
// growth read as the fill value.
func (a *Array) Resize(shape []int) error {
	if a.mode == ModeRead {
		return ErrReadOnly
	}
	if len(shape) != len(a.meta.Shape) {
		return fmt.Errorf("cannot resize %d dimensional array to shape %v", len(a.meta.Shape), shape)
	}
	for d := range shape {
		if shape[d] < a.meta.Shape[d] {
			return fmt.Errorf("resize cannot shrink axis %d from %d to %d", d, a.meta.Shape[d], shape[d])
		}
	}
	if slices.Equal(shape, a.meta.Shape) {
		return nil
	}
	prev := a.meta.Shape
	a.meta.Shape = slices.Clone(shape)
	if err := a.writeMeta(); err != nil {
		a.meta.Shape = prev
		return err
	}
	return nil
}

// ReadAll reads the whole array into memory.
func (a *Array) ReadAll() (*NDArray, error) {
	return a.GetRegion(make([]int, len(a.meta.Shape)), a.meta.Shape)
}

// GetRegion reads the box [offset, offset+shape). Chunks never written read
// as the fill value.
func (a *Array) GetRegion(offset, shape []int) (*NDArray, error) {
	if err := checkBounds(a.meta.Shape, offset, shape); err != nil {
		return nil, err
	}
	out := NewNDArray(a.meta.Dtype, shape)
	out.fill(a.fill)
	itemSize := a.meta.Dtype.ItemSize()

	g := new(errgroup.Group)
	g.SetLimit(a.concurrency)
	for _, p := range projectRegion(offset, shape, a.meta.Chunks) {
		g.Go(func() error {
			chunk, ok, err := a.readChunk(p.ChunkCoords)
			if err != nil || !ok {
				return err
			}
			copyBox(out.data, shape, p.OutSelection, chunk, a.meta.Chunks, p.ChunkSelection, p.Extent, itemSize)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetRegion writes v into the box starting at offset.
func (a *Array) SetRegion(offset []int, v *NDArray) error {
	if a.mode == ModeRead {
		return ErrReadOnly
	}
	if !a.meta.Dtype.Equal(v.dtype) {
		return fmt.Errorf("cannot write %s data into %s array", v.dtype, a.meta.Dtype)
	}
	if err := checkBounds(a.meta.Shape, offset, v.shape); err != nil {
		return err
	}
	itemSize := a.meta.Dtype.ItemSize()
	chunkBytes := numElements(a.meta.Chunks) * itemSize

	g := new(errgroup.Group)
	g.SetLimit(a.concurrency)
	for _, p := range projectRegion(offset, v.shape, a.meta.Chunks) {
		g.Go(func() error {
			var chunk []byte
			if !p.covers(a.meta.Chunks) {
				existing, ok, err := a.readChunk(p.ChunkCoords)
				if err != nil {
					return err
				}
				if ok {
					chunk = existing
				}
			}
			if chunk == nil {
				c := &NDArray{dtype: a.meta.Dtype, shape: a.meta.Chunks, data: make([]byte, chunkBytes)}
				c.fill(a.fill)
				chunk = c.data
			}
			copyBox(chunk, a.meta.Chunks, p.ChunkSelection, v.data, v.shape, p.OutSelection, p.Extent, itemSize)
			return a.writeChunk(p.ChunkCoords, chunk)
		})
	}
	return g.Wait()
}

// Delete removes the array metadata and every chunk.
func (a *Array) Delete() error {
	if a.mode == ModeRead {
		return ErrReadOnly
	}
	if a.cache != nil {
		keys, err := a.store.List(a.Path() + "/")
		if err != nil {
			return err
		}
		for _, k := range keys {
			a.cache.Del([]byte(k))
		}
	}
	return DeletePrefix(a.store, a.Path())
}

// DeletePrefix removes every key at or below path.
func DeletePrefix(s Store, path string) error {
	prefix := path
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	keys, err := s.List(prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.Delete(k); err != nil && !IsNotFound(err) {
			return err
		}
	}
	return nil
}

// readChunk returns the decompressed chunk at ch, or ok == false if the
// chunk was never written.
func (a *Array) readChunk(ch []int) (data []byte, ok bool, err error) {
	key := a.chunkPath(ch).String()
	if a.cache != nil {
		if d, err := a.cache.Get([]byte(key)); err == nil {
			return d, true, nil
		}
	}
	rc, err := a.store.Get(key)
	if IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, err = a.meta.Compressor.decode(rc)
	if err != nil {
		return nil, false, fmt.Errorf("reading chunk %q: %w", key, err)
	}
	if want := numElements(a.meta.Chunks) * a.meta.Dtype.ItemSize(); len(data) != want {
		return nil, false, fmt.Errorf("chunk %q holds %d bytes, want %d", key, len(data), want)
	}
	if a.cache != nil {
		// entries over the cache's size limit are simply not cached
		_ = a.cache.Set([]byte(key), data, 0)
	}
	return data, true, nil
}

func (a *Array) writeChunk(ch []int, data []byte) error {
	key := a.chunkPath(ch).String()
	enc, err := a.meta.Compressor.encode(data)
	if err != nil {
		return fmt.Errorf("compressing chunk %q: %w", key, err)
	}
	if err := WriteKey(a.store, key, enc); err != nil {
		return err
	}
	if a.cache != nil {
		if err := a.cache.Set([]byte(key), data, 0); err != nil {
			a.cache.Del([]byte(key))
		}
	}
	return nil
}

func (a *Array) writeMeta() error {
	return writeJSON(a.store, a.metaKey(), a.meta)
}

func (a *Array) metaKey() string {
	return a.path.Join(string(MTArray)).String()
}

func (a *Array) chunkPath(ch []int) Path {
	return a.path.Join(ChunkKey(ch, a.meta.separator()))
}

// PersistenceMode controls what an opened array may do. Arrays are made
// with Create, so both modes require the array to exist.
type PersistenceMode string

const (
	// ModeRead opens an array read only.
	ModeRead PersistenceMode = "r"
	// ModeReadWrite opens an array for reading and writing.
	ModeReadWrite PersistenceMode = "r+"
)

type Path []string

// NewPath normalizes a logical path:
// * Replace all backward slash characters (”\”) with forward slash characters (“/”)
// * Strip any leading “/” characters
// * Strip any trailing “/” characters
// * Collapse any sequence of more than one “/” character into a single “/” character
func NewPath(posix string) (Path, error) {
	posix = strings.ReplaceAll(posix, "\\", "/")
	var p Path
	for _, seg := range strings.Split(posix, "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("invalid path segment %q in %q", seg, posix)
		}
		p = append(p, seg)
	}
	return p, nil
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

func (p Path) Join(elems ...string) Path {
	out := make(Path, 0, len(p)+len(elems))
	return append(append(out, p...), elems...)
}
