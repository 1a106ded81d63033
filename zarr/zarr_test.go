package zarr

import (
	"errors"
	"testing"

	"github.com/coocood/freecache"
)

var metaOne = &ArrayMeta{
	Shape:      []int{10, 12},
	Chunks:     []int{4, 5},
	Dtype:      Uint8,
	Compressor: &CompressionMeta{ID: CompressorGzip, Clevel: 5},
}

func seq(n int) []uint8 {
	v := make([]uint8, n)
	for i := range v {
		v[i] = uint8(i + 1)
	}
	return v
}

func TestZarr(t *testing.T) {
	s := NewMemoryStore()
	if _, err := Open(s, "foo/bar", ModeReadWrite); !IsNotFound(err) {
		t.Fatalf("expected not found opening missing array, got %v", err)
	}

	z, err := Create(s, "foo/bar", metaOne)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Create(s, "foo/bar", metaOne); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	v, err := FromValues([]int{3, 7}, seq(21))
	if err != nil {
		t.Fatal(err)
	}
	if err := z.SetRegion([]int{3, 4}, v); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(s, "foo/bar", PersistenceMode("w")); err == nil {
		t.Fatal("expected an error opening with a creating mode")
	}
	z2, err := Open(s, "foo/bar", ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	got, err := z2.GetRegion([]int{3, 4}, []int{3, 7})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(v) {
		t.Errorf("region mismatch: %v", got.Bytes())
	}
	if err := z2.SetRegion([]int{0, 0}, v); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestGetRegionUnwrittenReadsFill(t *testing.T) {
	s := NewMemoryStore()
	m := *metaOne
	m.FillValue = 7.0
	z, err := Create(s, "a", &m)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := FromValues([]int{2, 2}, []uint8{1, 2, 3, 4})
	if err := z.SetRegion([]int{0, 0}, v); err != nil {
		t.Fatal(err)
	}
	all, err := z.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	vals, err := Values[uint8](all)
	if err != nil {
		t.Fatal(err)
	}
	if vals[0] != 1 || vals[1] != 2 || vals[12] != 3 || vals[13] != 4 {
		t.Errorf("written values lost: %v", vals[:14])
	}
	if vals[2] != 7 || vals[len(vals)-1] != 7 {
		t.Errorf("expected fill value 7 outside written region, got %d and %d", vals[2], vals[len(vals)-1])
	}
}

func TestResizeGrowsInPlace(t *testing.T) {
	s := NewMemoryStore()
	z, err := Create(s, "a", metaOne)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := FromValues([]int{10, 12}, seq(120))
	if err := z.SetRegion([]int{0, 0}, v); err != nil {
		t.Fatal(err)
	}
	if err := z.Resize([]int{13, 20}); err != nil {
		t.Fatal(err)
	}
	if err := z.Resize([]int{12, 20}); err == nil {
		t.Error("expected shrinking resize to fail")
	}

	z2, err := Open(s, "a", ModeReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if sh := z2.Shape(); sh[0] != 13 || sh[1] != 20 {
		t.Fatalf("resize not persisted, shape %v", sh)
	}
	old, err := z2.GetRegion([]int{0, 0}, []int{10, 12})
	if err != nil {
		t.Fatal(err)
	}
	if !old.Equal(v) {
		t.Error("resize changed existing data")
	}
	grown, err := z2.GetRegion([]int{10, 12}, []int{3, 8})
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range grown.Bytes() {
		if b != 0 {
			t.Fatalf("grown region must read as zero, got %v", grown.Bytes())
		}
	}
	// edge chunk straddling the old boundary
	edge, err := z2.GetRegion([]int{9, 11}, []int{2, 2})
	if err != nil {
		t.Fatal(err)
	}
	if got := edge.Bytes(); got[0] != 120 || got[1] != 0 || got[2] != 0 || got[3] != 0 {
		t.Errorf("unexpected edge values %v", got)
	}
}

func TestOutOfBounds(t *testing.T) {
	z, err := Create(NewMemoryStore(), "a", metaOne)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := z.GetRegion([]int{8, 0}, []int{4, 4}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
	v, _ := FromValues([]int{1, 1}, []uint8{1})
	if err := z.SetRegion([]int{10, 0}, v); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestCompressors(t *testing.T) {
	codecs := []*CompressionMeta{
		nil,
		{ID: CompressorGzip},
		{ID: CompressorGzip, Clevel: 9},
		{ID: CompressorZstd},
		{ID: CompressorZst, Clevel: 3},
		{ID: CompressorLZ4},
		{ID: CompressorLZ4, Clevel: 4},
		{ID: CompressorSnappy},
	}
	vals := make([]float32, 6*6*3)
	for i := range vals {
		vals[i] = float32(i) / 3
	}
	v, err := FromValues([]int{6, 6, 3}, vals)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range codecs {
		s := NewMemoryStore()
		z, err := Create(s, "x", &ArrayMeta{Shape: []int{8, 8, 3}, Chunks: []int{4, 4, 3}, Dtype: Float32, Compressor: c})
		if err != nil {
			t.Fatal(err)
		}
		if err := z.SetRegion([]int{1, 2, 0}, v); err != nil {
			t.Fatalf("%v: %v", c, err)
		}
		z, err = Open(s, "x", ModeRead)
		if err != nil {
			t.Fatal(err)
		}
		got, err := z.GetRegion([]int{1, 2, 0}, []int{6, 6, 3})
		if err != nil {
			t.Fatalf("%v: %v", c, err)
		}
		out, err := Values[float32](got)
		if err != nil {
			t.Fatal(err)
		}
		for i := range vals {
			if out[i] != vals[i] {
				t.Fatalf("%v: value %d = %f, want %f", c, i, out[i], vals[i])
			}
		}
	}

	if err := (&CompressionMeta{ID: "blosc"}).Validate(); err == nil {
		t.Error("expected blosc to be rejected")
	}
}

func TestChunkCache(t *testing.T) {
	s := NewMemoryStore()
	cache := freecache.NewCache(1024 * 1024)
	z, err := Create(s, "a", metaOne, WithChunkCache(cache), WithConcurrency(2))
	if err != nil {
		t.Fatal(err)
	}
	v, _ := FromValues([]int{4, 5}, seq(20))
	if err := z.SetRegion([]int{0, 0}, v); err != nil {
		t.Fatal(err)
	}
	if cache.EntryCount() != 1 {
		t.Fatalf("expected written chunk to be cached, have %d entries", cache.EntryCount())
	}

	// a cached chunk is served even once the backing key is gone
	if err := s.Delete("a/0.0"); err != nil {
		t.Fatal(err)
	}
	got, err := z.GetRegion([]int{0, 0}, []int{4, 5})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(v) {
		t.Error("expected cached chunk contents")
	}

	if err := z.Delete(); err != nil {
		t.Fatal(err)
	}
	if cache.EntryCount() != 0 {
		t.Errorf("delete must evict cached chunks, have %d", cache.EntryCount())
	}
}

func TestPath(t *testing.T) {
	cases := map[string]string{
		"":              "",
		"/foo//bar/":    "foo/bar",
		`masks\tumor`:   "masks/tumor",
		"array/.zarray": "array/.zarray",
	}
	for in, want := range cases {
		p, err := NewPath(in)
		if err != nil {
			t.Fatal(err)
		}
		if p.String() != want {
			t.Errorf("NewPath(%q) = %q, want %q", in, p.String(), want)
		}
	}
	if _, err := NewPath("a/../b"); err == nil {
		t.Error("expected .. to be rejected")
	}

	base, _ := NewPath("masks")
	a := base.Join("a")
	b := base.Join("b")
	if a.String() != "masks/a" || b.String() != "masks/b" {
		t.Errorf("Join must not alias: %s %s", a, b)
	}
}

func TestProjectRegion(t *testing.T) {
	ps := projectRegion([]int{3, 4}, []int{3, 7}, []int{4, 5})
	if len(ps) != 6 {
		t.Fatalf("expected 6 projections, got %d", len(ps))
	}
	total := 0
	for _, p := range ps {
		total += p.Extent[0] * p.Extent[1]
	}
	if total != 21 {
		t.Errorf("projections cover %d elements, want 21", total)
	}
	first := ps[0]
	if first.ChunkCoords[0] != 0 || first.ChunkCoords[1] != 0 || first.ChunkSelection[0] != 3 || first.ChunkSelection[1] != 4 {
		t.Errorf("unexpected first projection %+v", first)
	}
}
