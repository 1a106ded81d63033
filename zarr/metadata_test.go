package zarr

import (
	"encoding/json"
	"testing"
)

// https://zarr.readthedocs.io/en/stable/spec/v2.html#metadata
const specExample = `{
  "chunks": [
    1000,
    1000
  ],
	"compressor": {
			"id": "blosc",
			"cname": "lz4",
			"clevel": 5,
			"shuffle": 1
	},
	"dtype": "<f8",
	"fill_value": "NaN",
	"filters": [
			{"id": "delta", "dtype": "<f8", "astype": "<f4"}
	],
	"order": "C",
	"shape": [
			10000,
			10000
	],
	"zarr_format": 2
}`

func TestMetadataSerialization(t *testing.T) {
	m := &ArrayMeta{}
	if err := json.Unmarshal([]byte(specExample), m); err != nil {
		t.Fatal(err)
	}
	if m.Dtype != Float64 {
		t.Errorf("expected <f8, got %s", m.Dtype)
	}
	if m.Compressor.Cname != "lz4" || m.Compressor.Clevel != 5 {
		t.Errorf("unexpected compressor %+v", m.Compressor)
	}
	// blosc and filters are readable metadata, but not servable arrays
	if err := m.Validate(); err == nil {
		t.Error("expected validation to reject filters and blosc")
	}

	m.Filters = nil
	m.Compressor = &CompressionMeta{ID: CompressorZstd, Clevel: 3}
	if err := m.Validate(); err != nil {
		t.Error(err)
	}
	d, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	back := &ArrayMeta{}
	if err := json.Unmarshal(d, back); err != nil {
		t.Fatal(err)
	}
	if back.FillValue != FillValueNaN || back.Compressor.ID != CompressorZstd {
		t.Errorf("metadata changed through round trip: %s", d)
	}
}

func TestParseDtype(t *testing.T) {
	good := map[string]Dtype{
		"|u1":    Uint8,
		"|b1":    Bool,
		"<i2":    Int16,
		"<f4":    Float32,
		"&lt;u2": Uint16,
	}
	for s, want := range good {
		got, err := ParseDtype(s)
		if err != nil {
			t.Errorf("ParseDtype(%q): %v", s, err)
			continue
		}
		if got != want {
			t.Errorf("ParseDtype(%q) = %s, want %s", s, got, want)
		}
	}

	for _, s := range []string{"", "<f", "<f3", "<b2", "|V8", "?u1", "<U12"} {
		if _, err := ParseDtype(s); err == nil {
			t.Errorf("expected ParseDtype(%q) to fail", s)
		}
	}

	if !Uint8.Equal(Dtype{BOLittleEndian, BTUnsigned, 1}) {
		t.Error("single byte dtypes must compare equal across byte orders")
	}
	if Float32.Equal(Dtype{BOBigEndian, BTFloatingPoint, 4}) {
		t.Error("multi byte dtypes differ by byte order")
	}
}

func TestAttributes(t *testing.T) {
	s := NewMemoryStore()
	attrs, err := ReadAttrs(s, "tiles")
	if err != nil {
		t.Fatal(err)
	}
	if len(attrs) != 0 {
		t.Errorf("missing attributes must read empty, got %v", attrs)
	}

	if err := WriteAttrs(s, "tiles", Attributes{"tile_shape": []int{50, 50}}); err != nil {
		t.Fatal(err)
	}
	if err := UpdateAttrs(s, "tiles", Attributes{"count": 3}); err != nil {
		t.Fatal(err)
	}
	attrs, err = ReadAttrs(s, "tiles")
	if err != nil {
		t.Fatal(err)
	}
	var shape []int
	ok, err := attrs.Decode("tile_shape", &shape)
	if err != nil || !ok {
		t.Fatalf("decoding tile_shape: %v %v", ok, err)
	}
	if len(shape) != 2 || shape[0] != 50 {
		t.Errorf("unexpected tile_shape %v", shape)
	}
	if ok, _ := attrs.Decode("missing", &shape); ok {
		t.Error("expected missing attribute to report false")
	}
}

func TestConsolidatedMetadata(t *testing.T) {
	s := NewMemoryStore()
	if err := CreateGroup(s, ""); err != nil {
		t.Fatal(err)
	}
	if !IsGroup(s, "") {
		t.Fatal("expected root group")
	}
	if _, err := Create(s, "array", metaOne); err != nil {
		t.Fatal(err)
	}
	if err := WriteAttrs(s, "array", Attributes{"tile_shape": []int{4, 5}}); err != nil {
		t.Fatal(err)
	}
	if err := Consolidate(s); err != nil {
		t.Fatal(err)
	}

	cm, err := ReadConsolidated(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(cm.Metadata) != 3 {
		t.Errorf("expected .zgroup, .zarray and .zattrs, got %d documents", len(cm.Metadata))
	}
	m, err := cm.Array("array")
	if err != nil {
		t.Fatal(err)
	}
	if m.Shape[0] != 10 || m.Chunks[1] != 5 {
		t.Errorf("unexpected consolidated array meta %+v", m)
	}
	attrs, err := cm.Attrs("array")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := attrs["tile_shape"]; !ok {
		t.Error("expected tile_shape in consolidated attributes")
	}
	if _, err := cm.Array("missing"); !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}
