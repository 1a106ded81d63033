package zarr

import (
	"encoding/json"
	"fmt"
)

type MetaType string

const (
	// MTAttributes stores userland metadata keyed by array name
	MTAttributes MetaType = ".zattrs"
	// MTArray is the key for storing metadata on an array store
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group definitions on an array store
	MTGroup MetaType = ".zgroup"
	// MTMetadata is the key for composite metadata
	MTMetadata MetaType = ".zmetadata"
)

// FormatVersion is the zarr storage specification version written by this
// package.
const FormatVersion = 2

type MetaTyper interface {
	MetaType() MetaType
}

var metaTypes = map[MetaType]struct{}{
	MTAttributes: {},
	MTArray:      {},
	MTGroup:      {},
}

// relies on the fact that all keynames are 7 characters long
func KeyMetaType(s string) (mt MetaType, ok bool) {
	if len(s) < 7 {
		return mt, false
	}
	mt = MetaType(s[len(s)-7:])
	_, ok = metaTypes[mt]
	return mt, ok
}

type Attributes map[string]interface{}

func (Attributes) MetaType() MetaType { return MTAttributes }

// Decode unmarshals the attribute stored under name into v.
func (a Attributes) Decode(name string, v interface{}) (bool, error) {
	raw, ok := a[name]
	if !ok {
		return false, nil
	}
	d, err := json.Marshal(raw)
	if err != nil {
		return true, err
	}
	return true, json.Unmarshal(d, v)
}

// ReadAttrs reads the .zattrs document at path. A missing document reads
// as empty attributes.
func ReadAttrs(s Store, path string) (Attributes, error) {
	attrs := Attributes{}
	err := readJSON(s, metaKey(path, MTAttributes), &attrs)
	if IsNotFound(err) {
		return Attributes{}, nil
	}
	return attrs, err
}

// WriteAttrs replaces the .zattrs document at path.
func WriteAttrs(s Store, path string, attrs Attributes) error {
	return writeJSON(s, metaKey(path, MTAttributes), attrs)
}

// UpdateAttrs merges attrs into the .zattrs document at path.
func UpdateAttrs(s Store, path string, attrs Attributes) error {
	cur, err := ReadAttrs(s, path)
	if err != nil {
		return err
	}
	for k, v := range attrs {
		cur[k] = v
	}
	return WriteAttrs(s, path, cur)
}

type ConsolidatedMetadata struct {
	ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
	Metadata           map[string]json.RawMessage `json:"metadata"`
}

// Array decodes the consolidated .zarray document for the array at path.
func (m *ConsolidatedMetadata) Array(path string) (*ArrayMeta, error) {
	key := metaKey(path, MTArray)
	raw, ok := m.Metadata[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	arr := &ArrayMeta{}
	if err := json.Unmarshal(raw, arr); err != nil {
		return nil, fmt.Errorf("reading %q metadata: %w", key, err)
	}
	return arr, nil
}

// Attrs decodes the consolidated .zattrs document at path.
func (m *ConsolidatedMetadata) Attrs(path string) (Attributes, error) {
	attrs := Attributes{}
	raw, ok := m.Metadata[metaKey(path, MTAttributes)]
	if !ok {
		return attrs, nil
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("reading %q attributes: %w", path, err)
	}
	return attrs, nil
}

// Consolidate gathers every metadata document in the store into a single
// .zmetadata key so a reader can learn the hierarchy with one Get.
func Consolidate(s Store) error {
	keys, err := s.List("")
	if err != nil {
		return err
	}
	cm := ConsolidatedMetadata{
		ConsolidatedFormat: 1,
		Metadata:           map[string]json.RawMessage{},
	}
	for _, key := range keys {
		if _, ok := KeyMetaType(key); !ok {
			continue
		}
		d, err := ReadKey(s, key)
		if err != nil {
			return fmt.Errorf("reading %q: %w", key, err)
		}
		if !json.Valid(d) {
			return fmt.Errorf("invalid metadata document %q", key)
		}
		cm.Metadata[key] = d
	}
	return writeJSON(s, string(MTMetadata), cm)
}

// ReadConsolidated reads the .zmetadata document written by Consolidate.
func ReadConsolidated(s Store) (*ConsolidatedMetadata, error) {
	cm := &ConsolidatedMetadata{}
	if err := readJSON(s, string(MTMetadata), cm); err != nil {
		return nil, err
	}
	for key := range cm.Metadata {
		if _, ok := KeyMetaType(key); !ok {
			return nil, fmt.Errorf("invalid consoldated metadata key: %q", key)
		}
	}
	return cm, nil
}

// Each array requires essential configuration metadata to be stored,
// enabling correct interpretation of the stored data.
// This metadata is encoded using JSON and stored as the value of the
// “.zarray” key within an array store.
type ArrayMeta struct {
	// An integer defining the version of the storage specification to which
	// the array store adheres.
	ZarrFormat int `json:"zarr_format"`
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// A list of integers defining the length of each dimension of a chunk of the
	// array. Note that all chunks within a Zarr array have the same shape.
	Chunks []int `json:"chunks"`
	// A string defining a valid data type for the array.
	Dtype Dtype `json:"dtype"`
	// A JSON object identifying the primary compression codec and providing
	// configuration parameters, or null if no compressor is to be used. The
	// object MUST contain an "id" key identifying the codec to be used.
	Compressor *CompressionMeta `json:"compressor"`

	// A scalar value providing the default value to use for uninitialized
	// portions of the array, or null if no fill_value is to be used.
	FillValue interface{} `json:"fill_value"`
	// Either “C” or “F”, defining the layout of bytes within each chunk of the
	// array. Only “C” (row-major) is written or read by this package.
	Order string `json:"order"`
	// A list of JSON objects providing codec configurations, or null if no
	// filters are to be applied. Filters are not supported.
	Filters []Filter `json:"filters"`

	// optional fields

	// If present, either the string "." or "/"" definining the separator placed
	// between the dimensions of a chunk. If the value is not set, then the
	// default MUST be assumed to be ".", leading to chunk keys of the form “0.0”.
	DimensionSeparator string `json:"dimension_separator,omitempty"`
}

func (a ArrayMeta) MetaType() MetaType { return MTArray }

// Validate checks the metadata describes an array this package can serve.
func (a *ArrayMeta) Validate() error {
	if len(a.Shape) == 0 {
		return fmt.Errorf("array shape must have at least one dimension")
	}
	if len(a.Chunks) != len(a.Shape) {
		return fmt.Errorf("chunks %v do not match shape %v", a.Chunks, a.Shape)
	}
	for d := range a.Shape {
		if a.Shape[d] < 0 {
			return fmt.Errorf("negative extent in shape %v", a.Shape)
		}
		if a.Chunks[d] <= 0 {
			return fmt.Errorf("chunk extents must be positive, got %v", a.Chunks)
		}
	}
	if a.Dtype.ByteSize == 0 {
		return fmt.Errorf("array dtype is unset")
	}
	if a.Order != "" && a.Order != "C" {
		return fmt.Errorf("unsupported order %q", a.Order)
	}
	if len(a.Filters) > 0 {
		return fmt.Errorf("filters are not supported")
	}
	switch a.DimensionSeparator {
	case "", ".", "/":
	default:
		return fmt.Errorf("invalid dimension separator %q", a.DimensionSeparator)
	}
	return a.Compressor.Validate()
}

func (a *ArrayMeta) separator() string {
	if a.DimensionSeparator == "" {
		return "."
	}
	return a.DimensionSeparator
}

type Filter struct {
	ID     string `json:"id"`
	Delta  string `json:"delta,omitempty"`
	Dtype  string `json:"dtype,omitempty"`
	AsType string `json:"astype,omitempty"`
}

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)

// Arrays can be organized into groups which can also contain other groups.
// A group is created by storing group ArrayMeta under the “.zgroup” key under
// some logical path. E.g., a group exists at the root of an array store if the
// “.zgroup” key exists in the store, and a group exists at logical path
// “foo/bar” if the “foo/bar/.zgroup” key exists in the store.
type Group struct {
	ZarrFormat int `json:"zarr_format"`
}

func (Group) MetaType() MetaType { return MTGroup }

// CreateGroup writes a .zgroup document at path if none exists.
func CreateGroup(s Store, path string) error {
	if IsGroup(s, path) {
		return nil
	}
	return writeJSON(s, metaKey(path, MTGroup), Group{ZarrFormat: FormatVersion})
}

// IsGroup reports whether a group exists at path.
func IsGroup(s Store, path string) bool {
	rc, err := s.Get(metaKey(path, MTGroup))
	if err != nil {
		return false
	}
	rc.Close()
	return true
}

func metaKey(path string, mt MetaType) string {
	p, _ := NewPath(path)
	return p.Join(string(mt)).String()
}

func readJSON(s Store, key string, v interface{}) error {
	d, err := ReadKey(s, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(d, v); err != nil {
		return fmt.Errorf("decoding %q: %w", key, err)
	}
	return nil
}

func writeJSON(s Store, key string, v interface{}) error {
	d, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return WriteKey(s, key, d)
}
