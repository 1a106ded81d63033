package tilestore

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/dustin/go-humanize"
	"github.com/qri-io/tilestore/zarr"
)

const (
	featureTableKey = "features/table.arrow"
	tagColumn       = "tile"
)

// TaggedRows are the feature rows contributed by the tile at Tag.
type TaggedRows struct {
	Tag  Coord
	Rows []FeatureRow
}

type taggedRow struct {
	tag Coord
	row FeatureRow
}

// FeatureTable is an append-only table of feature rows, each tagged with
// the coordinate of the tile it came from. Tiles may contribute different
// columns; the table is the outer join of all of them, missing values
// reading as null.
//
// The table is stored as a single Arrow IPC stream. Arrow has no in-place
// row deletion, so every append materializes the table, merges and writes
// it back. Batch appends with AppendBatch where possible.
type FeatureTable struct {
	store zarr.Store
	key   string
	log   *Logger
	mem   memory.Allocator

	loaded  bool
	columns []string
	rows    []taggedRow
}

func newFeatureTable(s zarr.Store, log *Logger) *FeatureTable {
	return &FeatureTable{
		store: s,
		key:   featureTableKey,
		log:   log,
		mem:   memory.NewGoAllocator(),
	}
}

// Append replaces the rows tagged tag with rows.
func (f *FeatureTable) Append(tag Coord, rows []FeatureRow) error {
	return f.AppendBatch([]TaggedRows{{Tag: tag, Rows: rows}})
}

// AppendBatch replaces the rows of every tag in batch with one rewrite of
// the table. A row with a "tile" key is rejected with ErrInvalidValue and
// nothing is written.
func (f *FeatureTable) AppendBatch(batch []TaggedRows) error {
	for _, b := range batch {
		for _, row := range b.Rows {
			if _, ok := row[tagColumn]; ok {
				return fmt.Errorf("%w: feature %q is reserved for the tile tag", ErrInvalidValue, tagColumn)
			}
		}
	}
	if err := f.ensureLoaded(); err != nil {
		return err
	}
	purge := make(map[Coord]struct{}, len(batch))
	for _, b := range batch {
		purge[b.Tag] = struct{}{}
	}
	before := len(f.rows)
	f.rows = slices.DeleteFunc(f.rows, func(r taggedRow) bool {
		_, ok := purge[r.tag]
		return ok
	})
	if purged := before - len(f.rows); purged > 0 {
		f.log.Debug("purged feature rows", "rows", purged)
	}
	for _, b := range batch {
		for _, row := range b.Rows {
			f.addColumns(row)
			f.rows = append(f.rows, taggedRow{tag: b.Tag, row: maps.Clone(row)})
		}
	}
	return f.save()
}

// Remove deletes every row tagged tag.
func (f *FeatureTable) Remove(tag Coord) error {
	if err := f.ensureLoaded(); err != nil {
		return err
	}
	before := len(f.rows)
	f.rows = slices.DeleteFunc(f.rows, func(r taggedRow) bool { return r.tag == tag })
	if len(f.rows) == before {
		return nil
	}
	return f.save()
}

// Clear deletes every row and returns how many there were.
func (f *FeatureTable) Clear() (int, error) {
	if err := f.ensureLoaded(); err != nil {
		return 0, err
	}
	n := len(f.rows)
	if n == 0 {
		return 0, nil
	}
	f.rows = nil
	return n, f.save()
}

// Rows returns the rows tagged tag in the order they were appended.
func (f *FeatureTable) Rows(tag Coord) ([]FeatureRow, error) {
	if err := f.ensureLoaded(); err != nil {
		return nil, err
	}
	var out []FeatureRow
	for _, r := range f.rows {
		if r.tag == tag {
			out = append(out, maps.Clone(r.row))
		}
	}
	return out, nil
}

// Len is the number of rows.
func (f *FeatureTable) Len() (int, error) {
	if err := f.ensureLoaded(); err != nil {
		return 0, err
	}
	return len(f.rows), nil
}

// Columns lists the feature columns in the order they were first seen.
func (f *FeatureTable) Columns() ([]string, error) {
	if err := f.ensureLoaded(); err != nil {
		return nil, err
	}
	return slices.Clone(f.columns), nil
}

// Tags counts rows per tag.
func (f *FeatureTable) Tags() (map[Coord]int, error) {
	if err := f.ensureLoaded(); err != nil {
		return nil, err
	}
	out := map[Coord]int{}
	for _, r := range f.rows {
		out[r.tag]++
	}
	return out, nil
}

// Record builds the whole table as an Arrow record. The caller must
// Release it.
func (f *FeatureTable) Record() (arrow.Record, error) {
	if err := f.ensureLoaded(); err != nil {
		return nil, err
	}
	return f.record(), nil
}

func (f *FeatureTable) addColumns(row FeatureRow) {
	var fresh []string
	for k := range row {
		if !slices.Contains(f.columns, k) {
			fresh = append(fresh, k)
		}
	}
	sort.Strings(fresh)
	f.columns = append(f.columns, fresh...)
}

func (f *FeatureTable) schema() *arrow.Schema {
	fields := make([]arrow.Field, 0, len(f.columns)+1)
	fields = append(fields, arrow.Field{Name: tagColumn, Type: arrow.BinaryTypes.String})
	for _, c := range f.columns {
		fields = append(fields, arrow.Field{Name: c, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

func (f *FeatureTable) record() arrow.Record {
	schema := f.schema()
	b := array.NewRecordBuilder(f.mem, schema)
	defer b.Release()

	tags := b.Field(0).(*array.StringBuilder)
	for _, r := range f.rows {
		tags.Append(r.tag.String())
	}
	for i, c := range f.columns {
		fb := b.Field(i + 1).(*array.Float64Builder)
		for _, r := range f.rows {
			if v, ok := r.row[c]; ok {
				fb.Append(v)
			} else {
				fb.AppendNull()
			}
		}
	}
	return b.NewRecord()
}

func (f *FeatureTable) save() error {
	if len(f.rows) == 0 {
		f.columns = nil
		if err := f.store.Delete(f.key); err != nil && !zarr.IsNotFound(err) {
			return err
		}
		return nil
	}

	rec := f.record()
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(f.mem))
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("encoding feature table: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encoding feature table: %w", err)
	}
	if err := zarr.WriteKey(f.store, f.key, buf.Bytes()); err != nil {
		return err
	}
	f.log.Debug("feature table written", "rows", len(f.rows), "columns", len(f.columns), "size", humanize.Bytes(uint64(buf.Len())))
	return nil
}

func (f *FeatureTable) ensureLoaded() error {
	if f.loaded {
		return nil
	}
	d, err := zarr.ReadKey(f.store, f.key)
	if zarr.IsNotFound(err) {
		f.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	if err := f.decode(d); err != nil {
		return fmt.Errorf("reading feature table: %w", err)
	}
	f.loaded = true
	return nil
}

func (f *FeatureTable) decode(d []byte) error {
	r, err := ipc.NewReader(bytes.NewReader(d), ipc.WithAllocator(f.mem))
	if err != nil {
		return err
	}
	defer r.Release()

	schema := r.Schema()
	if schema.NumFields() == 0 || schema.Field(0).Name != tagColumn {
		return fmt.Errorf("first column must be %q", tagColumn)
	}
	columns := make([]string, 0, schema.NumFields()-1)
	for _, fld := range schema.Fields()[1:] {
		columns = append(columns, fld.Name)
	}

	var rows []taggedRow
	for r.Next() {
		rec := r.Record()
		tags, ok := rec.Column(0).(*array.String)
		if !ok {
			return fmt.Errorf("column %q is %s, want utf8", tagColumn, rec.Column(0).DataType())
		}
		vals := make([]*array.Float64, len(columns))
		for i := range columns {
			if vals[i], ok = rec.Column(i + 1).(*array.Float64); !ok {
				return fmt.Errorf("column %q is %s, want float64", columns[i], rec.Column(i+1).DataType())
			}
		}
		for j := 0; j < int(rec.NumRows()); j++ {
			tag, err := ParseCoord(tags.Value(j))
			if err != nil {
				return err
			}
			row := FeatureRow{}
			for i, c := range columns {
				if vals[i].IsValid(j) {
					row[c] = vals[i].Value(j)
				}
			}
			rows = append(rows, taggedRow{tag: tag, row: row})
		}
	}
	if err := r.Err(); err != nil {
		return err
	}
	f.columns = columns
	f.rows = rows
	return nil
}
