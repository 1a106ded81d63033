package tilestore

import (
	"testing"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/qri-io/tilestore/zarr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureTable(t *testing.T) {
	store := zarr.NewMemoryStore()
	f := newFeatureTable(store, NoopLogger())
	a, b := MustCoord(0, 0), MustCoord(0, 50)

	require.NoError(t, f.Append(a, []FeatureRow{{"area": 1, "eccentricity": 0.5}, {"area": 2}}))
	require.NoError(t, f.Append(b, []FeatureRow{{"intensity": 7}}))

	cols, err := f.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"area", "eccentricity", "intensity"}, cols)

	rec, err := f.Record()
	require.NoError(t, err)
	defer rec.Release()
	assert.EqualValues(t, 3, rec.NumRows())
	assert.EqualValues(t, 4, rec.NumCols())
	assert.Equal(t, "tile", rec.ColumnName(0))
	intensity := rec.Column(3).(*array.Float64)
	assert.True(t, intensity.IsNull(0))
	assert.Equal(t, 7.0, intensity.Value(2))

	// the tag column name is reserved
	assert.ErrorIs(t, f.Append(a, []FeatureRow{{"tile": 1}}), ErrInvalidValue)
	n, err := f.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// re-adding a tag replaces its rows
	require.NoError(t, f.AppendBatch([]TaggedRows{
		{Tag: a, Rows: []FeatureRow{{"area": 9}}},
		{Tag: MustCoord(50, 0), Rows: []FeatureRow{{"solidity": 0.9}}},
	}))
	n, err = f.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// a fresh table reads the stored blob
	g := newFeatureTable(store, NoopLogger())
	rows, err := g.Rows(a)
	require.NoError(t, err)
	assert.Equal(t, []FeatureRow{{"area": 9}}, rows)
	tags, err := g.Tags()
	require.NoError(t, err)
	assert.Equal(t, map[Coord]int{a: 1, b: 1, MustCoord(50, 0): 1}, tags)
	cols, err = g.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"area", "eccentricity", "intensity", "solidity"}, cols)

	for _, tag := range []Coord{a, b, MustCoord(50, 0)} {
		require.NoError(t, g.Remove(tag))
	}
	n, err = g.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = store.Get(featureTableKey)
	assert.True(t, zarr.IsNotFound(err))
}

func TestFeatureTableBadBlob(t *testing.T) {
	store := zarr.NewMemoryStore()
	require.NoError(t, zarr.WriteKey(store, featureTableKey, []byte("not arrow")))
	f := newFeatureTable(store, NoopLogger())
	_, err := f.Len()
	assert.Error(t, err)
}
