package tilestore

import (
	"testing"

	"github.com/qri-io/tilestore/zarr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatMaskStore(t *testing.T) {
	s := newMemStore(t)
	fm := s.SlideMasks()
	tissue := patch(t, 1, 120, 80)
	require.NoError(t, fm.Add("tissue", tissue))
	require.NoError(t, fm.Add("background", patch(t, 2, 120, 80)))

	assert.ErrorIs(t, fm.Add("tissue", tissue), ErrExists)
	assert.ErrorIs(t, fm.Add("pen", patch(t, 0, 80, 120)), ErrShapeMismatch)
	assert.ErrorIs(t, fm.Add("a/b", tissue), ErrInvalidKey)
	assert.Equal(t, []string{"tissue", "background"}, fm.Keys())
	assert.Equal(t, []int{120, 80}, fm.Shape())

	name, got, err := fm.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "tissue", name)
	assert.True(t, tissue.Equal(got))
	_, _, err = fm.Get("background")
	assert.NoError(t, err)
	_, _, err = fm.Get(true)
	assert.ErrorIs(t, err, ErrInvalidKeyType)
	_, _, err = fm.Get(2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, _, err = fm.Get("pen")
	assert.ErrorIs(t, err, ErrNotFound)

	updated := patch(t, 50, 120, 80)
	require.NoError(t, fm.Update("tissue", updated))
	_, got, err = fm.Get("tissue")
	require.NoError(t, err)
	assert.True(t, updated.Equal(got))
	assert.ErrorIs(t, fm.Update("tissue", patch(t, 0, 10, 10)), ErrShapeMismatch)

	parts, err := fm.Slice([]Range{{10, 30}})
	require.NoError(t, err)
	require.Len(t, parts, 2)
	want, err := updated.Region([]int{10, 0}, []int{20, 80})
	require.NoError(t, err)
	assert.True(t, want.Equal(parts["tissue"]))

	require.NoError(t, fm.Remove(1))
	assert.Equal(t, []string{"tissue"}, fm.Keys())
	assert.ErrorIs(t, fm.Remove("background"), ErrNotFound)
	keys, err := s.Store().List(slideMasksPath + "/background/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMaskCanvasSet(t *testing.T) {
	s := newMemStore(t)
	tile := NewTile(patch(t, 0, 40, 40, 3), MustCoord(0, 0))
	tile.Masks = map[string]*zarr.NDArray{
		"nuclei": patch(t, 1, 40, 40),
		"stain":  patch(t, 2, 40, 40, 2),
	}
	require.NoError(t, s.Add(tile))

	bad := NewTile(patch(t, 0, 40, 40, 3), MustCoord(40, 0))
	bad.Masks = map[string]*zarr.NDArray{"nuclei": patch(t, 0, 20, 40)}
	assert.ErrorIs(t, s.Add(bad), ErrShapeMismatch)

	m := s.Masks()
	assert.Equal(t, []string{"nuclei", "stain"}, m.Names())
	shape, err := m.Shape("stain")
	require.NoError(t, err)
	assert.Equal(t, []int{40, 40, 2}, shape)

	// a mask's shape is fixed by its first write
	assert.ErrorIs(t, m.Add("stain", MustCoord(40, 0), patch(t, 0, 40, 40, 3)), ErrShapeMismatch)

	upd := patch(t, 9, 40, 40)
	require.NoError(t, m.Update("nuclei", MustCoord(0, 0), upd))
	got, err := s.Get(0)
	require.NoError(t, err)
	assert.True(t, upd.Equal(got.Masks["nuclei"]))
	assert.ErrorIs(t, m.Update("cells", MustCoord(0, 0), upd), ErrNotFound)

	require.NoError(t, m.Remove("stain"))
	assert.Equal(t, []string{"nuclei"}, m.Names())
	assert.ErrorIs(t, m.Remove("stain"), ErrNotFound)
	assert.ErrorIs(t, m.Add(".zarray", MustCoord(0, 0), upd), ErrInvalidKey)
}
