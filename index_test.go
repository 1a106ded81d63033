package tilestore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoord(t *testing.T) {
	c := MustCoord(0, 50)
	assert.Equal(t, "(0, 50)", c.String())
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []int{0, 50, 0}, c.Pad(3))

	for _, s := range []string{"(0, 50)", "(0,50)", "0,50", " [0, 50] ", "(0, 50,)"} {
		got, err := ParseCoord(s)
		require.NoError(t, err, s)
		assert.Equal(t, c, got, s)
	}
	one, err := ParseCoord("(5,)")
	require.NoError(t, err)
	assert.Equal(t, MustCoord(5), one)

	for _, s := range []string{"", "()", "(a, b)", "(1,,2)", "(-1, 0)", "(1, 2, 3, 4, 5, 6, 7, 8, 9)"} {
		_, err := ParseCoord(s)
		assert.ErrorIs(t, err, ErrInvalidKey, s)
	}

	// usable as a map key and comparable with ==
	m := map[Coord]int{MustCoord(1, 2): 1}
	k, _ := NewCoord(1, 2)
	assert.Equal(t, 1, m[k])
	assert.NotEqual(t, MustCoord(1, 2), MustCoord(1, 2, 0))

	d, err := json.Marshal(map[Coord]string{c: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"(0, 50)": "x"}`, string(d))
}

func TestTileIndex(t *testing.T) {
	x := NewTileIndex()
	assert.False(t, x.Add(MustCoord(0, 0), Entry{Name: "a"}))
	assert.False(t, x.Add(MustCoord(0, 10), Entry{Name: "b", Labels: Labels{"n": 1.0}}))
	assert.False(t, x.Add(MustCoord(10, 0), Entry{Name: "c", Type: "HE"}))

	// overwrite keeps the position
	assert.True(t, x.Add(MustCoord(0, 0), Entry{Name: "a2"}))
	assert.Equal(t, 3, x.Len())
	assert.Equal(t, []Coord{MustCoord(0, 0), MustCoord(0, 10), MustCoord(10, 0)}, x.Keys())

	c, e, err := x.Get(0)
	require.NoError(t, err)
	assert.Equal(t, MustCoord(0, 0), c)
	assert.Equal(t, "a2", e.Name)

	_, _, err = x.Get(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, _, err = x.Get("(3, 3)")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = x.Get(false)
	assert.ErrorIs(t, err, ErrInvalidKeyType)

	// entries handed out are copies
	_, e, err = x.Get("(0, 10)")
	require.NoError(t, err)
	e.Labels["n"] = 2.0
	_, e, _ = x.Get("(0, 10)")
	assert.Equal(t, 1.0, e.Labels["n"])

	require.NoError(t, x.Update(1, FieldName, "b2"))
	require.NoError(t, x.Update(1, FieldLabels, map[string]interface{}{"n": 3.0}))
	require.NoError(t, x.Update(2, FieldLabels, nil))
	assert.ErrorIs(t, x.Update(1, FieldImage, nil), ErrUnsupportedField)
	assert.ErrorIs(t, x.Update(1, FieldLabels, "nope"), ErrInvalidValue)
	_, e, _ = x.Get(1)
	assert.Equal(t, Entry{Name: "b2", Labels: Labels{"n": 3.0}}, e)

	var names []string
	for _, e := range x.All() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a2", "b2", "c"}, names)
	// restartable
	n := 0
	for range x.All() {
		n++
	}
	assert.Equal(t, 3, n)

	removed, err := x.Remove(MustCoord(0, 10))
	require.NoError(t, err)
	assert.Equal(t, MustCoord(0, 10), removed)
	_, err = x.Remove(MustCoord(0, 10))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, x.Position(MustCoord(10, 0)))

	d, err := json.Marshal(x)
	require.NoError(t, err)
	y := NewTileIndex()
	require.NoError(t, json.Unmarshal(d, y))
	assert.Equal(t, x.Keys(), y.Keys())
	_, e, err = y.Get("(10, 0)")
	require.NoError(t, err)
	assert.Equal(t, Entry{Name: "c", Type: "HE"}, e)
}
