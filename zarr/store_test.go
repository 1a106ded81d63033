package zarr

import (
	"io"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	if _, err := s.Get("missing"); !IsNotFound(err) {
		t.Errorf("%s: expected not found, got %v", s.Type(), err)
	}
	if err := s.Delete("missing"); !IsNotFound(err) {
		t.Errorf("%s: expected not found deleting, got %v", s.Type(), err)
	}

	keys := []string{"array/0.0", "array/.zarray", "masks/tumor/0.0", ".zgroup"}
	for i, k := range keys {
		if err := WriteKey(s, k, []byte{byte(i)}); err != nil {
			t.Fatalf("%s: %v", s.Type(), err)
		}
	}
	d, err := ReadKey(s, "masks/tumor/0.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(d) != 1 || d[0] != 2 {
		t.Errorf("%s: unexpected value %v", s.Type(), d)
	}

	got, err := s.List("array/")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "array/.zarray" || got[1] != "array/0.0" {
		t.Errorf("%s: unexpected listing %v", s.Type(), got)
	}
	all, err := s.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("%s: expected 4 keys, got %v", s.Type(), all)
	}

	if err := DeletePrefix(s, "array"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.List("array/"); len(got) != 0 {
		t.Errorf("%s: expected prefix to be gone, have %v", s.Type(), got)
	}

	dst := NewMemoryStore()
	if err := Copy(dst, s, ""); err != nil {
		t.Fatal(err)
	}
	if got, _ := dst.List(""); len(got) != 2 {
		t.Errorf("%s: copy produced %v", s.Type(), got)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "slide.zarr"))
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func TestBadgerStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)

	z, err := Create(s, "array", metaOne)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := FromValues([]int{2, 2}, []uint8{9, 8, 7, 6})
	if err := z.SetRegion([]int{5, 5}, v); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewBadgerStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	z, err = Open(s, "array", ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	got, err := z.GetRegion([]int{5, 5}, []int{2, 2})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(v) {
		t.Errorf("badger did not persist chunks, read %v", got.Bytes())
	}
}

func TestBadgerMemoryStore(t *testing.T) {
	s, err := NewBadgerMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	var _ io.Closer = s
	testStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}
