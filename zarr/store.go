package zarr

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	MemoryStoreType   = "MemoryStore"
	LocalStoreType    = "LocalStore"
	dirPermissionBits = 0755
)

var ErrNotfound = errors.New("not found")

// Store is the key/value substrate an array container lives in. Keys are
// slash-separated logical paths such as "array/0.1" or "masks/.zgroup".
//
// Stores holding OS resources also implement io.Closer.
type Store interface {
	Get(key string) (io.ReadCloser, error)
	Put(key string, val io.Reader) error
	Delete(key string) error
	// List returns every key with the given prefix in lexical order.
	List(prefix string) ([]string, error)
	Type() string
}

// IsNotFound reports whether err means a missing key, whichever store
// produced it.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotfound) || errors.Is(err, fs.ErrNotExist)
}

// ReadKey reads the full value stored at key.
func ReadKey(s Store, key string) ([]byte, error) {
	rc, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// WriteKey stores data at key.
func WriteKey(s Store, key string, data []byte) error {
	return s.Put(key, bytes.NewReader(data))
}

// Copy copies every key under prefix from src into dst.
func Copy(dst, src Store, prefix string) error {
	keys, err := src.List(prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		d, err := ReadKey(src, k)
		if err != nil {
			return fmt.Errorf("copying %q: %w", k, err)
		}
		if err := WriteKey(dst, k, d); err != nil {
			return fmt.Errorf("copying %q: %w", k, err)
		}
	}
	return nil
}

type MemoryStore struct {
	lk   sync.Mutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: map[string][]byte{},
	}
}

func (s *MemoryStore) Type() string { return MemoryStoreType }

func (s *MemoryStore) Get(key string) (io.ReadCloser, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	d, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return io.NopCloser(bytes.NewReader(d)), nil
}

func (s *MemoryStore) Put(key string, val io.Reader) error {
	d, err := io.ReadAll(val)
	if err != nil {
		return err
	}

	s.lk.Lock()
	defer s.lk.Unlock()
	s.data[key] = d

	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if _, ok := s.data[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) List(prefix string) ([]string, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

type LocalStore struct {
	base string
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(base string) (*LocalStore, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, dirPermissionBits); err != nil {
		return nil, err
	}

	return &LocalStore{
		base: base,
	}, nil
}

func (s *LocalStore) Type() string { return LocalStoreType }

// Base is the absolute directory the store is rooted at.
func (s *LocalStore) Base() string { return s.base }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.base, filepath.FromSlash(key))
}

func (s *LocalStore) Get(key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return f, err
}

func (s *LocalStore) Put(key string, val io.Reader) (err error) {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), dirPermissionBits); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(f, val)
	return err
}

func (s *LocalStore) Delete(key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return err
}

func (s *LocalStore) List(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
