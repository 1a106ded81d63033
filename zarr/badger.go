package zarr

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dgraph-io/badger/v3"
)

const BadgerStoreType = "BadgerStore"

// BadgerStore keeps every key of a container in one embedded badger
// database, which suits slides with many small chunks better than one file
// per chunk.
type BadgerStore struct {
	directory string
	db        *badger.DB
}

var (
	_ Store     = (*BadgerStore)(nil)
	_ io.Closer = (*BadgerStore)(nil)
)

// NewBadgerStore opens, creating if needed, a badger database at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, dirPermissionBits); err != nil {
		return nil, fmt.Errorf("can't make directory at %s: %w", dir, err)
	}
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithSyncWrites(false)
	return openBadger(dir, opts)
}

// NewBadgerMemoryStore opens a badger database that never touches disk.
func NewBadgerMemoryStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	return openBadger("", opts)
}

func openBadger(dir string, opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{directory: dir, db: db}, nil
}

func (s *BadgerStore) Type() string { return BadgerStoreType }

func (s *BadgerStore) String() string {
	return fmt.Sprintf("badger @ %s", s.directory)
}

func (s *BadgerStore) Get(key string) (io.ReadCloser, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(val)), nil
}

func (s *BadgerStore) Put(key string, val io.Reader) error {
	d, err := io.ReadAll(val)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), d)
	})
}

func (s *BadgerStore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotfound, key)
			}
			return err
		}
		return txn.Delete([]byte(key))
	})
}

func (s *BadgerStore) List(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

// Close releases the database. The store is unusable afterwards.
func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
