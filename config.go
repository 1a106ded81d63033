package tilestore

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/qri-io/tilestore/zarr"
)

// Backend names accepted in [store].backend.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendBadger = "badger"
)

// Config is the TOML file form of a store's settings:
//
//	overlap = "warn"
//
//	[store]
//	backend = "badger"
//	path = "slide.tiles"
//
//	[array]
//	compressor = "zstd"
//	level = 3
//	chunk_shape = [256, 256]
//	cache_bytes = 67108864
//
//	[logging]
//	logfile = "tilestore.log"
//	level = "debug"
//	max_log_size = 100
//	max_log_age = 7
type Config struct {
	Overlap string
	Store   StoreConfig
	Array   ArrayConfig
	Logging LogConfig
}

// StoreConfig selects the backing store.
type StoreConfig struct {
	Backend string
	Path    string
}

// ArrayConfig sets the layout and codec of new arrays.
type ArrayConfig struct {
	// Compressor is a zarr codec id, or "none".
	Compressor  string
	Level       int
	ChunkShape  []int `toml:"chunk_shape"`
	CacheBytes  int   `toml:"cache_bytes"`
	Concurrency int
}

// LogConfig sends logs to a rotating file.
type LogConfig struct {
	Logfile string
	Level   string
	MaxSize int `toml:"max_log_size"`
	MaxAge  int `toml:"max_log_age"`
}

// LoadConfig decodes a TOML config file. Relative paths in it are taken
// relative to the file's directory.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %w", err)
	}
	dir := filepath.Dir(path)
	if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(dir, cfg.Store.Path)
	}
	if cfg.Logging.Logfile != "" && !filepath.IsAbs(cfg.Logging.Logfile) {
		cfg.Logging.Logfile = filepath.Join(dir, cfg.Logging.Logfile)
	}
	return cfg, nil
}

// OpenStore builds the backing store the config names.
func (c *Config) OpenStore() (zarr.Store, error) {
	switch c.Store.Backend {
	case "", BackendMemory:
		return zarr.NewMemoryStore(), nil
	case BackendLocal:
		if c.Store.Path == "" {
			return nil, fmt.Errorf("%w: local store needs a path", ErrInvalidValue)
		}
		return zarr.NewLocalStore(c.Store.Path)
	case BackendBadger:
		if c.Store.Path == "" {
			return zarr.NewBadgerMemoryStore()
		}
		return zarr.NewBadgerStore(c.Store.Path)
	}
	return nil, fmt.Errorf("%w: unknown store backend %q", ErrInvalidValue, c.Store.Backend)
}

// Options converts the config into store options. A configured log file
// is opened here and closed with the store.
func (c *Config) Options() ([]Option, error) {
	overlap, err := ParseOverlapPolicy(c.Overlap)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithOverlapPolicy(overlap)}

	switch c.Array.Compressor {
	case "":
	case "none":
		opts = append(opts, WithCompressor(nil))
	default:
		m := &zarr.CompressionMeta{ID: c.Array.Compressor, Clevel: c.Array.Level}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		opts = append(opts, WithCompressor(m))
	}
	if len(c.Array.ChunkShape) > 0 {
		opts = append(opts, WithChunkShape(c.Array.ChunkShape...))
	}
	if c.Array.CacheBytes > 0 {
		opts = append(opts, WithChunkCache(c.Array.CacheBytes))
	}
	if c.Array.Concurrency > 0 {
		opts = append(opts, WithConcurrency(c.Array.Concurrency))
	}

	if c.Logging.Logfile != "" {
		l, closer := NewFileLogger(c.Logging.Logfile, c.Logging.MaxSize, c.Logging.MaxAge, ParseLevel(c.Logging.Level))
		opts = append(opts, WithLogger(l), withCloser(closer))
	} else if c.Logging.Level != "" {
		opts = append(opts, WithLogger(NewTextLogger(ParseLevel(c.Logging.Level))))
	}
	return opts, nil
}

// OpenConfig opens the container the config describes, creating it if the
// backing store holds none yet. On failure everything it opened is closed.
func OpenConfig(c *Config) (*TilesStore, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	store, err := c.OpenStore()
	if err != nil {
		return nil, closeOptions(opts, err)
	}
	open := New
	if Exists(store) {
		open = Open
	}
	s, err := open(store, opts...)
	if err != nil {
		if cl, ok := store.(io.Closer); ok {
			err = errors.Join(err, cl.Close())
		}
		return nil, closeOptions(opts, err)
	}
	return s, nil
}

// closeOptions releases the resources registered by opts, joining any
// close errors onto err.
func closeOptions(opts []Option, err error) error {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	for _, c := range o.closers {
		err = errors.Join(err, c.Close())
	}
	return err
}
