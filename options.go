package tilestore

import (
	"fmt"
	"io"
	"slices"

	"github.com/coocood/freecache"
	"github.com/qri-io/tilestore/zarr"
)

// OverlapPolicy decides what Add does with a tile whose region intersects a
// tile already in the store.
type OverlapPolicy int

const (
	// OverlapAllow writes the tile, overwriting the intersection.
	OverlapAllow OverlapPolicy = iota
	// OverlapWarn writes the tile like OverlapAllow and logs a warning.
	OverlapWarn
	// OverlapForbid rejects the tile with ErrOverlap.
	OverlapForbid
)

func (p OverlapPolicy) String() string {
	switch p {
	case OverlapAllow:
		return "allow"
	case OverlapWarn:
		return "warn"
	case OverlapForbid:
		return "forbid"
	}
	return fmt.Sprintf("OverlapPolicy(%d)", int(p))
}

// ParseOverlapPolicy reads the config name of a policy. The empty string
// is OverlapAllow.
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch s {
	case "", "allow":
		return OverlapAllow, nil
	case "warn":
		return OverlapWarn, nil
	case "forbid":
		return OverlapForbid, nil
	}
	return OverlapAllow, fmt.Errorf("%w: overlap policy %q", ErrInvalidValue, s)
}

// DefaultCompressor matches the gzip level 5 datasets slides have
// historically been written with.
var DefaultCompressor = zarr.CompressionMeta{ID: zarr.CompressorGzip, Clevel: 5}

type options struct {
	logger      *Logger
	compressor  *zarr.CompressionMeta
	chunkShape  []int
	overlap     OverlapPolicy
	cacheBytes  int
	concurrency int
	closers     []io.Closer
}

func defaultOptions() options {
	c := DefaultCompressor
	return options{
		logger:     NoopLogger(),
		compressor: &c,
	}
}

// Option configures New and Open.
type Option func(*options)

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithCompressor sets the chunk codec of newly created arrays. Existing
// arrays keep the codec they were written with. A nil meta stores chunks
// uncompressed.
func WithCompressor(m *zarr.CompressionMeta) Option {
	return func(o *options) {
		if m == nil {
			o.compressor = nil
			return
		}
		c := *m
		o.compressor = &c
	}
}

// WithChunkShape sets the chunk shape of newly created canvases. Missing
// trailing axes take the tile extent. By default chunks are one tile.
func WithChunkShape(shape ...int) Option {
	return func(o *options) {
		o.chunkShape = slices.Clone(shape)
	}
}

// WithOverlapPolicy sets how overlapping tiles are handled.
func WithOverlapPolicy(p OverlapPolicy) Option {
	return func(o *options) {
		o.overlap = p
	}
}

// WithChunkCache keeps up to size bytes of decompressed chunks in memory,
// shared by every array of the store. Sizes under 512KB are raised to
// freecache's minimum.
func WithChunkCache(size int) Option {
	return func(o *options) {
		o.cacheBytes = size
	}
}

// WithConcurrency bounds the chunks read or written in parallel by one
// region operation.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// withCloser registers a resource released by TilesStore.Close.
func withCloser(c io.Closer) Option {
	return func(o *options) {
		if c != nil {
			o.closers = append(o.closers, c)
		}
	}
}

func (o *options) arrayOptions() []zarr.ArrayOption {
	var opts []zarr.ArrayOption
	if o.cacheBytes > 0 {
		opts = append(opts, zarr.WithChunkCache(freecache.NewCache(o.cacheBytes)))
	}
	if o.concurrency > 0 {
		opts = append(opts, zarr.WithConcurrency(o.concurrency))
	}
	return opts
}
