package zarr

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/qri-io/dataset/compression"
)

// Compressor ids understood by CompressionMeta. "zstd" is the numcodecs
// name, "zst" the one used by qri-io/dataset.
const (
	CompressorGzip   = "gzip"
	CompressorZstd   = "zstd"
	CompressorZst    = "zst"
	CompressorLZ4    = "lz4"
	CompressorSnappy = "snappy"
)

// CompressionMeta defines compression settings zarr-go understands
type CompressionMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
}

// Validate rejects codecs this package cannot read or write.
func (m *CompressionMeta) Validate() error {
	if m == nil {
		return nil
	}
	switch m.ID {
	case CompressorGzip, CompressorZstd, CompressorZst, CompressorLZ4, CompressorSnappy:
		return nil
	}
	return fmt.Errorf("unsupported compressor %q", m.ID)
}

// Compressor wraps w so that writes are compressed. Callers must Close the
// returned writer to flush it; closing does not close w.
func (m *CompressionMeta) Compressor(w io.Writer) (io.WriteCloser, error) {
	switch m.ID {
	case CompressorGzip:
		if m.Clevel > 0 {
			return gzip.NewWriterLevel(w, m.Clevel)
		}
		return compression.Compressor(CompressorGzip, w)
	case CompressorZstd, CompressorZst:
		if m.Clevel > 0 {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(m.Clevel)))
		}
		return compression.Compressor(CompressorZst, w)
	case CompressorLZ4:
		zw := lz4.NewWriter(w)
		if m.Clevel > 0 {
			if err := zw.Apply(lz4.CompressionLevelOption(lz4Level(m.Clevel))); err != nil {
				return nil, err
			}
		}
		return zw, nil
	case CompressorSnappy:
		return snappy.NewBufferedWriter(w), nil
	}
	return nil, fmt.Errorf("unsupported compressor %q", m.ID)
}

func (m *CompressionMeta) Decompressor(r io.ReadCloser) (io.ReadCloser, error) {
	switch m.ID {
	case CompressorZstd:
		return compression.Decompressor(CompressorZst, r)
	case CompressorLZ4:
		return readCloser{lz4.NewReader(r), r}, nil
	case CompressorSnappy:
		return readCloser{snappy.NewReader(r), r}, nil
	}
	return compression.Decompressor(m.ID, r)
}

// encode compresses one raw chunk. A nil meta stores chunks as-is.
func (m *CompressionMeta) encode(raw []byte) ([]byte, error) {
	if m == nil {
		return raw, nil
	}
	var buf bytes.Buffer
	w, err := m.Compressor(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode reads and decompresses one stored chunk, closing r.
func (m *CompressionMeta) decode(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	if m == nil {
		return io.ReadAll(r)
	}
	dr, err := m.Decompressor(io.NopCloser(r))
	if err != nil {
		return nil, err
	}
	defer dr.Close()
	return io.ReadAll(dr)
}

// lz4Level maps a 1-9 zarr clevel onto the lz4 package's levels.
func lz4Level(clevel int) lz4.CompressionLevel {
	levels := []lz4.CompressionLevel{lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
		lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9}
	if clevel >= len(levels) {
		clevel = len(levels) - 1
	}
	return levels[clevel]
}

type readCloser struct {
	io.Reader
	c io.Closer
}

func (r readCloser) Close() error { return r.c.Close() }
