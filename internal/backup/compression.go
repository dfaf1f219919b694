package backup

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor wraps an archive stream with a compression codec. Archives are
// written and read as streams so compression never buffers the whole backup
// in memory.
type Compressor interface {
	// WrapWriter layers compression over w; the caller must Close the
	// returned writer before closing w.
	WrapWriter(w io.Writer) (io.WriteCloser, error)
	// WrapReader layers decompression over r
	WrapReader(r io.Reader) (io.ReadCloser, error)
	// Extension returns the archive suffix, e.g. ".tar.gz"
	Extension() string
	// Algorithm identifies the codec
	Algorithm() CompressionType
}

// CompressionManager maps compression types to codecs
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager creates a manager with all supported codecs registered
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		compressors: make(map[CompressionType]Compressor),
	}

	cm.compressors[CompressionGzip] = &GzipCompressor{}
	cm.compressors[CompressionLZ4] = &LZ4Compressor{}
	cm.compressors[CompressionZstd] = &ZstdCompressor{}

	return cm
}

// GetCompressor returns the codec for the given algorithm. CompressionNone
// has no codec: callers produce a directory tree instead of an archive.
func (cm *CompressionManager) GetCompressor(algorithm CompressionType) (Compressor, error) {
	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return compressor, nil
}

// GetSupportedAlgorithms returns the registered codecs
func (cm *CompressionManager) GetSupportedAlgorithms() []CompressionType {
	algorithms := make([]CompressionType, 0, len(cm.compressors))
	for algorithm := range cm.compressors {
		algorithms = append(algorithms, algorithm)
	}
	return algorithms
}

// CompressorForExtension resolves a codec from an artifact's file name,
// used when reading archives whose configuration is unknown.
func (cm *CompressionManager) CompressorForExtension(name string) (Compressor, error) {
	for _, compressor := range cm.compressors {
		ext := compressor.Extension()
		if len(name) >= len(ext) && name[len(name)-len(ext):] == ext {
			return compressor, nil
		}
	}
	return nil, NewCompressionError(fmt.Sprintf("no codec matches archive name: %s", name), nil)
}

// GzipCompressor implements gzip compression (.tar.gz)
type GzipCompressor struct{}

func (gc *GzipCompressor) WrapWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gc *GzipCompressor) WrapReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, NewCompressionError("failed to create gzip reader", err)
	}
	return reader, nil
}

func (gc *GzipCompressor) Extension() string {
	return ".tar.gz"
}

func (gc *GzipCompressor) Algorithm() CompressionType {
	return CompressionGzip
}

// LZ4Compressor implements LZ4 compression (.tar.lz4)
type LZ4Compressor struct{}

func (lc *LZ4Compressor) WrapWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (lc *LZ4Compressor) WrapReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (lc *LZ4Compressor) Extension() string {
	return ".tar.lz4"
}

func (lc *LZ4Compressor) Algorithm() CompressionType {
	return CompressionLZ4
}

// ZstdCompressor implements Zstandard compression (.tar.zst)
type ZstdCompressor struct{}

func (zc *ZstdCompressor) WrapWriter(w io.Writer) (io.WriteCloser, error) {
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, NewCompressionError("failed to create zstd encoder", err)
	}
	return encoder, nil
}

func (zc *ZstdCompressor) WrapReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, NewCompressionError("failed to create zstd decoder", err)
	}
	return decoder.IOReadCloser(), nil
}

func (zc *ZstdCompressor) Extension() string {
	return ".tar.zst"
}

func (zc *ZstdCompressor) Algorithm() CompressionType {
	return CompressionZstd
}
