package recorder

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressionType defines the compression algorithm of a recording
type CompressionType int

const (
	// NoCompression writes plain JSON lines
	NoCompression CompressionType = iota
	// ZstdCompression indicates Zstandard compression
	ZstdCompression
)

var (
	// DefaultCompression is the default compression algorithm
	DefaultCompression = ZstdCompression

	// encoder and decoder for zstd are reusable and thread-safe
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

func (c CompressionType) String() string {
	if c == NoCompression {
		return "none"
	}
	return "zstd"
}

// ParseCompression parses "none" or "zstd". The empty string selects
// DefaultCompression.
func ParseCompression(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultCompression, nil
	case "none", "off":
		return NoCompression, nil
	case "zstd":
		return ZstdCompression, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

// CompressData compresses a byte slice using the specified compression algorithm
func CompressData(data []byte, compressionType CompressionType) ([]byte, error) {
	if compressionType == NoCompression {
		return data, nil
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// DecompressData decompresses a byte slice using the specified compression algorithm
func DecompressData(data []byte, compressionType CompressionType) ([]byte, error) {
	if compressionType == NoCompression {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}

// NewCompressedWriter returns a writer that compresses data before writing
func NewCompressedWriter(w io.Writer, compressionType CompressionType) (io.Writer, error) {
	if compressionType == NoCompression {
		return w, nil
	}
	return zstd.NewWriter(w)
}

// NewCompressedReader returns a reader that decompresses data after reading.
// Concatenated zstd frames are read as one stream.
func NewCompressedReader(r io.Reader, compressionType CompressionType) (io.ReadCloser, error) {
	if compressionType == NoCompression {
		return io.NopCloser(r), nil
	}
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

// CloseCompressedWriter ends the current frame of a compressed writer
func CloseCompressedWriter(w io.Writer, compressionType CompressionType) error {
	if compressionType == NoCompression {
		return nil
	}
	if zw, ok := w.(*zstd.Encoder); ok {
		return zw.Close()
	}
	return nil
}
