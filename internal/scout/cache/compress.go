package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ExtGzip is the extension marking compressed cache files on disk.
const ExtGzip = ".gz"

// ErrDecompression is returned when cache decompression fails.
// Use errors.Is(err, ErrDecompression) to check for decompression errors.
var ErrDecompression = errors.New("decompression failed")

// compressGzip compresses content with gzip at the default level.
func compressGzip(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(content); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip compression failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compression close failed: %w", err)
	}
	return buf.Bytes(), nil
}

// decompressGzip inflates gzip content.
func decompressGzip(content []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompression, err)
	}
	defer r.Close()

	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompression, err)
	}
	return decompressed, nil
}
