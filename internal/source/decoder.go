package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrCorruptObject is returned when a compressed object fails to decode.
var ErrCorruptObject = errors.New("corrupt compressed object")

// Decoder decompresses fetched objects based on their key suffix.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a new object decoder.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}

// IsCompressed reports whether key names a compressed object.
func IsCompressed(key string) bool {
	return strings.HasSuffix(key, ".zst") || strings.HasSuffix(key, ".gz")
}

// Decode returns data as plain text. Objects ending in .zst or .gz are
// decompressed; everything else is returned unchanged.
func (d *Decoder) Decode(key string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(key, ".zst"):
		out, err := d.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd %s: %v", ErrCorruptObject, key, err)
		}
		return out, nil
	case strings.HasSuffix(key, ".gz"):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip %s: %v", ErrCorruptObject, key, err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip %s: %v", ErrCorruptObject, key, err)
		}
		return out, nil
	default:
		return data, nil
	}
}
