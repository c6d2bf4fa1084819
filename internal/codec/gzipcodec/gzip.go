// Package gzipcodec decodes gzip-encoded payloads.
package gzipcodec

import (
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/prepdash/imagecache/internal/codec"
)

var _ codec.Decoder = Decoder{}

// Decoder reads gzip streams, including multi-member ones.
type Decoder struct{}

// Decode returns a reader over the decompressed stream.
func (Decoder) Decode(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// Encoding returns "gzip".
func (Decoder) Encoding() string { return "gzip" }
