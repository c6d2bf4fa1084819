// Package zstdcodec decodes zstd-encoded payloads.
package zstdcodec

import (
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/prepdash/imagecache/internal/codec"
)

var _ codec.Decoder = Decoder{}

// maxWindow caps the decoder window so a hostile frame header cannot
// demand an arbitrary allocation.
const maxWindow = 64 << 20

// Decoder reads zstd streams. Each Decode call gets its own single-threaded
// decoder, since one image body is decoded per fetch.
type Decoder struct{}

// Decode returns a reader over the decompressed stream. Closing it frees
// the decoder.
func (Decoder) Decode(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxWindow(maxWindow),
	)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// Encoding returns "zstd".
func (Decoder) Encoding() string { return "zstd" }
