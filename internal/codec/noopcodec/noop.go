// Package noopcodec handles the identity content encoding.
package noopcodec

import (
	"io"

	"github.com/prepdash/imagecache/internal/codec"
)

var _ codec.Decoder = Decoder{}

// Decoder passes the body through unchanged.
type Decoder struct{}

// Decode returns r, closing it when r is itself a closer.
func (Decoder) Decode(r io.Reader) (io.ReadCloser, error) {
	if rc, ok := r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(r), nil
}

// Encoding returns "identity".
func (Decoder) Encoding() string { return "identity" }
