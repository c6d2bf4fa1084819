// Package codec decodes content-encoded image payloads.
//
// Object stores and HTTP origins may serve images with a Content-Encoding
// (gzip or zstd). Fetchers pick a Decoder by encoding token and unwrap the
// body before the bytes are handed to the cache. Images are never encoded
// by the cache, so there is no writing half.
package codec

import (
	"io"
	"strings"
)

// Decoder unwraps one content encoding.
type Decoder interface {
	// Decode wraps r so that reads return the decoded bytes.
	Decode(r io.Reader) (io.ReadCloser, error)
	// Encoding returns the canonical Content-Encoding token.
	Encoding() string
}

// Normalize canonicalizes a Content-Encoding header value. Legacy aliases
// map to their registered token and the empty value means identity.
func Normalize(contentEncoding string) string {
	token := strings.ToLower(strings.TrimSpace(contentEncoding))
	switch token {
	case "", "identity":
		return "identity"
	case "x-gzip":
		return "gzip"
	}
	return token
}
