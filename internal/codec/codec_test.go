package codec_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/prepdash/imagecache/internal/codec"
	"github.com/prepdash/imagecache/internal/codec/gzipcodec"
	"github.com/prepdash/imagecache/internal/codec/noopcodec"
	"github.com/prepdash/imagecache/internal/codec/zstdcodec"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func decode(t *testing.T, d codec.Decoder, body []byte) []byte {
	t.Helper()
	r, err := d.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return out
}

func TestDecoders(t *testing.T) {
	payloads := map[string][]byte{
		"empty": {},
		"small": []byte("\x89PNG\r\n\x1a\n fake image"),
		"large": bytes.Repeat([]byte("ABCDEFGHIJ"), 10000),
	}

	tests := []struct {
		decoder  codec.Decoder
		encoding string
		encode   func(*testing.T, []byte) []byte
	}{
		{gzipcodec.Decoder{}, "gzip", gzipBytes},
		{zstdcodec.Decoder{}, "zstd", zstdBytes},
		{noopcodec.Decoder{}, "identity", func(_ *testing.T, b []byte) []byte { return b }},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			if got := tt.decoder.Encoding(); got != tt.encoding {
				t.Errorf("Encoding() = %q, want %q", got, tt.encoding)
			}
			for name, data := range payloads {
				if got := decode(t, tt.decoder, tt.encode(t, data)); !bytes.Equal(got, data) {
					t.Errorf("%s: decoded %d bytes, want %d", name, len(got), len(data))
				}
			}
		})
	}
}

func TestGzip_MultiMember(t *testing.T) {
	body := append(gzipBytes(t, []byte("first ")), gzipBytes(t, []byte("second"))...)
	if got := decode(t, gzipcodec.Decoder{}, body); string(got) != "first second" {
		t.Errorf("Decode() = %q, want %q", got, "first second")
	}
}

func TestDecoders_InvalidData(t *testing.T) {
	// zstd defers header validation to the first read.
	for _, d := range []codec.Decoder{gzipcodec.Decoder{}, zstdcodec.Decoder{}} {
		t.Run(d.Encoding(), func(t *testing.T) {
			r, err := d.Decode(bytes.NewReader([]byte("not compressed data")))
			if err != nil {
				return
			}
			defer r.Close()
			if _, err := io.ReadAll(r); err == nil {
				t.Error("expected an error decoding invalid data")
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "identity"},
		{" Identity ", "identity"},
		{"GZIP", "gzip"},
		{"x-gzip", "gzip"},
		{"zstd", "zstd"},
		{"br", "br"},
	}
	for _, tt := range tests {
		if got := codec.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
