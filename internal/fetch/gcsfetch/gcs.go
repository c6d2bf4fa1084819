// Package gcsfetch implements a Fetcher for images hosted on Google Cloud Storage.
package gcsfetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/prepdash/imagecache/extract"
	"github.com/prepdash/imagecache/internal/fetch"
)

// Compile-time check that Fetcher implements fetch.Fetcher.
var _ fetch.Fetcher = (*Fetcher)(nil)

// Fetcher reads objects through the Cloud Storage client.
type Fetcher struct {
	client *storage.Client
}

// New creates a GCS fetcher using application default credentials unless
// opts say otherwise.
func New(ctx context.Context, opts ...option.ClientOption) (*Fetcher, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	return &Fetcher{client: client}, nil
}

// Fetch reads the object addressed by a Cloud Storage URL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*fetch.Payload, error) {
	bucket, object, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	reader, err := f.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fetch.ErrNotFound
		}
		return nil, fmt.Errorf("opening gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()

	// Objects stored with gzip encoding are transcoded by the service.
	encoding := reader.Attrs.ContentEncoding
	if reader.Attrs.Decompressed {
		encoding = ""
	}

	data, err := fetch.Decode(reader, encoding)
	if err != nil {
		return nil, fmt.Errorf("reading gs://%s/%s: %w", bucket, object, err)
	}

	return &fetch.Payload{Data: data, ContentType: reader.Attrs.ContentType}, nil
}

// Close releases the underlying client.
func (f *Fetcher) Close() error {
	return f.client.Close()
}

// ParseURL splits a Cloud Storage URL into bucket and object name.
// Both storage.googleapis.com/bucket/object and
// bucket.storage.googleapis.com/object forms are accepted.
func ParseURL(rawURL string) (bucket, object string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing url: %w", err)
	}

	host := strings.ToLower(u.Hostname())
	path := strings.TrimPrefix(u.Path, "/")

	switch {
	case host == "storage.googleapis.com":
		bucket, object, _ = strings.Cut(path, "/")
	case extract.IsGCSHost(host):
		bucket = strings.TrimSuffix(host, ".storage.googleapis.com")
		object = path
	default:
		return "", "", fmt.Errorf("not a gcs url: %s", rawURL)
	}

	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("gcs url missing bucket or object: %s", rawURL)
	}
	return bucket, object, nil
}
