// Package s3fetch implements a Fetcher that reads S3-hosted images through
// the AWS SDK instead of anonymous HTTP, so private buckets work with the
// ambient AWS credentials.
package s3fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/prepdash/imagecache/internal/fetch"
)

// Compile-time check that Fetcher implements fetch.Fetcher.
var _ fetch.Fetcher = (*Fetcher)(nil)

var (
	virtualHost = regexp.MustCompile(`^(.+)\.s3([.\-][a-z0-9\-]+)*\.amazonaws\.com(\.cn)?$`)
	pathHost    = regexp.MustCompile(`^s3([.\-][a-z0-9\-]+)*\.amazonaws\.com(\.cn)?$`)
)

// Fetcher reads objects from S3.
type Fetcher struct {
	client *s3.Client
}

// settings collects options before the client is built.
type settings struct {
	region   string
	endpoint string
}

// Option configures a Fetcher.
type Option func(*settings) error

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(s *settings) error {
		s.region = region
		return nil
	}
}

// WithEndpoint sets a custom endpoint (for S3-compatible services like MinIO).
// Path-style addressing is enabled when an endpoint is set.
func WithEndpoint(endpoint string) Option {
	return func(s *settings) error {
		if _, err := url.Parse(endpoint); err != nil {
			return fmt.Errorf("parsing endpoint: %w", err)
		}
		s.endpoint = endpoint
		return nil
	}
}

// New creates a Fetcher from the default AWS configuration chain.
func New(ctx context.Context, opts ...Option) (*Fetcher, error) {
	var s settings
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return nil, err
		}
	}

	var loadOpts []func(*config.LoadOptions) error
	if s.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(s.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewFromConfig(cfg, s.endpoint), nil
}

// NewFromConfig creates a Fetcher from an explicit AWS configuration.
// endpoint may be empty.
func NewFromConfig(cfg aws.Config, endpoint string) *Fetcher {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &Fetcher{client: client}
}

// Fetch reads the object addressed by an S3 URL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*fetch.Payload, error) {
	bucket, key, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	result, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fetch.ErrNotFound
		}
		return nil, fmt.Errorf("getting s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	data, err := fetch.Decode(result.Body, aws.ToString(result.ContentEncoding))
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", bucket, key, err)
	}

	return &fetch.Payload{
		Data:        data,
		ContentType: aws.ToString(result.ContentType),
	}, nil
}

// ParseURL splits a virtual-hosted or path-style S3 URL into bucket and key.
func ParseURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing url: %w", err)
	}

	host := strings.ToLower(u.Hostname())
	path := strings.TrimPrefix(u.Path, "/")

	switch {
	case pathHost.MatchString(host):
		bucket, key, _ = strings.Cut(path, "/")
	case virtualHost.MatchString(host):
		bucket = virtualHost.FindStringSubmatch(host)[1]
		key = path
	default:
		return "", "", fmt.Errorf("not an s3 url: %s", rawURL)
	}

	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url missing bucket or key: %s", rawURL)
	}
	return bucket, key, nil
}
