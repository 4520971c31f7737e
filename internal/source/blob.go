package source

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // Local filesystem driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"
)

// DefaultBucketURL maps a notification bucket name to a GCS bucket.
const DefaultBucketURL = "gs://{bucket}"

// BucketOpener opens a bucket from a gocloud URL.
type BucketOpener func(ctx context.Context, urlstr string) (*blob.Bucket, error)

// BlobFetcher reads objects through gocloud.dev/blob. Bucket names from
// references are expanded through a URL template, so the same notification
// shape works against GCS, S3 or a local directory.
type BlobFetcher struct {
	template string
	open     BucketOpener
	decoder  *Decoder

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

// FetcherOption configures a BlobFetcher.
type FetcherOption func(*BlobFetcher)

// WithBucketOpener replaces blob.OpenBucket, e.g. with a memblob factory.
func WithBucketOpener(open BucketOpener) FetcherOption {
	return func(f *BlobFetcher) { f.open = open }
}

// NewBlobFetcher creates a fetcher. template must contain "{bucket}";
// an empty template means DefaultBucketURL. Examples:
//
//	gs://{bucket}
//	s3://{bucket}?region=us-east-1
//	file:///var/data/{bucket}
func NewBlobFetcher(template string, opts ...FetcherOption) (*BlobFetcher, error) {
	if template == "" {
		template = DefaultBucketURL
	}
	if !strings.Contains(template, "{bucket}") {
		return nil, fmt.Errorf("bucket URL template %q has no {bucket} placeholder", template)
	}

	decoder, err := NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	f := &BlobFetcher{
		template: template,
		open:     blob.OpenBucket,
		decoder:  decoder,
		buckets:  make(map[string]*blob.Bucket),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// BucketURL expands the template for a bucket name.
func (f *BlobFetcher) BucketURL(bucket string) string {
	return strings.ReplaceAll(f.template, "{bucket}", bucket)
}

// Fetch reads key from bucket and decompresses it if its name says so.
func (f *BlobFetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	b, err := f.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}

	reader, err := b.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}

	return f.decoder.Decode(key, data)
}

func (f *BlobFetcher) bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.buckets[name]; ok {
		return b, nil
	}

	b, err := f.open(ctx, f.BucketURL(name))
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	f.buckets[name] = b
	return b, nil
}

// Close releases every opened bucket and the decoder.
func (f *BlobFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for name, b := range f.buckets {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close bucket %s: %w", name, err)
		}
		delete(f.buckets, name)
	}
	if f.decoder != nil {
		f.decoder.Close()
	}
	return firstErr
}

var _ ObjectFetcher = (*BlobFetcher)(nil)
