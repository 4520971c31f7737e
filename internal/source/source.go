// Package source resolves the record stream of an upload invocation, either
// from the message body itself or from a bucket object the message points to.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/metrics"
)

// Error types for resolution failures.
var (
	ErrMissingObjectName = errors.New("object name is empty")
	ErrObjectNotFound    = errors.New("object not found")
)

// Reference is the shape of a storage object notification.
type Reference struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ObjectFetcher reads a whole object.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// Resolver decides whether a message is inline record data or a reference to
// a stored object, and returns the raw record stream either way.
type Resolver struct {
	fetcher ObjectFetcher
}

// NewResolver creates a resolver. fetcher may be nil when references are not
// expected; a reference then fails to resolve.
func NewResolver(fetcher ObjectFetcher) *Resolver {
	return &Resolver{fetcher: fetcher}
}

// ParseReference reports whether message is an object reference. A message
// that does not decode, or decodes without a bucket, is inline data.
func ParseReference(message string) (Reference, bool) {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "{") {
		return Reference{}, false
	}
	var ref Reference
	if err := json.Unmarshal([]byte(trimmed), &ref); err != nil {
		return Reference{}, false
	}
	if ref.Bucket == "" {
		return Reference{}, false
	}
	return ref, true
}

// Resolve returns the raw newline-delimited record stream for message.
func (r *Resolver) Resolve(ctx context.Context, message string) (string, error) {
	ref, ok := ParseReference(message)
	if !ok {
		return message, nil
	}

	if ref.Name == "" {
		return "", fmt.Errorf("could not find object in bucket %s: %w", ref.Bucket, ErrMissingObjectName)
	}
	if r.fetcher == nil {
		return "", fmt.Errorf("could not find %s/%s: no object fetcher configured", ref.Bucket, ref.Name)
	}

	data, err := r.fetcher.Fetch(ctx, ref.Bucket, ref.Name)
	if err != nil {
		incFetches("error")
		return "", fmt.Errorf("could not find %s/%s: %w", ref.Bucket, ref.Name, err)
	}
	incFetches("success")

	return string(data), nil
}

func incFetches(status string) {
	if m := metrics.Get(); m != nil {
		m.IncSourceFetches(metrics.Labels{Status: status})
	}
}
