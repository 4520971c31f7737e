// Package history records a summary row for every upload invocation.
package history

import (
	"context"
	"fmt"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/uploader"
)

// Config configures the history store.
type Config struct {
	PostgresDSN string
	MaxConns    int32
}

// Recorder persists invocation summaries.
type Recorder interface {
	uploader.RunRecorder
	Close() error
}

// NoopRecorder drops every run.
type NoopRecorder struct{}

func (NoopRecorder) RecordRun(context.Context, uploader.Run) error { return nil }
func (NoopRecorder) Close() error                                 { return nil }

// New returns a Postgres recorder when a DSN is configured and a no-op
// recorder otherwise.
func New(ctx context.Context, cfg Config) (Recorder, error) {
	if cfg.PostgresDSN == "" {
		return NoopRecorder{}, nil
	}
	r, err := NewPostgresRecorder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return r, nil
}
