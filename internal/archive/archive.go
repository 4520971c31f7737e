// Package archive keeps the records of failed batches in a blob bucket so
// they can be inspected or replayed.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // Local filesystem driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // In-memory driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/logging"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/uploader"
)

// BatchRef describes where a failed batch is archived.
type BatchRef struct {
	UploadType    string
	CorrelationID string
	Index         int
}

// DirPath returns the directory of one invocation.
func (r BatchRef) DirPath(prefix string) string {
	return fmt.Sprintf("%s%s/%s", prefix, r.UploadType, r.CorrelationID)
}

// Path returns the key of the batch records.
func (r BatchRef) Path(prefix string) string {
	return fmt.Sprintf("%s/batch-%05d.ndjson", r.DirPath(prefix), r.Index)
}

// ErrorsPath returns the key of the batch error sidecar.
func (r BatchRef) ErrorsPath(prefix string) string {
	return fmt.Sprintf("%s/batch-%05d_errors.json", r.DirPath(prefix), r.Index)
}

// Sidecar is written next to each archived batch.
type Sidecar struct {
	UploadType    string    `json:"upload_type"`
	CorrelationID string    `json:"correlation_id"`
	BatchIndex    int       `json:"batch_index"`
	Records       int       `json:"records"`
	Errors        []string  `json:"errors"`
	ArchivedAt    time.Time `json:"archived_at"`
}

// Store writes failed batches to a gocloud.dev/blob bucket.
type Store struct {
	bucket *blob.Bucket
	prefix string
	now    func() time.Time
	log    *slog.Logger
}

// Open opens the bucket at urlstr (gs://, s3://, file://, mem://).
func Open(ctx context.Context, urlstr, prefix string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, urlstr)
	if err != nil {
		return nil, fmt.Errorf("open archive bucket %s: %w", urlstr, err)
	}
	return New(bucket, prefix), nil
}

// New wraps an already opened bucket.
func New(bucket *blob.Bucket, prefix string) *Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{
		bucket: bucket,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logging.Component("archive"),
	}
}

// ArchiveBatch writes the batch records and their errors. Both objects are
// written to temp keys first and then finalized, so a reader never sees a
// partial batch.
func (s *Store) ArchiveBatch(ctx context.Context, fb uploader.FailedBatch) error {
	ref := BatchRef{
		UploadType:    fb.UploadType,
		CorrelationID: fb.CorrelationID,
		Index:         fb.Batch.Index,
	}

	body := strings.Join(fb.Batch.Records, "\n") + "\n"
	sidecar, err := json.MarshalIndent(Sidecar{
		UploadType:    fb.UploadType,
		CorrelationID: fb.CorrelationID,
		BatchIndex:    fb.Batch.Index,
		Records:       len(fb.Batch.Records),
		Errors:        fb.Errors,
		ArchivedAt:    s.now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}

	tempRecords, err := s.writeTemp(ctx, ref.Path(s.prefix), []byte(body), "application/x-ndjson")
	if err != nil {
		return err
	}
	tempErrors, err := s.writeTemp(ctx, ref.ErrorsPath(s.prefix), sidecar, "application/json")
	if err != nil {
		return errors.Join(err, s.Abort(ctx, []string{tempRecords}))
	}

	return s.Finalize(ctx,
		[]string{tempRecords, tempErrors},
		[]string{ref.Path(s.prefix), ref.ErrorsPath(s.prefix)})
}

func (s *Store) writeTemp(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	tempKey := key + ".tmp." + uuid.New().String()

	w, err := s.bucket.NewWriter(ctx, tempKey, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("create writer for %s: %w", tempKey, err)
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write data to %s: %w", tempKey, err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", tempKey, err)
	}

	return tempKey, nil
}

// Finalize moves temp objects to their final keys. If any copy fails, the
// final objects copied so far and all temp objects are removed, and any
// rollback failure is returned alongside the copy error.
func (s *Store) Finalize(ctx context.Context, tempKeys, finalKeys []string) error {
	if len(tempKeys) != len(finalKeys) {
		return fmt.Errorf("expected %d temp keys, got %d", len(finalKeys), len(tempKeys))
	}

	for i, tempKey := range tempKeys {
		if err := s.bucket.Copy(ctx, finalKeys[i], tempKey, nil); err != nil {
			err = fmt.Errorf("finalize %s -> %s: %w", tempKey, finalKeys[i], err)
			return errors.Join(err, s.remove(ctx, finalKeys[:i]), s.remove(ctx, tempKeys))
		}
	}

	if err := s.remove(ctx, tempKeys); err != nil {
		s.log.Warn("failed to remove temp objects", "keys", tempKeys, "error", err)
	}
	return nil
}

// Abort removes temp objects without publishing.
func (s *Store) Abort(ctx context.Context, tempKeys []string) error {
	return s.remove(ctx, tempKeys)
}

// remove deletes keys, skipping ones that are already gone.
func (s *Store) remove(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// List returns the archived keys under prefix, temp objects excluded.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	it := s.bucket.List(&blob.ListOptions{Prefix: s.prefix + prefix})
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return keys, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if !obj.IsDir && !strings.Contains(obj.Key, ".tmp.") {
			keys = append(keys, obj.Key)
		}
	}
}

// Close releases the bucket.
func (s *Store) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

var _ uploader.BatchArchiver = (*Store)(nil)
