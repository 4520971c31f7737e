package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/uploader"
)

func failedBatch() uploader.FailedBatch {
	return uploader.FailedBatch{
		UploadType:    "AOUD",
		CorrelationID: "corr-1",
		Batch: uploader.RecordBatch{
			Index:   3,
			Records: []string{`{"hashedEmail":"a"}`, `{"hashedEmail":"b"}`},
		},
		Errors: []string{"row 1: bad email"},
	}
}

func TestBatchRefPaths(t *testing.T) {
	ref := BatchRef{UploadType: "ACA", CorrelationID: "c", Index: 12}
	assert.Equal(t, "failed/ACA/c/batch-00012.ndjson", ref.Path("failed/"))
	assert.Equal(t, "failed/ACA/c/batch-00012_errors.json", ref.ErrorsPath("failed/"))
}

func TestArchiveBatchFileblob(t *testing.T) {
	tmpDir := t.TempDir()
	bucket, err := fileblob.OpenBucket(tmpDir, nil)
	require.NoError(t, err)

	store := New(bucket, "failed")
	defer store.Close()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	ctx := context.Background()
	require.NoError(t, store.ArchiveBatch(ctx, failedBatch()))

	ref := BatchRef{UploadType: "AOUD", CorrelationID: "corr-1", Index: 3}
	data, err := os.ReadFile(filepath.Join(tmpDir, ref.Path("failed/")))
	require.NoError(t, err)
	assert.Equal(t, "{\"hashedEmail\":\"a\"}\n{\"hashedEmail\":\"b\"}\n", string(data))

	raw, err := os.ReadFile(filepath.Join(tmpDir, ref.ErrorsPath("failed/")))
	require.NoError(t, err)
	var sc Sidecar
	require.NoError(t, json.Unmarshal(raw, &sc))
	assert.Equal(t, 3, sc.BatchIndex)
	assert.Equal(t, 2, sc.Records)
	assert.Equal(t, []string{"row 1: bad email"}, sc.Errors)
	assert.True(t, fixed.Equal(sc.ArchivedAt))

	keys, err := store.List(ctx, "AOUD/corr-1/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ref.Path("failed/"), ref.ErrorsPath("failed/")}, keys)
	for _, k := range keys {
		assert.False(t, strings.Contains(k, ".tmp."), "temp objects are removed after finalize")
	}
}

func TestFinalizeKeyMismatch(t *testing.T) {
	store := New(memblob.OpenBucket(nil), "")
	defer store.Close()

	err := store.Finalize(context.Background(), []string{"a"}, []string{"b", "c"})
	assert.Error(t, err)
}

func TestFinalizeRollsBackOnMissingTemp(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	store := New(bucket, "")
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, bucket.WriteAll(ctx, "x.tmp.1", []byte("x"), nil))

	err := store.Finalize(ctx, []string{"x.tmp.1", "y.tmp.1"}, []string{"x", "y"})
	require.Error(t, err)

	assert.Equal(t, gcerrors.NotFound, gcerrors.Code(err))
	assert.NotContains(t, err.Error(), "delete", "missing objects are not rollback failures")

	for _, key := range []string{"x", "y", "x.tmp.1"} {
		ok, err := bucket.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
}

func TestFinalizeKeepsContentType(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	store := New(bucket, "")
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, bucket.WriteAll(ctx, "x.tmp.1", []byte("x"),
		&blob.WriterOptions{ContentType: "application/x-ndjson"}))
	require.NoError(t, store.Finalize(ctx, []string{"x.tmp.1"}, []string{"x"}))

	attrs, err := bucket.Attributes(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "application/x-ndjson", attrs.ContentType)

	ok, err := bucket.Exists(ctx, "x.tmp.1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAbort(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	store := New(bucket, "")
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, bucket.WriteAll(ctx, "a.tmp.1", []byte("a"), nil))
	require.NoError(t, store.Abort(ctx, []string{"a.tmp.1"}))

	ok, err := bucket.Exists(ctx, "a.tmp.1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, store.Abort(ctx, []string{"a.tmp.1"}), "already removed")
}

func TestAbortReportsDeleteErrors(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	store := New(bucket, "")
	ctx := context.Background()
	require.NoError(t, bucket.Close())

	err := store.Abort(ctx, []string{"a.tmp.1", "b.tmp.1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete a.tmp.1")
	assert.Contains(t, err.Error(), "delete b.tmp.1")
}

func TestOpenMem(t *testing.T) {
	store, err := Open(context.Background(), "mem://", "p/")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.ArchiveBatch(context.Background(), failedBatch()))
	keys, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
