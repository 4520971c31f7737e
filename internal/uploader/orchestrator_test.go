package uploader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callLog captures the order of remote calls made by a fake variant.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, s)
}

func (c *callLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *callLog) count(prefix string) int {
	n := 0
	for _, s := range c.snapshot() {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

// jobVariant mimics the list/job flow: two prerequisite calls, one send per
// batch, and a run step after all sends.
func jobVariant(log *callLog, failBatch int, prepErr, finishErr error) Variant {
	return Variant{
		Name: "JOB",
		Prepare: func(ctx context.Context, cfg UploadConfig) (Plan, error) {
			log.add("createList")
			if prepErr != nil {
				return Plan{}, prepErr
			}
			log.add("createJob")
			return Plan{
				Send: func(ctx context.Context, b RecordBatch) error {
					log.add("send")
					if b.Index == failBatch {
						return errors.New("M")
					}
					return nil
				},
				Finish: func(ctx context.Context) error {
					log.add("runJob")
					return finishErr
				},
			}, nil
		},
	}
}

func simpleVariant(log *callLog) Variant {
	return Variant{
		Name: "SIMPLE",
		Prepare: func(ctx context.Context, cfg UploadConfig) (Plan, error) {
			return Plan{Send: func(ctx context.Context, b RecordBatch) error {
				log.add("send")
				return nil
			}}, nil
		},
	}
}

type fakeResolver struct {
	raw string
	err error
}

func (f fakeResolver) Resolve(ctx context.Context, message string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.raw != "" {
		return f.raw, nil
	}
	return message, nil
}

type fakeArchiver struct {
	mu     sync.Mutex
	failed []FailedBatch
}

func (f *fakeArchiver) ArchiveBatch(ctx context.Context, fb FailedBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, fb)
	return nil
}

type fakeRecorder struct {
	runs []Run
	err  error
}

func (f *fakeRecorder) RecordRun(ctx context.Context, run Run) error {
	f.runs = append(f.runs, run)
	return f.err
}

func cfg(size, threads int) UploadConfig {
	return UploadConfig{RecordsPerRequest: size, NumberOfThreads: threads}
}

func TestUploadEmptyStream(t *testing.T) {
	log := &callLog{}
	o := New(jobVariant(log, -1, nil, nil), fakeResolver{})

	res, err := o.Upload(context.Background(), Input{Message: "", Config: cfg(5, 2)})

	require.NoError(t, err)
	assert.Equal(t, Succeeded(), res)
	assert.Empty(t, log.snapshot(), "no list or job is created for an empty stream")
}

func TestUploadAllSuccess(t *testing.T) {
	log := &callLog{}
	o := New(simpleVariant(log), fakeResolver{})

	res, err := o.Upload(context.Background(), Input{
		Message: strings.Join(records(10), "\n"),
		Config:  cfg(3, 2),
	})

	require.NoError(t, err)
	assert.Equal(t, Succeeded(), res)
	assert.Equal(t, 4, log.count("send"))
}

func TestUploadSingleBatchFailure(t *testing.T) {
	log := &callLog{}
	o := New(jobVariant(log, 1, nil, nil), fakeResolver{})

	res, err := o.Upload(context.Background(), Input{
		Records: records(10),
		Config:  cfg(3, 2),
	})

	require.NoError(t, err)
	assert.False(t, res.Result)
	assert.Equal(t, []string{"M"}, res.Errors)
}

func TestUploadJobCallOrder(t *testing.T) {
	log := &callLog{}
	o := New(jobVariant(log, 2, nil, nil), fakeResolver{})

	res, err := o.Upload(context.Background(), Input{
		Records: records(12),
		Config:  cfg(3, 3),
	})
	require.NoError(t, err)
	assert.False(t, res.Result)
	assert.Equal(t, []string{"M"}, res.Errors)

	calls := log.snapshot()
	require.Len(t, calls, 2+4+1)
	assert.Equal(t, []string{"createList", "createJob"}, calls[:2])
	for _, c := range calls[2:6] {
		assert.Equal(t, "send", c)
	}
	assert.Equal(t, "runJob", calls[6], "job runs even after a batch failed")
}

func TestUploadSourceResolutionFailure(t *testing.T) {
	log := &callLog{}
	o := New(jobVariant(log, -1, nil, nil), fakeResolver{err: errors.New("could not find bucket/x.txt")})

	res, err := o.Upload(context.Background(), Input{
		Message: `{"bucket":"bucket","name":"x.txt"}`,
		Config:  cfg(5, 1),
	})

	require.NoError(t, err)
	assert.False(t, res.Result)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Errors[0], "could not find"))
	assert.Empty(t, log.snapshot())
}

func TestUploadPrerequisiteFailure(t *testing.T) {
	log := &callLog{}
	rec := &fakeRecorder{}
	o := New(jobVariant(log, -1, errors.New("list quota exceeded"), nil), fakeResolver{}, WithRecorder(rec))

	res, err := o.Upload(context.Background(), Input{Records: records(4), Config: cfg(2, 1)})

	require.NoError(t, err)
	assert.False(t, res.Result)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "list quota exceeded")
	assert.Equal(t, []string{"createList"}, log.snapshot(), "no sends and no run after a failed prerequisite")

	require.Len(t, rec.runs, 1)
	assert.Equal(t, "prerequisite", rec.runs[0].FailureKind)
}

func TestUploadFinishFailure(t *testing.T) {
	log := &callLog{}
	o := New(jobVariant(log, -1, nil, errors.New("job run rejected")), fakeResolver{})

	res, err := o.Upload(context.Background(), Input{Records: records(4), Config: cfg(2, 2)})

	require.NoError(t, err)
	assert.False(t, res.Result)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "job run rejected")
	assert.Equal(t, 2, log.count("send"))
}

func TestUploadInvalidConfig(t *testing.T) {
	log := &callLog{}
	o := New(simpleVariant(log), fakeResolver{})

	_, err := o.Upload(context.Background(), Input{Records: records(4), Config: cfg(0, 1)})

	require.Error(t, err)
	assert.True(t, IsInvalidConfig(err))
	assert.Empty(t, log.snapshot())
}

func TestUploadNilPrepare(t *testing.T) {
	o := New(Variant{Name: "BROKEN"}, nil)

	res, err := o.Upload(context.Background(), Input{Message: "a\nb", Config: cfg(1, 1)})

	require.NoError(t, err)
	assert.False(t, res.Result)
	assert.Contains(t, res.Errors[0], "no send operation")
}

func TestUploadPanicInPrepare(t *testing.T) {
	o := New(Variant{
		Name: "PANIC",
		Prepare: func(ctx context.Context, cfg UploadConfig) (Plan, error) {
			panic("nil client")
		},
	}, nil)

	res, err := o.Upload(context.Background(), Input{Message: "a", Config: cfg(1, 1)})

	require.NoError(t, err)
	assert.Equal(t, Failed("PANIC upload aborted: nil client"), res)
}

func TestUploadArchivesFailedBatches(t *testing.T) {
	log := &callLog{}
	arch := &fakeArchiver{}
	o := New(jobVariant(log, 1, nil, nil), fakeResolver{}, WithArchiver(arch))

	_, err := o.Upload(context.Background(), Input{
		Records:       records(6),
		CorrelationID: "corr-1",
		Config:        cfg(2, 2),
	})
	require.NoError(t, err)

	require.Len(t, arch.failed, 1)
	fb := arch.failed[0]
	assert.Equal(t, "JOB", fb.UploadType)
	assert.Equal(t, "corr-1", fb.CorrelationID)
	assert.Equal(t, 1, fb.Batch.Index)
	assert.Equal(t, records(6)[2:4], fb.Batch.Records)
	assert.Equal(t, []string{"M"}, fb.Errors)
}

func TestUploadRecordsRun(t *testing.T) {
	log := &callLog{}
	rec := &fakeRecorder{err: errors.New("db down")}
	o := New(simpleVariant(log), nil, WithRecorder(rec))

	res, err := o.Upload(context.Background(), Input{
		Message:       "a\nb\nc",
		CorrelationID: "corr-2",
		Config:        cfg(2, 1),
	})

	require.NoError(t, err)
	assert.True(t, res.Result, "recorder errors do not change the result")
	require.Len(t, rec.runs, 1)
	run := rec.runs[0]
	assert.Equal(t, "SIMPLE", run.UploadType)
	assert.Equal(t, "corr-2", run.CorrelationID)
	assert.Equal(t, 3, run.Records)
	assert.Equal(t, 2, run.Batches)
	assert.Empty(t, run.FailureKind)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
}

func TestUploadGeneratesCorrelationID(t *testing.T) {
	rec := &fakeRecorder{}
	o := New(simpleVariant(&callLog{}), nil, WithRecorder(rec))

	_, err := o.Upload(context.Background(), Input{Message: "a", Config: cfg(1, 1)})

	require.NoError(t, err)
	require.Len(t, rec.runs, 1)
	assert.NotEmpty(t, rec.runs[0].CorrelationID)
}
