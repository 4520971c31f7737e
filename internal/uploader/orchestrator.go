package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/logging"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/metrics"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/throttle"
)

// SourceResolver turns an inbound message into a raw newline-delimited
// record stream, fetching it from a bucket when the message is a reference.
type SourceResolver interface {
	Resolve(ctx context.Context, message string) (string, error)
}

// FailedBatch is what gets archived when a batch send fails.
type FailedBatch struct {
	UploadType    string
	CorrelationID string
	Batch         RecordBatch
	Errors        []string
}

// BatchArchiver keeps the records of failed batches for later replay.
type BatchArchiver interface {
	ArchiveBatch(ctx context.Context, fb FailedBatch) error
}

// Run summarizes one invocation for the history store.
type Run struct {
	UploadType    string
	CorrelationID string
	StartedAt     time.Time
	FinishedAt    time.Time
	Records       int
	Batches       int
	FailureKind   string // empty unless a boundary step failed
	Result        BatchResult
}

// RunRecorder persists invocation summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchiver archives failed batches.
func WithArchiver(a BatchArchiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithRecorder records every invocation.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger overrides the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Orchestrator composes source resolution, partitioning, a variant's
// prerequisite and post steps, execution and aggregation for one upload type.
type Orchestrator struct {
	variant  Variant
	resolver SourceResolver
	archiver BatchArchiver
	recorder RunRecorder
	log      *slog.Logger
}

// New creates an orchestrator for a variant. resolver may be nil, in which
// case messages are always treated as inline data.
func New(variant Variant, resolver SourceResolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		variant:  variant,
		resolver: resolver,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name returns the upload type this orchestrator serves.
func (o *Orchestrator) Name() string {
	return o.variant.Name
}

// Upload runs one invocation. The only error return is ErrInvalidConfig for a
// malformed config; every other failure is reported through the BatchResult.
func (o *Orchestrator) Upload(ctx context.Context, in Input) (BatchResult, error) {
	if err := in.Config.Validate(); err != nil {
		return BatchResult{}, err
	}

	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = logging.GenerateCorrelationID()
	}
	ctx = logging.WithCorrelationID(ctx, correlationID)
	log := o.log.With("correlation_id", correlationID, "upload_type", o.variant.Name)

	run := Run{
		UploadType:    o.variant.Name,
		CorrelationID: correlationID,
		StartedAt:     time.Now().UTC(),
	}

	res := o.execute(ctx, in, log, &run)

	run.FinishedAt = time.Now().UTC()
	run.Result = res
	o.finishRun(ctx, log, run)

	return res, nil
}

// execute is the body of Upload. Boundary failures and panics outside the
// per-batch send are converted into a failed result here.
func (o *Orchestrator) execute(ctx context.Context, in Input, log *slog.Logger, run *Run) (res BatchResult) {
	defer func() {
		if rvr := recover(); rvr != nil {
			log.Error("upload aborted by panic", "panic", rvr, "stack", string(debug.Stack()))
			run.FailureKind = "panic"
			res = Failed(fmt.Sprintf("%s upload aborted: %v", o.variant.Name, rvr))
		}
	}()

	cfg := in.Config

	records, err := o.records(ctx, in)
	if err != nil {
		return o.fail(log, run, newUploadError(KindSourceResolution, err))
	}
	run.Records = len(records)

	batches := Partition(records, cfg.RecordsPerRequest)
	run.Batches = len(batches)
	if m := metrics.Get(); m != nil {
		m.AddRecordsReceived(metrics.Labels{UploadType: o.variant.Name}, float64(len(records)))
	}
	if len(batches) == 0 {
		log.Info("no records to upload")
		return Succeeded()
	}

	log.Info("starting upload",
		"records", len(records),
		"batches", len(batches),
		"records_per_request", cfg.RecordsPerRequest,
		"threads", cfg.NumberOfThreads,
		"qps", cfg.QPS,
	)

	plan, err := o.prepare(ctx, cfg)
	if err != nil {
		return o.fail(log, run, newUploadError(KindPrerequisite, err))
	}

	start := time.Now()
	gov := throttle.New(cfg.NumberOfThreads, cfg.QPS)
	exec := NewExecutor(gov, o.variant.Name, log)
	outcomes := exec.Run(ctx, batches, o.archiving(logging.CorrelationID(ctx), plan.Send, log))
	res = Aggregate(outcomes)

	log.Info("batches finished",
		"result", res.Result,
		"errors", len(res.Errors),
		"peak_in_flight", gov.Peak(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if plan.Finish != nil {
		// A job that was created is always run, regardless of batch failures.
		if err := plan.Finish(context.WithoutCancel(ctx)); err != nil {
			return o.fail(log, run, newUploadError(KindPostProcessing,
				fmt.Errorf("finish %s upload: %w", o.variant.Name, err)))
		}
	}

	return res
}

// records resolves the record stream for an invocation.
func (o *Orchestrator) records(ctx context.Context, in Input) ([]string, error) {
	if in.Records != nil {
		return in.Records, nil
	}
	if o.resolver == nil {
		return SplitRecords(in.Message), nil
	}
	raw, err := o.resolver.Resolve(ctx, in.Message)
	if err != nil {
		return nil, err
	}
	return SplitRecords(raw), nil
}

func (o *Orchestrator) prepare(ctx context.Context, cfg UploadConfig) (Plan, error) {
	if o.variant.Prepare == nil {
		return Plan{}, fmt.Errorf("%s upload has no send operation", o.variant.Name)
	}
	plan, err := o.variant.Prepare(ctx, cfg)
	if err != nil {
		return Plan{}, fmt.Errorf("prepare %s upload: %w", o.variant.Name, err)
	}
	if plan.Send == nil {
		return Plan{}, fmt.Errorf("%s upload has no send operation", o.variant.Name)
	}
	return plan, nil
}

// archiving wraps send so a failed batch is handed to the archiver before its
// outcome is recorded.
func (o *Orchestrator) archiving(correlationID string, send SendFunc, log *slog.Logger) SendFunc {
	if o.archiver == nil {
		return send
	}
	return func(ctx context.Context, batch RecordBatch) error {
		err := send(ctx, batch)
		if err == nil {
			return nil
		}
		labels := metrics.Labels{UploadType: o.variant.Name}
		aerr := o.archiver.ArchiveBatch(ctx, FailedBatch{
			UploadType:    o.variant.Name,
			CorrelationID: correlationID,
			Batch:         batch,
			Errors:        errorMessages(err),
		})
		if aerr != nil {
			log.Warn("failed to archive batch", "batch", batch.Index, "error", aerr)
			if m := metrics.Get(); m != nil {
				m.IncArchiveErrors(labels)
			}
		} else if m := metrics.Get(); m != nil {
			m.IncBatchesArchived(labels)
		}
		return err
	}
}

func (o *Orchestrator) fail(log *slog.Logger, run *Run, err *UploadError) BatchResult {
	run.FailureKind = err.Kind.String()
	log.Error("upload failed", "stage", err.Kind.String(), "error", err)
	return Failed(err.Error())
}

func (o *Orchestrator) finishRun(ctx context.Context, log *slog.Logger, run Run) {
	status := "success"
	if !run.Result.Result {
		status = "failed"
	}
	log.Info("upload complete",
		"result", run.Result.Result,
		"records", run.Records,
		"batches", run.Batches,
		"errors", len(run.Result.Errors),
		"duration", run.FinishedAt.Sub(run.StartedAt).String(),
	)

	if m := metrics.Get(); m != nil {
		labels := metrics.Labels{UploadType: run.UploadType, Status: status}
		m.IncUploads(labels)
		m.ObserveUploadDuration(labels, run.FinishedAt.Sub(run.StartedAt).Seconds())
	}

	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("failed to record upload run", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncHistoryErrors()
		}
	}
}

// IsInvalidConfig reports whether err is a config contract violation.
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
