package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/metrics"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/throttle"
)

// Executor applies a send operation to every batch under a Governor's
// concurrency and rate ceilings, producing one outcome per batch.
type Executor struct {
	gov        *throttle.Governor
	uploadType string
	log        *slog.Logger
}

// NewExecutor creates an executor bound to one invocation's governor.
func NewExecutor(gov *throttle.Governor, uploadType string, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		gov:        gov,
		uploadType: uploadType,
		log:        log,
	}
}

// Run sends every batch and blocks until all have reached a terminal outcome.
// Admission is attempted in ascending index order. Once admitted, a send runs
// to completion even if ctx is cancelled; a batch whose admission is cut
// short by ctx is recorded as failed, never dropped. Outcomes are indexed by
// batch position regardless of completion order.
func (e *Executor) Run(ctx context.Context, batches []RecordBatch, send SendFunc) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(batches))
	sendCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i, batch := range batches {
		release, err := e.gov.Admit(ctx)
		if err != nil {
			e.log.Warn("batch not admitted", "batch", batch.Index, "error", err)
			outcomes[i] = BatchOutcome{
				Index:   batch.Index,
				Success: false,
				Errors:  []string{fmt.Sprintf("batch %d not sent: %v", batch.Index, err)},
			}
			continue
		}

		wg.Add(1)
		go func(i int, batch RecordBatch) {
			defer wg.Done()
			defer release()
			outcomes[i] = e.sendOne(sendCtx, batch, send)
		}(i, batch)
	}
	wg.Wait()

	return outcomes
}

// sendOne runs a single send, converting an error or panic into a failed
// outcome for this batch only.
func (e *Executor) sendOne(ctx context.Context, batch RecordBatch, send SendFunc) (out BatchOutcome) {
	start := time.Now()
	log := e.log.With("batch", batch.Index, "records", len(batch.Records))

	defer func() {
		if rvr := recover(); rvr != nil {
			log.Error("panic in batch send", "panic", rvr, "stack", string(debug.Stack()))
			out = BatchOutcome{
				Index:   batch.Index,
				Success: false,
				Errors:  errorMessages(newUploadError(KindBatchSend, panicError{value: rvr})),
			}
		}
		e.record(out, len(batch.Records), time.Since(start))
	}()

	if err := send(ctx, batch); err != nil {
		log.Warn("batch send failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return BatchOutcome{
			Index:   batch.Index,
			Success: false,
			Errors:  errorMessages(err),
		}
	}

	log.Debug("batch sent", "duration_ms", time.Since(start).Milliseconds())
	return BatchOutcome{Index: batch.Index, Success: true, Errors: []string{}}
}

func (e *Executor) record(out BatchOutcome, records int, elapsed time.Duration) {
	m := metrics.Get()
	if m == nil {
		return
	}
	labels := metrics.Labels{UploadType: e.uploadType, Status: "success"}
	if !out.Success {
		labels.Status = "failed"
	} else {
		m.AddRecordsSent(labels, float64(records))
	}
	m.IncBatches(labels)
	m.ObserveBatchSendDuration(labels, elapsed.Seconds())
}
