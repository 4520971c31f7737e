package uploader

import (
	"context"
	"fmt"
	"maps"
)

// UnlimitedQPS in an override passed to Merge removes the rate ceiling. A zero
// override QPS means "keep the default".
const UnlimitedQPS = -1

// UploadConfig is supplied per invocation and never persisted.
type UploadConfig struct {
	RecordsPerRequest int               `json:"recordsPerRequest,omitempty" yaml:"records_per_request"`
	NumberOfThreads   int               `json:"numberOfThreads,omitempty" yaml:"number_of_threads"`
	QPS               float64           `json:"qps,omitempty" yaml:"qps"` // 0 = unlimited
	Target            map[string]string `json:"targetIdentifiers,omitempty" yaml:"target"`
}

// Validate reports contract violations. A config that fails validation is
// rejected before any work starts.
func (c UploadConfig) Validate() error {
	if c.RecordsPerRequest <= 0 {
		return fmt.Errorf("%w: recordsPerRequest must be positive, got %d", ErrInvalidConfig, c.RecordsPerRequest)
	}
	if c.NumberOfThreads < 1 {
		return fmt.Errorf("%w: numberOfThreads must be at least 1, got %d", ErrInvalidConfig, c.NumberOfThreads)
	}
	if c.QPS < 0 {
		return fmt.Errorf("%w: qps must not be negative, got %g", ErrInvalidConfig, c.QPS)
	}
	return nil
}

// Merge returns c with the non-zero fields of override applied on top. An
// override QPS of UnlimitedQPS sets QPS to 0. Target identifiers are merged
// key by key.
func (c UploadConfig) Merge(override UploadConfig) UploadConfig {
	out := c
	if override.RecordsPerRequest != 0 {
		out.RecordsPerRequest = override.RecordsPerRequest
	}
	if override.NumberOfThreads != 0 {
		out.NumberOfThreads = override.NumberOfThreads
	}
	switch {
	case override.QPS == UnlimitedQPS:
		out.QPS = 0
	case override.QPS != 0:
		out.QPS = override.QPS
	}
	out.Target = make(map[string]string, len(c.Target)+len(override.Target))
	maps.Copy(out.Target, c.Target)
	maps.Copy(out.Target, override.Target)
	return out
}

// WithTarget returns a copy of c with one target identifier set.
func (c UploadConfig) WithTarget(key, value string) UploadConfig {
	return c.Merge(UploadConfig{Target: map[string]string{key: value}})
}

// RecordBatch is a bounded group of records sent in one remote request.
// Index increases monotonically from 0 within an invocation.
type RecordBatch struct {
	Index   int
	Records []string
}

// BatchOutcome is produced exactly once per batch.
type BatchOutcome struct {
	Index   int
	Success bool
	Errors  []string
}

// BatchResult is the terminal artifact returned to the invoker.
type BatchResult struct {
	Result bool     `json:"result"`
	Errors []string `json:"errors"`
}

// Failed builds a failed result carrying a single message.
func Failed(msg string) BatchResult {
	return BatchResult{Result: false, Errors: []string{msg}}
}

// Succeeded is the vacuous success result.
func Succeeded() BatchResult {
	return BatchResult{Result: true, Errors: []string{}}
}

// SendFunc sends one batch to the destination. It may retry internally; the
// executor treats its return as terminal.
type SendFunc func(ctx context.Context, batch RecordBatch) error

// Plan is what a Variant prepares for one invocation: the per-batch send
// operation and an optional post step that runs after every batch finished.
type Plan struct {
	Send   SendFunc
	Finish func(ctx context.Context) error
}

// Variant describes one upload type. Prepare performs the target-specific
// prerequisite steps and returns the plan to execute.
type Variant struct {
	Name    string
	Prepare func(ctx context.Context, cfg UploadConfig) (Plan, error)
}

// Input is the sole public contract of the Orchestrator.
// Records, when non-nil, are used as-is and Message is ignored.
type Input struct {
	Message       string
	Records       []string
	CorrelationID string
	Config        UploadConfig
}
