package uploader

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned synchronously for malformed UploadConfig values.
var ErrInvalidConfig = errors.New("invalid upload config")

// Kind classifies failures at the orchestrator boundary.
type Kind int

const (
	KindSourceResolution Kind = iota // the record source could not be resolved
	KindPrerequisite                 // list or job creation failed
	KindBatchSend                    // a single batch failed; isolated to its outcome
	KindPostProcessing               // a post-send step such as job run failed
)

func (k Kind) String() string {
	switch k {
	case KindSourceResolution:
		return "source_resolution"
	case KindPrerequisite:
		return "prerequisite"
	case KindBatchSend:
		return "batch_send"
	case KindPostProcessing:
		return "post_processing"
	default:
		return "unknown"
	}
}

// UploadError wraps a failure with the stage it happened in.
type UploadError struct {
	Kind Kind
	Err  error
}

func (e *UploadError) Error() string {
	return e.Err.Error()
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

func newUploadError(kind Kind, err error) *UploadError {
	return &UploadError{Kind: kind, Err: err}
}

// KindOf extracts the Kind of err, if it is an UploadError.
func KindOf(err error) (Kind, bool) {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return 0, false
}

// messenger is implemented by errors that carry several human-readable
// messages, e.g. an API partial failure listing every rejected row.
type messenger interface {
	Messages() []string
}

// errorMessages flattens err into the messages recorded on a BatchOutcome.
func errorMessages(err error) []string {
	var m messenger
	if errors.As(err, &m) {
		if msgs := m.Messages(); len(msgs) > 0 {
			return msgs
		}
	}
	return []string{err.Error()}
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
