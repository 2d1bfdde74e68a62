package types

import (
	"errors"
	"fmt"
	"time"
)

// InputError marks a problem with what the caller sent: a missing upload,
// a bad job identifier, an unparsable issues document.
type InputError struct {
	Field string
	Err   error
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %v", e.Err)
	}
	return fmt.Sprintf("invalid input %q: %v", e.Field, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// NewInputError is shorthand for an InputError with a plain message.
func NewInputError(field, msg string) *InputError {
	return &InputError{Field: field, Err: errors.New(msg)}
}

// ExtractionError means an uploaded archive could not be opened or unpacked.
type ExtractionError struct {
	Archive string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ScannerBatchError records a scanner invocation whose output was discarded.
type ScannerBatchError struct {
	Batch    int
	Files    int
	ExitCode int
	TimedOut bool
	Stderr   string
	Err      error
}

func (e *ScannerBatchError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("scanner batch %d (%d files) timed out", e.Batch, e.Files)
	case e.ExitCode != 0:
		return fmt.Sprintf("scanner batch %d (%d files) exited with code %d: %v", e.Batch, e.Files, e.ExitCode, e.Err)
	default:
		return fmt.Sprintf("scanner batch %d (%d files): %v", e.Batch, e.Files, e.Err)
	}
}

func (e *ScannerBatchError) Unwrap() error { return e.Err }

// ForwardingError is returned once every forwarding attempt has failed.
type ForwardingError struct {
	URL      string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ForwardingError) Error() string {
	return fmt.Sprintf("forward to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *ForwardingError) Unwrap() error { return e.Err }

// Enrichment failure kinds recorded in RunMeta.FailedItems.
const (
	KindMissingIssues    = "missing_issues"
	KindMissingSource    = "missing_source"
	KindAmbiguousUnit    = "ambiguous_unit"
	KindInvalidIssues    = "invalid_issues"
	KindReadFailed       = "read_failed"
	KindGenerationFailed = "generation_failed"
	KindTimeout          = "timeout"
	KindCancelled        = "cancelled"
	KindWriteFailed      = "write_failed"
)

// EnrichmentUnitError is one unit's failure. It never aborts the job.
type EnrichmentUnitError struct {
	Unit string
	Kind string
	Err  error
}

func (e *EnrichmentUnitError) Error() string {
	return fmt.Sprintf("%s: %s - %v", e.Unit, e.Kind, e.Err)
}

func (e *EnrichmentUnitError) Unwrap() error { return e.Err }

// Item converts the error into its RunMeta form.
func (e *EnrichmentUnitError) Item() FailureItem {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return FailureItem{Unit: e.Unit, Kind: e.Kind, Message: msg}
}

// RenderError means the final document could not be produced.
type RenderError struct {
	Stage string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// IsInputError reports whether err is caused by caller input.
func IsInputError(err error) bool {
	var in *InputError
	var ex *ExtractionError
	return errors.As(err, &in) || errors.As(err, &ex)
}
