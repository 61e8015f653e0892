// Package haperr defines the error taxonomy shared by the assembly
// pipeline. Every failure surfaced to a caller is one of these kinds, so
// the orchestrator can decide between dropping a single clip and aborting
// the whole run.
package haperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for kinds that carry no extra data.
var (
	// ErrNetwork indicates a transport-level failure while fetching an asset.
	ErrNetwork = errors.New("network error")

	// ErrTranscriptionUnavailable indicates every configured provider failed.
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")

	// ErrMediaCorrupt indicates the media tool could not read an input.
	ErrMediaCorrupt = errors.New("media corrupt")

	// ErrCancelled indicates the run was cancelled by the caller. It is
	// fatal but not a defect; partial results are discarded.
	ErrCancelled = errors.New("run cancelled")
)

// ValidationError reports a malformed rundown or selection before any
// work starts. Always fatal.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Message)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UpstreamRejectedError reports an HTTP >= 400 from the media host.
type UpstreamRejectedError struct {
	URL    string
	Status int
}

func (e *UpstreamRejectedError) Error() string {
	return fmt.Sprintf("upstream rejected %s: status %d", e.URL, e.Status)
}

// MediaFailureError reports a non-zero exit from the external media tool.
// StderrTail holds the last lines of the tool's stderr for diagnosis.
type MediaFailureError struct {
	Stage      string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *MediaFailureError) Error() string {
	if e.StderrTail != "" {
		return fmt.Sprintf("media tool failed at %s (exit %d): %s", e.Stage, e.ExitCode, e.StderrTail)
	}
	if e.Err != nil {
		return fmt.Sprintf("media tool failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("media tool failed at %s (exit %d)", e.Stage, e.ExitCode)
}

func (e *MediaFailureError) Unwrap() error { return e.Err }

// InvariantError reports an internal inconsistency, e.g. a selection
// index referring to a segment that no longer exists. Always fatal.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("internal invariant violated: %s", e.Message)
}

// Invariantf builds an InvariantError with a formatted message.
func Invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUpstreamRejected reports whether err is an UpstreamRejectedError and,
// if so, returns the HTTP status.
func IsUpstreamRejected(err error) (int, bool) {
	var ue *UpstreamRejectedError
	if errors.As(err, &ue) {
		return ue.Status, true
	}
	return 0, false
}

// IsMediaFailure reports whether err is a MediaFailureError.
func IsMediaFailure(err error) bool {
	var me *MediaFailureError
	return errors.As(err, &me)
}

// IsCancelled reports whether err stems from cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsPerClipRecoverable reports whether a per-clip pipeline error should
// drop only the offending clip rather than abort the run. Media failures
// are recoverable here because this classification is only consulted
// during per-clip surgery; assembly-stage failures are never routed
// through it.
func IsPerClipRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrTranscriptionUnavailable) || errors.Is(err, ErrMediaCorrupt) {
		return true
	}
	if _, ok := IsUpstreamRejected(err); ok {
		return true
	}
	return IsMediaFailure(err)
}

// IsFatal reports whether err must abort the entire run regardless of
// how many clips survive.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if IsCancelled(err) || IsValidation(err) {
		return true
	}
	var ie *InvariantError
	return errors.As(err, &ie)
}
