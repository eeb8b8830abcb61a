package intake

import (
	"errors"
	"fmt"
)

var (
	ErrAppointmentNotFound  = errors.New("intake: appointment not found")
	ErrConsultationNotFound = errors.New("intake: consultation not found")
	ErrPatientNotFound      = errors.New("intake: patient not found")
	ErrFileNotFound         = errors.New("intake: patient file not found")
)

// MalformedEventError reports a notification body that could not be decoded at all.
type MalformedEventError struct {
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed event: %s: %v", e.Reason, e.Err)
	}
	return "malformed event: " + e.Reason
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// LockConflictError means another invocation already owns the appointment.
type LockConflictError struct {
	AppointmentID string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("appointment %s is already being processed", e.AppointmentID)
}

// UnsupportedFileTypeError is a terminal per-file failure.
type UnsupportedFileTypeError struct {
	FileID   string
	FileType FileType
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported file type %q for file %s", e.FileType, e.FileID)
}

// OversizeFileError is a terminal per-file failure raised before any upstream call.
type OversizeFileError struct {
	Path  string
	Size  int64
	Limit int64
}

func (e *OversizeFileError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("file %s is %d bytes, exceeds limit of %d bytes", e.Path, e.Size, e.Limit)
	}
	return fmt.Sprintf("file %s exceeds limit of %d bytes", e.Path, e.Limit)
}

// UpstreamOverloadedError is the only upstream failure class that is retried.
type UpstreamOverloadedError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamOverloadedError) Error() string {
	return fmt.Sprintf("upstream overloaded (status %d): %v", e.StatusCode, e.Err)
}

func (e *UpstreamOverloadedError) Unwrap() error { return e.Err }

// UpstreamProtocolError is a non-overload upstream failure; never retried.
type UpstreamProtocolError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamProtocolError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream error: %v", e.Err)
	}
	return fmt.Sprintf("upstream error (status %d): %v", e.StatusCode, e.Err)
}

func (e *UpstreamProtocolError) Unwrap() error { return e.Err }

// MissingInputError means the appointment lacks a consultation or patient link.
type MissingInputError struct {
	AppointmentID string
	Field         string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("appointment %s is missing %s", e.AppointmentID, e.Field)
}

// InsufficientDataError means there is nothing to summarize.
type InsufficientDataError struct {
	AppointmentID string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data to summarize appointment %s: no form data, voice data, or extracted file text", e.AppointmentID)
}

// ResponseSchemaError describes model output that does not match the summary schema.
// It is absorbed into a fallback summary rather than surfaced.
type ResponseSchemaError struct {
	Reason string
}

func (e *ResponseSchemaError) Error() string {
	return "summary response schema: " + e.Reason
}

// IsOverloaded reports whether err carries an UpstreamOverloadedError.
func IsOverloaded(err error) bool {
	var target *UpstreamOverloadedError
	return errors.As(err, &target)
}

// IsTerminalFileError reports whether err is a per-file failure that must not be retried.
func IsTerminalFileError(err error) bool {
	var unsupported *UnsupportedFileTypeError
	var oversize *OversizeFileError
	return errors.As(err, &unsupported) || errors.As(err, &oversize)
}
