// Package errors provides unified error handling for the event bus core.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique, stable error kind surfaced by the core.
type ErrorCode string

const (
	// ErrCodePermissionDenied is returned when a source TRN fails the allowed_sources check.
	ErrCodePermissionDenied ErrorCode = "BUS_PERMISSION_DENIED"
	// ErrCodeRateLimited is returned when the 1-second admission rate is exceeded.
	ErrCodeRateLimited ErrorCode = "BUS_RATE_LIMITED"
	// ErrCodeServiceStopping is returned when emit is called during or after shutdown.
	ErrCodeServiceStopping ErrorCode = "BUS_SERVICE_STOPPING"
	// ErrCodeValidation is returned for a malformed envelope, topic, or TRN.
	ErrCodeValidation ErrorCode = "BUS_VALIDATION"
	// ErrCodeStorage is returned when a storage backend operation fails.
	ErrCodeStorage ErrorCode = "BUS_STORAGE"
	// ErrCodeDuplicateEventID is returned by a storage backend that chooses to
	// report duplicates rather than silently ignore them.
	ErrCodeDuplicateEventID ErrorCode = "BUS_DUPLICATE_EVENT_ID"
	// ErrCodeRuleCascadeDepthExceeded is returned when EmitEvent/Forward re-entrance
	// exceeds the configured cascade depth.
	ErrCodeRuleCascadeDepthExceeded ErrorCode = "BUS_RULE_CASCADE_DEPTH_EXCEEDED"
	// ErrCodeConfiguration is returned for invalid start-up configuration.
	ErrCodeConfiguration ErrorCode = "BUS_CONFIGURATION"
)

// BusError is a structured error carrying a stable code, a human message, and
// an optional wrapped cause.
type BusError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *BusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *BusError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a diagnostic key/value pair and returns the receiver.
func (e *BusError) WithDetails(key string, value interface{}) *BusError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a BusError with no wrapped cause.
func New(code ErrorCode, message string) *BusError {
	return &BusError{Code: code, Message: message}
}

// Wrap creates a BusError around an existing error.
func Wrap(code ErrorCode, message string, err error) *BusError {
	return &BusError{Code: code, Message: message, Err: err}
}

// PermissionDenied reports that source_trn did not match allowed_sources.
func PermissionDenied(sourceTRN string) *BusError {
	return New(ErrCodePermissionDenied, "source TRN is not in the allowed_sources list").
		WithDetails("source_trn", sourceTRN)
}

// RateLimited reports that the 1-second emitted rate is at or above the configured cap.
func RateLimited(limit int) *BusError {
	return New(ErrCodeRateLimited, "event rate exceeds configured limit").
		WithDetails("max_events_per_second", limit)
}

// ServiceStopping reports that emit was attempted while the bus is draining or stopped.
func ServiceStopping(instanceID string) *BusError {
	return New(ErrCodeServiceStopping, "bus is shutting down and no longer accepts emits").
		WithDetails("instance_id", instanceID)
}

// ValidationError reports a malformed envelope, topic, or TRN.
func ValidationError(field, reason string) *BusError {
	return New(ErrCodeValidation, "validation failed").
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// StorageError wraps a backend failure.
func StorageError(operation string, err error) *BusError {
	return Wrap(ErrCodeStorage, "storage operation failed", err).
		WithDetails("operation", operation)
}

// DuplicateEventID reports that a backend chose to surface a duplicate insert
// rather than silently ignoring it (see DESIGN.md for which backends do this).
func DuplicateEventID(eventID string) *BusError {
	return New(ErrCodeDuplicateEventID, "event_id already exists in storage").
		WithDetails("event_id", eventID)
}

// RuleCascadeDepthExceeded reports that EmitEvent/Forward re-entrance exceeded
// the configured cascade depth.
func RuleCascadeDepthExceeded(depth, max int) *BusError {
	return New(ErrCodeRuleCascadeDepthExceeded, "rule action cascade depth exceeded").
		WithDetails("depth", depth).
		WithDetails("max_depth", max)
}

// ConfigurationError reports invalid start-up configuration.
func ConfigurationError(field, reason string) *BusError {
	return New(ErrCodeConfiguration, "invalid configuration").
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// IsBusError reports whether err is (or wraps) a *BusError.
func IsBusError(err error) bool {
	var busErr *BusError
	return errors.As(err, &busErr)
}

// Code extracts the ErrorCode from err, returning "" if err is not a BusError.
func Code(err error) ErrorCode {
	var busErr *BusError
	if errors.As(err, &busErr) {
		return busErr.Code
	}
	return ""
}

// Is reports whether err carries the given ErrorCode.
func Is(err error, code ErrorCode) bool {
	return Code(err) == code
}
