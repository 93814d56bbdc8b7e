// Package errors defines the error taxonomy shared by the upload, pipeline and
// assessment flows.
//
// Every failure the core can produce belongs to exactly one class:
//   - ValidationError: rejected locally, no network call was attempted
//   - TransportError: an HTTP call returned a non-2xx status or never completed
//   - ProtocolError: a 2xx response was missing a required field
//   - PipelineError: the backend reported a failed job with a message
//   - SubscriptionError: the push channel itself failed
//
// Each class matches its sentinel through errors.Is, so callers can branch on
// the class without caring about the concrete type:
//
//	if errors.Is(err, errors.ErrValidation) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-exported so callers only need this package for error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Class sentinels.
var (
	ErrValidation   = New("validation failed")
	ErrTransport    = New("transport failed")
	ErrProtocol     = New("protocol violation")
	ErrPipeline     = New("pipeline failed")
	ErrSubscription = New("subscription failed")
)

// ValidationError reports input rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransportError reports a failed HTTP round trip. StatusCode is zero when the
// request never produced a response.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

// NewTransportError creates a TransportError for a non-2xx response.
func NewTransportError(op string, statusCode int, body string) *TransportError {
	return &TransportError{Op: op, StatusCode: statusCode, Body: strings.TrimSpace(body)}
}

// WrapTransportError creates a TransportError for a request that failed without a response.
func WrapTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: request failed: %v", e.Op, e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("%s: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ProtocolError reports a 2xx response missing an expected field.
type ProtocolError struct {
	Op    string
	Field string
	Err   error
}

// NewProtocolError creates a ProtocolError for a missing field.
func NewProtocolError(op, field string) *ProtocolError {
	return &ProtocolError{Op: op, Field: field}
}

// WrapProtocolError creates a ProtocolError for an undecodable body.
func WrapProtocolError(op string, err error) *ProtocolError {
	return &ProtocolError{Op: op, Err: err}
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: response missing %q", e.Op, e.Field)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is reports whether target is ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// PipelineError carries the backend-supplied failure message verbatim.
type PipelineError struct {
	TrackingID string
	Message    string
}

func (e *PipelineError) Error() string { return e.Message }

// Is reports whether target is ErrPipeline.
func (e *PipelineError) Is(target error) bool { return target == ErrPipeline }

// SubscriptionError reports a failure of the push channel.
type SubscriptionError struct {
	TrackingID string
	Err        error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.TrackingID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrSubscription.
func (e *SubscriptionError) Is(target error) bool { return target == ErrSubscription }

// IsRemote reports whether err came from the network or the backend rather
// than from local validation.
func IsRemote(err error) bool {
	return Is(err, ErrTransport) || Is(err, ErrProtocol) || Is(err, ErrPipeline) || Is(err, ErrSubscription)
}
