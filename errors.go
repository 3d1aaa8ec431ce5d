package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

// Sentinel errors for each failure kind. Apart from caller cancellation,
// every error returned by Execute matches exactly one of them with errors.Is.
var (
	ErrTransport   = errors.New("stripe: transport failure")
	ErrTimeout     = errors.New("stripe: timeout")
	ErrDeserialize = errors.New("stripe: cannot decode response")
	ErrUpstream    = errors.New("stripe: upstream error")
	ErrClient      = errors.New("stripe: client error")

	// ErrInvalidStrategy is wrapped by the *ClientError returned when a
	// strategy cannot send a single attempt.
	ErrInvalidStrategy = errors.New("invalid strategy")
)

// HTTPError represents an error with an associated HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

// StatusCodeOf returns the HTTP status carried by err, or 0 if there is none.
func StatusCodeOf(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return 0
}

// containsStatus checks if a status code is in the list.
func containsStatus(statuses []int, status int) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// TransportError is a network, TLS or connection failure. No response body
// was received.
type TransportError struct {
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", ErrTransport, e.Cause)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// TimeoutError is returned by the blocking shape when the wall-clock budget
// elapses. It satisfies jperrors.IsTimeout and errors.Is(err, context.DeadlineExceeded).
type TimeoutError struct {
	Timeout time.Duration
	cause   error
}

// NewTimeoutError creates a TimeoutError for the given budget.
func NewTimeoutError(timeout time.Duration) *TimeoutError {
	return &TimeoutError{
		Timeout: timeout,
		cause:   jperrors.NewTimeoutError("request exceeded blocking timeout", "stripe.execute", timeout),
	}
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: exceeded %s", ErrTimeout, e.Timeout)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *TimeoutError) Unwrap() []error {
	if e.cause == nil {
		return []error{context.DeadlineExceeded}
	}
	return []error{e.cause, context.DeadlineExceeded}
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// DeserializeError is returned when a response body does not match the
// expected JSON shape. Path names the first offending field, e.g. "name" or
// "data.customer.email"; it is empty when the body is not valid JSON at all.
type DeserializeError struct {
	Cause      error
	Path       string
	HTTPStatus int

	// Body is the raw response body, kept for diagnostics.
	Body []byte
}

// Error implements the error interface.
func (e *DeserializeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s (status %d): %v", ErrDeserialize, e.HTTPStatus, e.Cause)
	}
	return fmt.Sprintf("%s (status %d) at %q: %v", ErrDeserialize, e.HTTPStatus, e.Path, e.Cause)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *DeserializeError) Unwrap() error {
	return e.Cause
}

// Is matches ErrDeserialize.
func (e *DeserializeError) Is(target error) bool {
	return target == ErrDeserialize
}

// StatusCode returns the HTTP status of the response that failed to decode.
func (e *DeserializeError) StatusCode() int {
	return e.HTTPStatus
}

// ErrorType is the upstream error category. Values the upstream adds later
// decode as-is; use IsKnown to check against the documented set.
type ErrorType string

// Documented error types.
const (
	ErrorTypeAPI            ErrorType = "api_error"
	ErrorTypeCard           ErrorType = "card_error"
	ErrorTypeIdempotency    ErrorType = "idempotency_error"
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
)

// IsKnown reports whether t is one of the documented error types.
func (t ErrorType) IsKnown() bool {
	switch t {
	case ErrorTypeAPI, ErrorTypeCard, ErrorTypeIdempotency, ErrorTypeInvalidRequest:
		return true
	}
	return false
}

// ErrorCode is the machine-readable upstream error code. Like ErrorType it
// accepts values outside the constants below.
type ErrorCode string

// Frequently handled error codes.
const (
	ErrorCodeAPIKeyExpired         ErrorCode = "api_key_expired"
	ErrorCodeBalanceInsufficient   ErrorCode = "balance_insufficient"
	ErrorCodeCardDeclined          ErrorCode = "card_declined"
	ErrorCodeExpiredCard           ErrorCode = "expired_card"
	ErrorCodeIdempotencyKeyInUse   ErrorCode = "idempotency_key_in_use"
	ErrorCodeIncorrectCVC          ErrorCode = "incorrect_cvc"
	ErrorCodeLockTimeout           ErrorCode = "lock_timeout"
	ErrorCodeParameterInvalid      ErrorCode = "parameter_invalid_empty"
	ErrorCodeParameterMissing      ErrorCode = "parameter_missing"
	ErrorCodeRateLimit             ErrorCode = "rate_limit"
	ErrorCodeResourceMissing       ErrorCode = "resource_missing"
	ErrorCodeSecretKeyRequired     ErrorCode = "secret_key_required"
	ErrorCodeTestmodeChargesOnly   ErrorCode = "testmode_charges_only"
	ErrorCodeTLSVersionUnsupported ErrorCode = "tls_version_unsupported"
)

// UpstreamError is the decoded {"error": {...}} envelope of a non-2xx
// response, with the originating HTTP status attached.
type UpstreamError struct {
	HTTPStatus int    `json:"-"`
	RequestID  string `json:"-"`

	Type          ErrorType `json:"type"`
	Code          ErrorCode `json:"code,omitempty"`
	DeclineCode   string    `json:"decline_code,omitempty"`
	Message       string    `json:"message,omitempty"`
	Param         string    `json:"param,omitempty"`
	DocURL        string    `json:"doc_url,omitempty"`
	RequestLogURL string    `json:"request_log_url,omitempty"`
	Charge        string    `json:"charge,omitempty"`
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.HTTPStatus)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (status %d, %s/%s): %s", ErrUpstream, e.HTTPStatus, e.Type, e.Code, msg)
	}
	return fmt.Sprintf("%s (status %d, %s): %s", ErrUpstream, e.HTTPStatus, e.Type, msg)
}

// Is matches ErrUpstream, and jperrors.ErrRateLimited for 429 responses.
func (e *UpstreamError) Is(target error) bool {
	if target == ErrUpstream {
		return true
	}
	return target == jperrors.ErrRateLimited && e.HTTPStatus == http.StatusTooManyRequests
}

// StatusCode returns the HTTP status of the failed response.
// This implements the HTTPError interface.
func (e *UpstreamError) StatusCode() int {
	return e.HTTPStatus
}

// ClientError is a client-side failure such as misconfiguration or an
// invalid strategy.
type ClientError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrClient, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrClient, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches ErrClient.
func (e *ClientError) Is(target error) bool {
	return target == ErrClient
}

// StatusCodeError wraps an error with an HTTP status code.
// The circuit breaker uses it to report failed responses to gobreaker.
type StatusCodeError struct {
	Err  error
	Code int
}

// Error implements the error interface.
func (e *StatusCodeError) Error() string {
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *StatusCodeError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code.
// This implements the HTTPError interface.
func (e *StatusCodeError) StatusCode() int {
	return e.Code
}

// NewStatusCodeError creates a new StatusCodeError.
func NewStatusCodeError(statusCode int, err error) error {
	return &StatusCodeError{
		Code: statusCode,
		Err:  err,
	}
}
