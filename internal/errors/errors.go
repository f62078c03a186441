package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Construction-time failures. Callers match them with errors.Is.
var (
	ErrMissingOption  = errors.New("missing required option")
	ErrInvalidOption  = errors.New("invalid option")
	ErrInvalidPattern = errors.New("invalid path pattern")
	ErrProfiler       = errors.New("profiler failure")
)

// MissingOption reports a required option that was absent or zero.
func MissingOption(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingOption, name)
}

// InvalidOption reports an option whose value cannot be used.
func InvalidOption(name string, value any) error {
	return fmt.Errorf("%w: %s=%v", ErrInvalidOption, name, value)
}

// InvalidPattern wraps a compile error for a path-matching expression.
func InvalidPattern(pattern string, err error) error {
	return fmt.Errorf("%w %q: %w", ErrInvalidPattern, pattern, err)
}

// ProfilerError is returned by the profiler layer. It is logged by the
// middleware and never reaches the client.
type ProfilerError struct {
	Op  string
	Err error
}

func (e *ProfilerError) Error() string {
	return fmt.Sprintf("profiler %s: %v", e.Op, e.Err)
}

func (e *ProfilerError) Unwrap() []error {
	return []error{ErrProfiler, e.Err}
}

// Profiler wraps err as a ProfilerError for op. A nil err stays nil.
func Profiler(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProfilerError{Op: op, Err: err}
}

// HTTPError represents an error that can be returned to clients
type HTTPError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	underlying error
}

func (e *HTTPError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as JSON to the response.
func (e *HTTPError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	json.NewEncoder(w).Encode(e)
}

// Common errors
var (
	ErrNotFound = &HTTPError{
		Code:    http.StatusNotFound,
		Message: "Not Found",
	}

	ErrMethodNotAllowed = &HTTPError{
		Code:    http.StatusMethodNotAllowed,
		Message: "Method Not Allowed",
	}

	ErrInternalServer = &HTTPError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
)

// New creates a new HTTPError
func New(code int, message string) *HTTPError {
	return &HTTPError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an HTTP status and message
func Wrap(err error, code int, message string) *HTTPError {
	return &HTTPError{
		Code:       code,
		Message:    message,
		underlying: err,
	}
}

// WithDetails adds details to the error
func (e *HTTPError) WithDetails(details string) *HTTPError {
	return &HTTPError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		RequestID:  e.RequestID,
		underlying: e.underlying,
	}
}

// WithRequestID adds a request ID to the error
func (e *HTTPError) WithRequestID(requestID string) *HTTPError {
	return &HTTPError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		RequestID:  requestID,
		underlying: e.underlying,
	}
}
