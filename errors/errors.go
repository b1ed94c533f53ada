package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// CodedError is the interface for all structured errors in healthcheck.
type CodedError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry/handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of CodedError.
type Error struct {
	code       ErrorCode
	category   ErrorCategory
	message    string
	cause      error
	metadata   map[string]string
	retryable  *bool // nil means use default based on category
	timestamp  time.Time
	endpointID string
}

var (
	_ CodedError       = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// EndpointID returns the endpoint the error belongs to, if set.
func (e *Error) EndpointID() string {
	return e.endpointID
}

type errorJSON struct {
	Code       ErrorCode         `json:"code"`
	Category   ErrorCategory     `json:"category"`
	Message    string            `json:"message"`
	Cause      string            `json:"cause,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Retryable  bool              `json:"retryable"`
	Timestamp  string            `json:"timestamp,omitempty"`
	EndpointID string            `json:"endpoint_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:       e.code,
		Category:   e.category,
		Message:    e.message,
		Metadata:   e.metadata,
		Retryable:  e.Retryable(),
		EndpointID: e.endpointID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.endpointID = j.EndpointID
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithEndpointID sets the endpoint the error belongs to.
func WithEndpointID(id string) Option {
	return func(e *Error) {
		e.endpointID = id
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// MissingCapability reports an endpoint that lacks the named operations.
func MissingCapability(message string, opts ...Option) *Error {
	return New(ErrCodeMissingCapability, message, opts...)
}

// InvalidConfig reports an out-of-range or unparseable configuration value.
func InvalidConfig(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidConfig, message, opts...)
}

// StaleAck reports an acknowledgement that no longer matches the current probe.
func StaleAck(message string, opts ...Option) *Error {
	return New(ErrCodeStaleAck, message, opts...)
}

// AckTimeout reports a probe that was not acknowledged within the window.
func AckTimeout(message string, opts ...Option) *Error {
	return New(ErrCodeAckTimeout, message, opts...)
}

// Closed reports an operation on a closed connection.
func Closed(message string, opts ...Option) *Error {
	return New(ErrCodeClosed, message, opts...)
}

// MalformedFrame reports an undecodable wire frame.
func MalformedFrame(message string, opts ...Option) *Error {
	return New(ErrCodeMalformedFrame, message, opts...)
}
