package errors

import (
	"context"
	"errors"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already an *Error, its code and metadata carry over.
// Context errors map to TIMEOUT and CANCELED; anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var coded *Error
	if errors.As(err, &coded) {
		wrapped := &Error{
			code:       coded.code,
			category:   coded.category,
			message:    message,
			cause:      err,
			metadata:   coded.Metadata(),
			retryable:  coded.retryable,
			timestamp:  coded.timestamp,
			endpointID: coded.endpointID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code == code
	}
	return false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Retryable()
	}
	return false
}

// Code extracts the error code from an error, if available.
func Code(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}
	return ""
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
