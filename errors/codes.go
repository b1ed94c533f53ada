package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates local resource exhaustion.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates broken invariants or unexpected failures.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient errors
	ErrCodeTimeout    ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeNetworkErr ErrorCode = "NETWORK_ERR" // Connection lost or unreachable
	ErrCodeAckTimeout ErrorCode = "ACK_TIMEOUT" // Probe was not acknowledged in time

	// Permanent errors
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"      // Malformed input
	ErrCodeInvalidConfig     ErrorCode = "INVALID_CONFIG"     // Configuration out of range
	ErrCodeMissingCapability ErrorCode = "MISSING_CAPABILITY" // Endpoint lacks a required operation
	ErrCodeStaleAck          ErrorCode = "STALE_ACK"          // Ack for a probe that is no longer current
	ErrCodeMalformedFrame    ErrorCode = "MALFORMED_FRAME"    // Undecodable wire frame
	ErrCodeClosed            ErrorCode = "CLOSED"             // Connection already closed
	ErrCodeCanceled          ErrorCode = "CANCELED"           // Operation was canceled

	// Resource errors
	ErrCodeQueueFull ErrorCode = "QUEUE_FULL" // Send queue is full

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeNetworkErr, ErrCodeAckTimeout:
		return CategoryTransient

	case ErrCodeInvalidInput, ErrCodeInvalidConfig, ErrCodeMissingCapability,
		ErrCodeStaleAck, ErrCodeMalformedFrame, ErrCodeClosed, ErrCodeCanceled:
		return CategoryPermanent

	case ErrCodeQueueFull:
		return CategoryResource

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:           "operation timed out",
	ErrCodeNetworkErr:        "network connectivity error",
	ErrCodeAckTimeout:        "health check not acknowledged in time",
	ErrCodeInvalidInput:      "invalid input provided",
	ErrCodeInvalidConfig:     "invalid configuration",
	ErrCodeMissingCapability: "endpoint is missing a required capability",
	ErrCodeStaleAck:          "acknowledgement for a stale probe",
	ErrCodeMalformedFrame:    "malformed frame",
	ErrCodeClosed:            "connection closed",
	ErrCodeCanceled:          "operation canceled",
	ErrCodeQueueFull:         "send queue full",
	ErrCodeInternal:          "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
