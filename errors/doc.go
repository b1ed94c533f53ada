// Package errors provides the structured error taxonomy shared by the
// healthcheck packages.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: the operation may succeed if repeated (ack timeouts, network loss)
//   - Permanent: repeating will not help (bad configuration, missing capability)
//   - Resource: a local resource is exhausted (full send queue)
//   - Internal: an invariant was broken
//
// # Error Codes
//
// Codes raised by the heartbeat extension:
//
//   - MISSING_CAPABILITY: the endpoint cannot subscribe or publish as required
//   - INVALID_CONFIG: a configuration value is out of range or not numeric
//   - STALE_ACK: an acknowledgement arrived for a probe that is no longer current
//   - ACK_TIMEOUT: no acknowledgement arrived within the configured window
//
// The websocket and bus connections add CLOSED, NETWORK_ERR, TIMEOUT and
// MALFORMED_FRAME.
//
// # Usage
//
//	err := errors.InvalidConfig("interval must be positive",
//	    errors.WithMetadata("interval_ms", "0"))
//
//	if errors.Is(err, errors.ErrCodeInvalidConfig) {
//	    // refuse to start
//	}
package errors
