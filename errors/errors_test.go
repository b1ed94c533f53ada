package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		wantCategory ErrorCategory
		wantRetry    bool
	}{
		{"ack_timeout", ErrCodeAckTimeout, CategoryTransient, true},
		{"network", ErrCodeNetworkErr, CategoryTransient, true},
		{"missing_capability", ErrCodeMissingCapability, CategoryPermanent, false},
		{"invalid_config", ErrCodeInvalidConfig, CategoryPermanent, false},
		{"stale_ack", ErrCodeStaleAck, CategoryPermanent, false},
		{"queue_full", ErrCodeQueueFull, CategoryResource, true},
		{"internal", ErrCodeInternal, CategoryInternal, false},
		{"unknown", ErrorCode("SOMETHING"), CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom")
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Retryable() != tt.wantRetry {
				t.Errorf("Retryable() = %v, want %v", err.Retryable(), tt.wantRetry)
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeStaleAck)
	if err.Error() != "acknowledgement for a stale probe" {
		t.Errorf("Error() = %q", err.Error())
	}
	if ErrorCode("NOPE").Description() != "unknown error" {
		t.Error("unknown code should have generic description")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err  *Error
		code ErrorCode
	}{
		{MissingCapability("x"), ErrCodeMissingCapability},
		{InvalidConfig("x"), ErrCodeInvalidConfig},
		{StaleAck("x"), ErrCodeStaleAck},
		{AckTimeout("x"), ErrCodeAckTimeout},
		{Closed("x"), ErrCodeClosed},
		{MalformedFrame("x"), ErrCodeMalformedFrame},
	}
	for _, tt := range tests {
		if tt.err.Code() != tt.code {
			t.Errorf("Code() = %v, want %v", tt.err.Code(), tt.code)
		}
	}
}

func TestWithRetryableOverride(t *testing.T) {
	err := New(ErrCodeStaleAck, "late", WithRetryable(true))
	if !err.Retryable() {
		t.Error("WithRetryable(true) should override permanent category")
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(ErrCodeInvalidConfig, "bad", WithMetadata("interval_ms", "0"))
	md := err.Metadata()
	md["interval_ms"] = "changed"
	if err.Metadata()["interval_ms"] != "0" {
		t.Error("Metadata() must return a copy")
	}
	if len(New(ErrCodeInternal, "x").Metadata()) != 0 {
		t.Error("expected empty metadata")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "noop") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	plain := fmt.Errorf("socket reset")
	w := Wrap(plain, "writing frame")
	if w.Code() != ErrCodeInternal {
		t.Errorf("Code() = %v, want INTERNAL", w.Code())
	}
	if !errors.Is(w, plain) {
		t.Error("wrapped error should unwrap to cause")
	}
	if w.Error() != "writing frame: socket reset" {
		t.Errorf("Error() = %q", w.Error())
	}
}

func TestWrapCodedError(t *testing.T) {
	inner := InvalidConfig("interval must be positive", WithEndpointID("ep-1"), WithMetadata("k", "v"))
	w := Wrap(inner, "augment")
	if w.Code() != ErrCodeInvalidConfig {
		t.Errorf("Code() = %v, want INVALID_CONFIG", w.Code())
	}
	if w.EndpointID() != "ep-1" {
		t.Errorf("EndpointID() = %q, want ep-1", w.EndpointID())
	}
	if w.Metadata()["k"] != "v" {
		t.Error("metadata should carry over")
	}
	if !Is(fmt.Errorf("outer: %w", w), ErrCodeInvalidConfig) {
		t.Error("Is should find code through fmt wrapping")
	}
}

func TestWrapContextErrors(t *testing.T) {
	if Wrap(context.DeadlineExceeded, "dial").Code() != ErrCodeTimeout {
		t.Error("DeadlineExceeded should map to TIMEOUT")
	}
	if Wrap(context.Canceled, "dial").Code() != ErrCodeCanceled {
		t.Error("Canceled should map to CANCELED")
	}
}

func TestWrapWithCode(t *testing.T) {
	if WrapWithCode(nil, ErrCodeNetworkErr, "x") != nil {
		t.Error("nil error should stay nil")
	}
	err := WrapWithCode(fmt.Errorf("eof"), ErrCodeNetworkErr, "read")
	if !IsRetryable(err) || err.Category() != CategoryTransient {
		t.Error("NETWORK_ERR should be transient and retryable")
	}
}

func TestHelpersOnPlainErrors(t *testing.T) {
	plain := fmt.Errorf("plain")
	if Is(plain, ErrCodeInternal) {
		t.Error("Is should be false for plain errors")
	}
	if IsRetryable(plain) {
		t.Error("plain errors are not retryable")
	}
	if Code(plain) != "" {
		t.Error("Code should be empty for plain errors")
	}
}

func TestJSONRoundtrip(t *testing.T) {
	orig := AckTimeout("no ack after 5s",
		WithEndpointID("ep-9"),
		WithMetadata("timeout_ms", "5000"),
		WithCause(fmt.Errorf("timer fired")),
	)

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Error
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.Code() != ErrCodeAckTimeout {
		t.Errorf("Code() = %v", decoded.Code())
	}
	if decoded.EndpointID() != "ep-9" {
		t.Errorf("EndpointID() = %q", decoded.EndpointID())
	}
	if !decoded.Retryable() {
		t.Error("Retryable should survive roundtrip")
	}
	if decoded.Metadata()["timeout_ms"] != "5000" {
		t.Error("metadata should survive roundtrip")
	}
	if decoded.Unwrap() == nil || decoded.Unwrap().Error() != "timer fired" {
		t.Errorf("cause = %v", decoded.Unwrap())
	}
	if !decoded.Timestamp().Equal(orig.Timestamp()) {
		t.Errorf("Timestamp() = %v, want %v", decoded.Timestamp(), orig.Timestamp())
	}
}

func TestJoin(t *testing.T) {
	if Join(nil, nil) != nil {
		t.Error("Join of nils should be nil")
	}
	joined := Join(StaleAck("a"), fmt.Errorf("b"))
	if !Is(joined, ErrCodeStaleAck) {
		t.Error("Is should see codes inside joined errors")
	}
}
