// OpenTelemetry tracing for heartbeat probes.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Checkup outcomes recorded on spans and samples.
const (
	OutcomeAcked     = "acked"
	OutcomeTimeout   = "timeout"
	OutcomeAbandoned = "abandoned"
	OutcomeFailed    = "failed"
)

// Tracer wraps OpenTelemetry tracing with heartbeat-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include probe payloads in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode.
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Checkup Spans ---

// CheckupSpanOptions contains options for checkup spans.
type CheckupSpanOptions struct {
	Outcome string // acked, timeout, abandoned, failed
	RTT     int64  // ms, set when acked
	Latency int64  // ms, latency after the ack was processed
	Changed bool   // whether a "latency changed" notification was published
	Payload string // Only included if debug=true
}

// StartCheckupSpan starts a span covering one probe from send to ack.
func (t *Tracer) StartCheckupSpan(ctx context.Context, endpointID string, seq uint64, timestamp int64) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "heartbeat.checkup", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("heartbeat.endpoint", endpointID),
		attribute.Int64("heartbeat.seq", int64(seq)),
		attribute.Int64("heartbeat.timestamp", timestamp),
	)
	return ctx, span
}

// EndCheckupSpan ends a checkup span with attributes.
func (t *Tracer) EndCheckupSpan(span trace.Span, opts CheckupSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("heartbeat.outcome", opts.Outcome),
	}
	if opts.Outcome == OutcomeAcked {
		attrs = append(attrs,
			attribute.Int64("heartbeat.rtt_ms", opts.RTT),
			attribute.Int64("heartbeat.latency_ms", opts.Latency),
			attribute.Bool("heartbeat.latency_changed", opts.Changed),
		)
	}
	if t.debug && opts.Payload != "" {
		attrs = append(attrs, attribute.String("heartbeat.payload", truncate(opts.Payload, 1000)))
	}

	span.SetAttributes(attrs...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
