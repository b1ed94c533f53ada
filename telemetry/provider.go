// OTLP trace export for checkup spans.
package telemetry

import (
	"context"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/vinayprograms/healthcheck/errors"
)

// ProviderConfig configures OTLP export of checkup traces.
type ProviderConfig struct {
	// ServiceName names the probing process. Falls back to OTEL_SERVICE_NAME,
	// then "healthcheck".
	ServiceName string

	// Endpoint is the collector address, e.g. "localhost:4317". Falls back to
	// OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Protocol is "grpc" (default) or "http".
	Protocol string

	Insecure bool

	// Debug includes probe payloads in span attributes.
	Debug bool

	// SampleRatio samples that fraction of checkup traces. Zero or >= 1 samples all.
	SampleRatio float64

	// FlushInterval bounds how long finished spans wait in the batcher.
	FlushInterval time.Duration
}

// Provider owns the SDK tracer provider installed by InitProvider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer *Tracer
}

// InitProvider installs a global tracer provider exporting over OTLP and a
// global Tracer for heartbeat spans. Shut the Provider down to flush.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	endpoint := collectorEndpoint(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.InvalidConfig("telemetry endpoint not configured (set endpoint or OTEL_EXPORTER_OTLP_ENDPOINT)")
	}

	serviceName := firstNonEmpty(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), "healthcheck")

	exporter, err := newSpanExporter(ctx, cfg.Protocol, endpoint, cfg.Insecure)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		exporter.Shutdown(ctx)
		return nil, errors.Wrap(err, "creating resource")
	}

	var batchOpts []sdktrace.BatchSpanProcessorOption
	if cfg.FlushInterval > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.FlushInterval))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(checkupSampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := NewTracerFromProvider(tp, serviceName, cfg.Debug)
	SetGlobalTracer(tracer)

	return &Provider{tp: tp, tracer: tracer}, nil
}

// newSpanExporter builds the OTLP exporter for protocol. Neither exporter
// dials before the first export.
func newSpanExporter(ctx context.Context, protocol, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)

	switch protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, errors.InvalidConfig("unknown trace protocol (use 'grpc' or 'http')",
			errors.WithMetadata("protocol", protocol))
	}

	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "creating span exporter",
			errors.WithMetadata("endpoint", endpoint))
	}
	return exporter, nil
}

// checkupSampler samples every checkup unless ratio selects a fraction.
// Child spans follow their parent's decision.
func checkupSampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// collectorEndpoint resolves the OTLP endpoint as host:port.
func collectorEndpoint(configured string) string {
	endpoint := firstNonEmpty(configured, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimPrefix(endpoint, "https://")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Tracer returns the heartbeat tracer backed by this provider.
func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ForceFlush exports pending spans without stopping.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}
