package heartbeat

import (
	"time"

	"github.com/vinayprograms/healthcheck/errors"
	"github.com/vinayprograms/healthcheck/logging"
	"github.com/vinayprograms/healthcheck/metrics"
	"github.com/vinayprograms/healthcheck/telemetry"
)

// DefaultInterval is the delay between an ack and the next probe.
const DefaultInterval = 2000 * time.Millisecond

// Config holds heartbeat timing.
type Config struct {
	// Interval between an acknowledgement and the next probe.
	// Must be at least one millisecond.
	Interval time.Duration

	// AckTimeout abandons a probe that is not acknowledged in time.
	// Zero disables it; the loop then waits for the ack indefinitely.
	AckTimeout time.Duration

	// BackoffBase and BackoffMax bound the retry delay after an ack timeout.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the default heartbeat configuration.
func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
	}
}

// Validate checks that all durations are in range.
func (c Config) Validate() error {
	if c.Interval < time.Millisecond {
		return errors.InvalidConfig("interval must be a positive number of milliseconds",
			errors.WithMetadata("interval", c.Interval.String()))
	}
	if c.AckTimeout < 0 {
		return errors.InvalidConfig("ack timeout must not be negative",
			errors.WithMetadata("ack_timeout", c.AckTimeout.String()))
	}
	if c.BackoffBase < 0 || c.BackoffMax < 0 {
		return errors.InvalidConfig("backoff bounds must not be negative")
	}
	if c.BackoffMax > 0 && c.BackoffMax < c.BackoffBase {
		return errors.InvalidConfig("backoff max must not be below backoff base",
			errors.WithMetadata("backoff_base", c.BackoffBase.String()),
			errors.WithMetadata("backoff_max", c.BackoffMax.String()))
	}
	return nil
}

// IntervalMillis returns Interval in milliseconds.
func (c Config) IntervalMillis() int64 {
	return c.Interval.Milliseconds()
}

// Option configures Augment.
type Option func(*options)

type options struct {
	config      Config
	clock       Clock
	logger      *logging.Logger
	tracer      *telemetry.Tracer
	metrics     metrics.Collector
	exporter    telemetry.Exporter
	id          string
	backoffSeed int64
}

func defaultOptions() options {
	return options{
		config:  DefaultConfig(),
		clock:   SystemClock(),
		metrics: metrics.NewNop(),
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithInterval sets the delay between an ack and the next probe.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		o.config.Interval = d
	}
}

// WithAckTimeout abandons probes not acknowledged within d. Zero disables.
func WithAckTimeout(d time.Duration) Option {
	return func(o *options) {
		o.config.AckTimeout = d
	}
}

// WithBackoff bounds the retry delay after an ack timeout.
func WithBackoff(base, max time.Duration) Option {
	return func(o *options) {
		o.config.BackoffBase = base
		o.config.BackoffMax = max
	}
}

// WithBackoffSeed makes retry jitter deterministic. Zero uses the shared PRNG.
func WithBackoffSeed(seed int64) Option {
	return func(o *options) {
		o.backoffSeed = seed
	}
}

// WithClock replaces the wall clock and timer source.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger. The endpoint logs under component "heartbeat".
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTracer sets the tracer for checkup spans. Defaults to the global tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// WithExporter records one sample per probe outcome.
func WithExporter(e telemetry.Exporter) Option {
	return func(o *options) {
		o.exporter = e
	}
}

// WithID names the endpoint in logs, metrics and spans.
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}
