package heartbeat

import (
	rand "math/rand/v2"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/healthcheck/errors"
	"github.com/vinayprograms/healthcheck/events"
	"github.com/vinayprograms/healthcheck/logging"
	"github.com/vinayprograms/healthcheck/metrics"
	"github.com/vinayprograms/healthcheck/telemetry"
)

// Endpoint is a connection augmented with a heartbeat loop. It embeds the
// connection, so Subscribe, Publish and PublishWithAck remain available.
type Endpoint struct {
	Conn

	id         string
	clock      Clock
	log        *logging.Logger
	tracer     *telemetry.Tracer
	metrics    metrics.Collector
	exporter   telemetry.Exporter
	configured Config

	mu       sync.Mutex
	state    *State
	phase    Phase
	epoch    uint64 // incremented on every "connected"
	seq      uint64 // last probe sequence number
	timerSeq uint64 // identifies the armed timer; bumped whenever it is replaced or cleared
	inflight *probe
	backoff  time.Duration // last retry delay; zero after a successful ack
	rng      *rand.Rand
}

// probe is one outstanding health check.
type probe struct {
	seq     uint64
	sentAt  int64
	span    trace.Span
	timeout Timer

	mu       sync.Mutex
	cancel   events.CancelFunc
	released bool
}

// setCancel stores the connection's cancel for this probe's reply. If the
// probe already finished, cancel runs at once.
func (p *probe) setCancel(cancel events.CancelFunc) {
	if cancel == nil {
		return
	}
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		cancel()
		return
	}
	p.cancel = cancel
	p.mu.Unlock()
}

// release frees the reply slot held by the connection, if any.
func (p *probe) release() {
	p.mu.Lock()
	p.released = true
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

var _ HealthCheckable = (*Endpoint)(nil)

// Augment attaches the heartbeat loop to conn, which must implement
// Subscriber, Publisher and AckPublisher.
//
// The loop starts on the next events.Connected and stops on
// events.Disconnected. Returns MISSING_CAPABILITY when conn lacks an
// operation and INVALID_CONFIG for out-of-range timing.
func Augment(conn any, opts ...Option) (*Endpoint, error) {
	c, err := capabilities(conn)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.clock == nil {
		o.clock = SystemClock()
	}
	if o.logger == nil {
		o.logger = logging.New()
	}
	if o.tracer == nil {
		o.tracer = telemetry.GetTracer()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNop()
	}
	if o.exporter == nil {
		o.exporter = telemetry.NewNoopExporter()
	}

	e := &Endpoint{
		Conn:       c,
		id:         o.id,
		clock:      o.clock,
		log:        o.logger.WithComponent("heartbeat").WithTraceID(o.id),
		tracer:     o.tracer,
		metrics:    o.metrics,
		exporter:   o.exporter,
		configured: o.config,
		state:      NewState(o.config),
		phase:      Idle,
		rng:        newBackoffRNG(o.backoffSeed),
	}

	if err := c.Subscribe(events.Connected, func([]byte, events.AckFunc) { e.onConnected() }); err != nil {
		return nil, errors.Wrap(err, "subscribing to connected", errors.WithEndpointID(e.id))
	}
	if err := c.Subscribe(events.Disconnected, func([]byte, events.AckFunc) { e.onDisconnected() }); err != nil {
		return nil, errors.Wrap(err, "subscribing to disconnected", errors.WithEndpointID(e.id))
	}

	return e, nil
}

// capabilities checks conn for every required operation and names the
// missing ones.
func capabilities(conn any) (Conn, error) {
	if conn == nil {
		return nil, errors.MissingCapability("endpoint is nil")
	}
	if v := reflect.ValueOf(conn); isNilable(v.Kind()) && v.IsNil() {
		return nil, errors.MissingCapability("endpoint is a nil " + v.Type().String())
	}

	var missing []string
	if _, ok := conn.(Subscriber); !ok {
		missing = append(missing, "Subscribe")
	}
	if _, ok := conn.(Publisher); !ok {
		missing = append(missing, "Publish")
	}
	if _, ok := conn.(AckPublisher); !ok {
		missing = append(missing, "PublishWithAck")
	}
	if len(missing) > 0 {
		list := strings.Join(missing, ", ")
		return nil, errors.MissingCapability("endpoint lacks "+list,
			errors.WithMetadata("missing", list))
	}

	return conn.(Conn), nil
}

func isNilable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return true
	}
	return false
}

// ID returns the endpoint id used in logs, metrics and spans.
func (e *Endpoint) ID() string {
	return e.id
}

// Latency returns the last computed latency in milliseconds.
func (e *Endpoint) Latency() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Latency
}

// RTT returns the last measured round trip in milliseconds.
func (e *Endpoint) RTT() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.RTT
}

// Phase returns the loop state.
func (e *Endpoint) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Config returns the configuration currently in effect.
func (e *Endpoint) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Config
}

// TimerArmed reports whether the next probe is scheduled.
func (e *Endpoint) TimerArmed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.TimerArmed()
}

// Outstanding reports whether a probe is awaiting its ack.
func (e *Endpoint) Outstanding() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight != nil
}

// SetInterval changes the probe interval from the next scheduled probe on.
// ResetHeartbeatState restores the interval given at augmentation.
func (e *Endpoint) SetInterval(d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.state.Config
	cfg.Interval = d
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.state.Config = cfg
	return nil
}

// OnLatencyChanged registers fn for "latency changed" notifications.
func (e *Endpoint) OnLatencyChanged(fn func(latency int64)) error {
	return e.Subscribe(EventLatencyChanged, func(data []byte, _ events.AckFunc) {
		change, err := UnmarshalLatencyChange(data)
		if err != nil {
			e.log.Warn("latency_change_undecodable", map[string]interface{}{"error": err.Error()})
			return
		}
		fn(change.Latency)
	})
}

// ResetHeartbeatState zeroes latency and RTT, cancels the pending timer and
// restores the interval given at augmentation.
//
// While the connection is up and no probe is outstanding the loop is
// re-armed for a full interval, so resetting never stops probing.
func (e *Endpoint) ResetHeartbeatState() {
	e.mu.Lock()
	e.state.Reset(e.configured)
	e.timerSeq++
	rearmed := false
	if e.phase == Probing && e.inflight == nil {
		e.armLocked(e.state.Config.Interval)
		rearmed = true
	}
	e.mu.Unlock()

	e.metrics.SetLatency(e.id, 0)
	e.log.Debug("heartbeat_reset", map[string]interface{}{"rearmed": rearmed})
}

func (e *Endpoint) nowMillis() int64 {
	return e.clock.Now().UnixMilli()
}
