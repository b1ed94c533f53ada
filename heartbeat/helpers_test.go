package heartbeat

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/healthcheck/events"
	"github.com/vinayprograms/healthcheck/logging"
	"github.com/vinayprograms/healthcheck/metrics"
	"github.com/vinayprograms/healthcheck/telemetry"
)

var _ AckCanceler = (*events.PipeConn)(nil)

// --- Manual clock ---

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	d       time.Duration
	f       func()
	fired   bool
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// StepBack moves the wall clock backwards without firing timers.
func (c *fakeClock) StepBack(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(-d)
}

// Advance moves time forward, firing due timers in order. Callbacks run
// without the clock lock so they may arm new timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the durations of timers that have neither fired nor been stopped.
func (c *fakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			out = append(out, t.d)
		}
	}
	return out
}

// --- Metrics and exporter doubles ---

type countingMetrics struct {
	metrics.Nop
	mu          sync.Mutex
	checkups    int
	staleAcks   map[string]int
	ackTimeouts int
	changes     int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{staleAcks: make(map[string]int)}
}

func (m *countingMetrics) IncCheckup(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkups++
}

func (m *countingMetrics) IncStaleAck(_ string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleAcks[reason]++
}

func (m *countingMetrics) IncAckTimeout(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackTimeouts++
}

func (m *countingMetrics) IncLatencyChange(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes++
}

func (m *countingMetrics) stale(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.staleAcks[reason]
}

type recordingExporter struct {
	mu      sync.Mutex
	samples []telemetry.Sample
}

func (r *recordingExporter) Record(s telemetry.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recordingExporter) Flush() error { return nil }
func (r *recordingExporter) Close() error { return nil }

func (r *recordingExporter) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.samples))
	for i, s := range r.samples {
		out[i] = s.Outcome
	}
	return out
}

// --- Harness ---

// harness augments one end of a pipe. The other end records probes and
// holds their acks so tests decide when each round trip completes.
type harness struct {
	t       *testing.T
	clock   *fakeClock
	local   *events.PipeConn
	remote  *events.PipeConn
	ep      *Endpoint
	metrics *countingMetrics

	mu      sync.Mutex
	probes  []HealthCheck
	acks    []events.AckFunc
	changes []int64
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:       t,
		clock:   newFakeClock(),
		metrics: newCountingMetrics(),
	}
	h.local, h.remote = events.Pipe()

	h.remote.Subscribe(EventHealthCheck, func(data []byte, ack events.AckFunc) {
		hc, err := UnmarshalHealthCheck(data)
		if err != nil {
			t.Errorf("probe payload: %v", err)
			return
		}
		h.mu.Lock()
		h.probes = append(h.probes, *hc)
		h.acks = append(h.acks, ack)
		h.mu.Unlock()
	})

	base := []Option{
		WithClock(h.clock),
		WithLogger(logging.Discard()),
		WithMetrics(h.metrics),
		WithID("test-endpoint"),
	}
	ep, err := Augment(h.local, append(base, opts...)...)
	if err != nil {
		t.Fatalf("Augment error: %v", err)
	}
	h.ep = ep

	if err := ep.OnLatencyChanged(func(latency int64) {
		h.mu.Lock()
		h.changes = append(h.changes, latency)
		h.mu.Unlock()
	}); err != nil {
		t.Fatalf("OnLatencyChanged error: %v", err)
	}

	return h
}

func (h *harness) probeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.probes)
}

func (h *harness) lastProbe() HealthCheck {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.probes) == 0 {
		h.t.Fatal("no probe sent")
	}
	return h.probes[len(h.probes)-1]
}

func (h *harness) latencyChanges() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.changes...)
}

// ackProbe acknowledges probe i after rtt has elapsed.
func (h *harness) ackProbe(i int, rtt time.Duration) {
	h.t.Helper()
	h.mu.Lock()
	if i >= len(h.probes) {
		h.mu.Unlock()
		h.t.Fatalf("probe %d not sent (have %d)", i, len(h.probes))
	}
	ts, ack := h.probes[i].Timestamp, h.acks[i]
	h.mu.Unlock()

	h.clock.Advance(rtt)
	data, _ := json.Marshal(ts)
	ack(data)
}

// ackLast acknowledges the most recent probe after rtt.
func (h *harness) ackLast(rtt time.Duration) {
	h.t.Helper()
	h.ackProbe(h.probeCount()-1, rtt)
}

// roundTrip acknowledges the outstanding probe after rtt and waits out the
// interval so the next probe is sent.
func (h *harness) roundTrip(rtt time.Duration) {
	h.t.Helper()
	before := h.probeCount()
	h.ackLast(rtt)
	h.clock.Advance(h.ep.Config().Interval)
	if h.probeCount() != before+1 {
		h.t.Fatalf("expected a new probe after the interval, have %d want %d", h.probeCount(), before+1)
	}
}

// --- Cancelable acks ---

// cancelCountingConn counts the reply slots the endpoint takes and frees.
type cancelCountingConn struct {
	*events.PipeConn

	mu       sync.Mutex
	issued   int
	canceled int
}

func (c *cancelCountingConn) PublishWithCancelableAck(event string, data []byte, ack events.AckFunc) (events.CancelFunc, error) {
	cancel, err := c.PipeConn.PublishWithCancelableAck(event, data, ack)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.issued++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.canceled++
			c.mu.Unlock()
		})
		cancel()
	}, nil
}

// held returns how many reply slots are still open.
func (c *cancelCountingConn) held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.issued - c.canceled
}
