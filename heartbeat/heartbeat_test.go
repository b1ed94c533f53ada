package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/healthcheck/errors"
	"github.com/vinayprograms/healthcheck/events"
	"github.com/vinayprograms/healthcheck/logging"
)

// --- Payloads ---

func TestHealthCheck_Wire(t *testing.T) {
	hc := &HealthCheck{Latency: 37, Timestamp: 1_700_000_000_123}
	data, err := hc.Marshal()
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(data) != `{"latency":37,"timestamp":1700000000123}` {
		t.Errorf("wire form = %s", data)
	}

	if _, err := UnmarshalHealthCheck([]byte("not json")); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestLatencyChange_Wire(t *testing.T) {
	lc := &LatencyChange{Latency: 52}
	data, _ := lc.Marshal()
	if string(data) != `{"latency":52}` {
		t.Errorf("wire form = %s", data)
	}

	parsed, err := UnmarshalLatencyChange(data)
	if err != nil || parsed.Latency != 52 {
		t.Errorf("parsed = %+v, err = %v", parsed, err)
	}
}

func TestDecodeAckTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1700000000123", 1700000000123, false},
		{"[1700000000123]", 1700000000123, false},
		{"[]", 0, true},
		{`"1700000000123"`, 0, true},
		{"{}", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := decodeAckTimestamp([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPhase_String(t *testing.T) {
	if Idle.String() != "idle" || Probing.String() != "probing" || Phase(9).String() != "unknown" {
		t.Error("unexpected phase names")
	}
}

// --- State ---

func TestState_Calculator(t *testing.T) {
	s := NewState(DefaultConfig())

	s.ComputeRTT(37).ComputeLatency()
	if s.RTT != 37 || s.Latency != 37 {
		t.Errorf("rtt=%d latency=%d, want 37,37", s.RTT, s.Latency)
	}

	s.ComputeRTT(-5).ComputeLatency()
	if s.RTT != 0 || s.Latency != 0 {
		t.Errorf("negative delta: rtt=%d latency=%d, want 0,0", s.RTT, s.Latency)
	}
}

func TestState_CalculatorLeavesTimer(t *testing.T) {
	clock := newFakeClock()
	s := NewState(DefaultConfig())
	s.replaceTimer(clock.AfterFunc(time.Second, func() {}))

	s.ComputeRTT(10).ComputeLatency()
	if !s.TimerArmed() {
		t.Error("calculator must not touch the timer")
	}
}

func TestState_Reset(t *testing.T) {
	clock := newFakeClock()
	s := NewState(Config{Interval: time.Second})
	s.ComputeRTT(12).ComputeLatency()
	s.Config.Interval = 5 * time.Second
	s.replaceTimer(clock.AfterFunc(time.Second, func() { t.Error("timer fired after reset") }))

	s.Reset(Config{Interval: time.Second})

	if s.Latency != 0 || s.RTT != 0 || s.TimerArmed() || s.Config.Interval != time.Second {
		t.Errorf("state after reset = %+v", s)
	}
	clock.Advance(time.Minute)
}

func TestState_ReplaceTimerStopsPrevious(t *testing.T) {
	clock := newFakeClock()
	s := NewState(DefaultConfig())
	fired := 0
	s.replaceTimer(clock.AfterFunc(time.Second, func() { fired++ }))
	s.replaceTimer(clock.AfterFunc(time.Second, func() { fired++ }))

	clock.Advance(time.Second)
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
}

// --- Config ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"one millisecond", Config{Interval: time.Millisecond}, false},
		{"zero", Config{}, true},
		{"negative", Config{Interval: -time.Second}, true},
		{"ack timeout", Config{Interval: time.Second, AckTimeout: time.Second}, false},
		{"negative ack timeout", Config{Interval: time.Second, AckTimeout: -1}, true},
		{"backoff max below base", Config{Interval: time.Second, BackoffBase: time.Second, BackoffMax: time.Millisecond}, true},
		{"backoff uncapped", Config{Interval: time.Second, BackoffBase: time.Second}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("expected INVALID_CONFIG, got %v", err)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.IntervalMillis() != 2000 {
		t.Errorf("default interval = %dms, want 2000", cfg.IntervalMillis())
	}
	if cfg.AckTimeout != 0 {
		t.Error("ack timeout must be disabled by default")
	}
}

// --- Backoff ---

func TestRetryBackoff(t *testing.T) {
	base, capDur := 100*time.Millisecond, time.Second
	rng := newBackoffRNG(7)

	if d := retryBackoff(0, base, capDur, rng); d != base {
		t.Errorf("first delay = %v, want base", d)
	}

	prev := base
	for i := 0; i < 50; i++ {
		d := retryBackoff(prev, base, capDur, rng)
		if d < base || d > capDur {
			t.Fatalf("delay %v outside [%v, %v]", d, base, capDur)
		}
		if d >= time.Duration(float64(prev)*backoffMultiplier) && d != capDur {
			t.Fatalf("delay %v not below %v", d, time.Duration(float64(prev)*backoffMultiplier))
		}
		prev = d
	}
}

func TestRetryBackoff_Edges(t *testing.T) {
	if d := retryBackoff(time.Second, time.Second, 10*time.Millisecond, nil); d != 10*time.Millisecond {
		t.Errorf("cap below base = %v, want cap", d)
	}
	if d := retryBackoff(0, 0, 0, nil); d != 50*time.Millisecond {
		t.Errorf("zero base = %v, want 50ms", d)
	}
	if newBackoffRNG(0) != nil {
		t.Error("seed 0 should use the shared generator")
	}
}

func TestRetryBackoff_Deterministic(t *testing.T) {
	a, b := newBackoffRNG(99), newBackoffRNG(99)
	for i := 0; i < 10; i++ {
		da := retryBackoff(time.Second, 100*time.Millisecond, 30*time.Second, a)
		db := retryBackoff(time.Second, 100*time.Millisecond, 30*time.Second, b)
		if da != db {
			t.Fatalf("same seed diverged: %v vs %v", da, db)
		}
	}
}

// --- Responder ---

func TestResponder_EchoesTimestamp(t *testing.T) {
	a, b := events.Pipe()
	r := NewResponder(logging.Discard())
	if err := r.Serve(b); err != nil {
		t.Fatalf("Serve error: %v", err)
	}
	a.Connect()

	var acked []byte
	err := a.PublishWithAck(EventHealthCheck, []byte(`{"latency":12,"timestamp":1700000000123}`), func(d []byte) { acked = d })
	if err != nil {
		t.Fatalf("PublishWithAck error: %v", err)
	}

	if string(acked) != "1700000000123" {
		t.Errorf("ack = %s, want the timestamp unchanged", acked)
	}
	if r.PeerLatency() != 12 {
		t.Errorf("peer latency = %d, want 12", r.PeerLatency())
	}
	if r.Probes() != 1 {
		t.Errorf("probes = %d, want 1", r.Probes())
	}
}

func TestResponder_Malformed(t *testing.T) {
	a, b := events.Pipe()
	r := NewResponder(logging.Discard())
	r.Serve(b)
	a.Connect()

	acked := false
	a.PublishWithAck(EventHealthCheck, []byte(`not json`), func([]byte) { acked = true })
	a.PublishWithAck(EventHealthCheck, []byte(`{"latency":3}`), func([]byte) { acked = true })

	if acked {
		t.Error("malformed probes must not be acknowledged")
	}
	if r.Probes() != 0 {
		t.Errorf("probes = %d, want 0", r.Probes())
	}
}

// --- End to end ---

func TestEndToEnd_SystemClock(t *testing.T) {
	a, b := events.Pipe()

	r := NewResponder(logging.Discard())
	r.Serve(b)

	ep, err := Augment(a, WithInterval(5*time.Millisecond), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("Augment error: %v", err)
	}

	a.Connect()

	deadline := time.After(2 * time.Second)
	for r.Probes() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d probes answered", r.Probes())
		case <-time.After(time.Millisecond):
		}
	}

	a.Disconnect()
	if ep.Phase() != Idle {
		t.Errorf("phase = %v, want idle", ep.Phase())
	}

	// A timer callback already past its lock check may still probe once
	time.Sleep(20 * time.Millisecond)
	settled := r.Probes()
	time.Sleep(50 * time.Millisecond)
	if r.Probes() != settled {
		t.Errorf("probes continued after disconnect: %d -> %d", settled, r.Probes())
	}
}

func TestEndToEnd_ConcurrentAccess(t *testing.T) {
	a, b := events.Pipe()
	NewResponder(logging.Discard()).Serve(b)

	ep, err := Augment(a, WithInterval(time.Millisecond), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("Augment error: %v", err)
	}
	a.Connect()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = ep.Latency()
				_ = ep.TimerArmed()
				if j%25 == 0 {
					ep.ResetHeartbeatState()
				}
			}
		}()
	}
	wg.Wait()
	a.Disconnect()

	if ep.TimerArmed() {
		t.Error("timer must be cleared after disconnect")
	}
}
