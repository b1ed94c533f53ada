package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNop(t *testing.T) {
	var c Collector = NewNop()

	// Should not panic
	c.IncCheckup("ep")
	c.ObserveRTT("ep", time.Millisecond)
	c.SetLatency("ep", time.Millisecond)
	c.IncLatencyChange("ep")
	c.IncStaleAck("ep", "idle")
	c.IncAckTimeout("ep")
	c.Forget("ep")
}

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.IncCheckup("ep-1")
	p.IncCheckup("ep-1")
	p.IncCheckup("ep-2")
	p.IncStaleAck("ep-1", "superseded")
	p.IncAckTimeout("ep-1")
	p.IncLatencyChange("ep-1")

	if got := testutil.ToFloat64(p.checkups.WithLabelValues("ep-1")); got != 2 {
		t.Errorf("checkups{ep-1} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.checkups.WithLabelValues("ep-2")); got != 1 {
		t.Errorf("checkups{ep-2} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.staleAcks.WithLabelValues("ep-1", "superseded")); got != 1 {
		t.Errorf("stale_acks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.ackTimeouts.WithLabelValues("ep-1")); got != 1 {
		t.Errorf("ack_timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.latencyChanges.WithLabelValues("ep-1")); got != 1 {
		t.Errorf("latency_changes = %v, want 1", got)
	}
}

func TestPrometheus_Latency(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "")

	p.SetLatency("ep", 37*time.Millisecond)
	p.ObserveRTT("ep", 37*time.Millisecond)

	if got := testutil.ToFloat64(p.latency.WithLabelValues("ep")); got != 0.037 {
		t.Errorf("latency = %v, want 0.037", got)
	}
	if n := testutil.CollectAndCount(p.rtt); n != 1 {
		t.Errorf("rtt series = %d, want 1", n)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "healthcheck_heartbeat_latency_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("expected default namespace healthcheck")
	}
}

func TestPrometheus_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPrometheus(reg, "shared")
	b := NewPrometheus(reg, "shared")

	a.IncCheckup("ep")
	b.IncCheckup("ep")

	if got := testutil.ToFloat64(a.checkups.WithLabelValues("ep")); got != 2 {
		t.Errorf("shared counter = %v, want 2", got)
	}
}

func TestPrometheus_Forget(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.IncCheckup("gone")
	p.IncCheckup("kept")
	p.Forget("gone")

	if n := testutil.CollectAndCount(p.checkups); n != 1 {
		t.Errorf("series after Forget = %d, want 1", n)
	}
}
