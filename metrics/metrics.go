// Package metrics records heartbeat measurements.
//
// Collector is implemented by Nop (discard everything) and Prometheus.
// Every method takes the endpoint id so one collector can serve many
// endpoints.
package metrics

import "time"

// Collector receives heartbeat measurements.
type Collector interface {
	// IncCheckup counts an outbound health check probe.
	IncCheckup(endpointID string)

	// ObserveRTT records one measured round trip.
	ObserveRTT(endpointID string, rtt time.Duration)

	// SetLatency records the latency currently exposed to the application.
	SetLatency(endpointID string, latency time.Duration)

	// IncLatencyChange counts a "latency changed" notification.
	IncLatencyChange(endpointID string)

	// IncStaleAck counts an ignored acknowledgement.
	IncStaleAck(endpointID, reason string)

	// IncAckTimeout counts a probe abandoned for lack of an acknowledgement.
	IncAckTimeout(endpointID string)

	// Forget drops per-endpoint series once the endpoint is gone.
	Forget(endpointID string)
}

// Nop discards all measurements.
type Nop struct{}

var _ Collector = (*Nop)(nil)

// NewNop creates a no-op collector.
func NewNop() *Nop {
	return &Nop{}
}

func (*Nop) IncCheckup(string) {}
func (*Nop) ObserveRTT(string, time.Duration) {}
func (*Nop) SetLatency(string, time.Duration) {}
func (*Nop) IncLatencyChange(string) {}
func (*Nop) IncStaleAck(string, string) {}
func (*Nop) IncAckTimeout(string) {}
func (*Nop) Forget(string) {}
