package heartbeat

import (
	"encoding/json"
	"sync"

	"github.com/vinayprograms/healthcheck/events"
	"github.com/vinayprograms/healthcheck/logging"
)

// Responder answers "health check" probes on the peer side by echoing
// the probe timestamp. It also records the latency the prober reported.
type Responder struct {
	log *logging.Logger

	mu          sync.Mutex
	peerLatency int64
	probes      uint64
}

// NewResponder creates a responder. A nil logger logs to stdout.
func NewResponder(log *logging.Logger) *Responder {
	if log == nil {
		log = logging.New()
	}
	return &Responder{log: log.WithComponent("heartbeat-responder")}
}

// Serve subscribes the responder to probes arriving on conn.
func (r *Responder) Serve(conn Subscriber) error {
	return conn.Subscribe(EventHealthCheck, r.handle)
}

// probeFrame keeps the raw timestamp so it is echoed byte for byte.
type probeFrame struct {
	Latency   int64           `json:"latency"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func (r *Responder) handle(data []byte, ack events.AckFunc) {
	var p probeFrame
	if err := json.Unmarshal(data, &p); err != nil || len(p.Timestamp) == 0 {
		r.log.Warn("probe_undecodable", map[string]interface{}{"payload": string(data)})
		return
	}

	r.mu.Lock()
	r.peerLatency = p.Latency
	r.probes++
	r.mu.Unlock()

	if ack == nil {
		r.log.Debug("probe_without_ack", nil)
		return
	}
	ack(p.Timestamp)
}

// PeerLatency returns the latency the prober reported in its last probe.
func (r *Responder) PeerLatency() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peerLatency
}

// Probes returns how many probes have been answered or dropped for lack of
// an ack channel.
func (r *Responder) Probes() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probes
}
