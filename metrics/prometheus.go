package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector backed by Prometheus vectors labelled by
// endpoint. Vectors are created and registered on first use.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	checkups       *prometheus.CounterVec
	rtt            *prometheus.HistogramVec
	latency        *prometheus.GaugeVec
	latencyChanges *prometheus.CounterVec
	staleAcks      *prometheus.CounterVec
	ackTimeouts    *prometheus.CounterVec
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a Prometheus-backed collector.
//
// reg defaults to prometheus.DefaultRegisterer and namespace to "healthcheck".
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "healthcheck"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.checkups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "heartbeat",
			Name:      "checkups_total",
			Help:      "Health check probes sent.",
		}, []string{"endpoint"})

		p.rtt = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "heartbeat",
			Name:      "rtt_seconds",
			Help:      "Measured health check round trip time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		}, []string{"endpoint"})

		p.latency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "heartbeat",
			Name:      "latency_seconds",
			Help:      "Latency currently exposed to the application.",
		}, []string{"endpoint"})

		p.latencyChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "heartbeat",
			Name:      "latency_changes_total",
			Help:      "Latency changed notifications published.",
		}, []string{"endpoint"})

		p.staleAcks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "heartbeat",
			Name:      "stale_acks_total",
			Help:      "Acknowledgements ignored because their probe was no longer current.",
		}, []string{"endpoint", "reason"})

		p.ackTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "heartbeat",
			Name:      "ack_timeouts_total",
			Help:      "Probes abandoned because no acknowledgement arrived in time.",
		}, []string{"endpoint"})

		p.checkups = registerOrExisting(p.reg, p.checkups)
		p.rtt = registerOrExisting(p.reg, p.rtt)
		p.latency = registerOrExisting(p.reg, p.latency)
		p.latencyChanges = registerOrExisting(p.reg, p.latencyChanges)
		p.staleAcks = registerOrExisting(p.reg, p.staleAcks)
		p.ackTimeouts = registerOrExisting(p.reg, p.ackTimeouts)
	})
}

// registerOrExisting registers c, reusing an identical collector already
// registered by another Prometheus instance on the same registerer.
func registerOrExisting[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// IncCheckup counts an outbound probe.
func (p *Prometheus) IncCheckup(endpointID string) {
	p.ensureRegistered()
	p.checkups.WithLabelValues(endpointID).Inc()
}

// ObserveRTT records a round trip.
func (p *Prometheus) ObserveRTT(endpointID string, rtt time.Duration) {
	p.ensureRegistered()
	p.rtt.WithLabelValues(endpointID).Observe(rtt.Seconds())
}

// SetLatency records the current latency.
func (p *Prometheus) SetLatency(endpointID string, latency time.Duration) {
	p.ensureRegistered()
	p.latency.WithLabelValues(endpointID).Set(latency.Seconds())
}

// IncLatencyChange counts a change notification.
func (p *Prometheus) IncLatencyChange(endpointID string) {
	p.ensureRegistered()
	p.latencyChanges.WithLabelValues(endpointID).Inc()
}

// IncStaleAck counts an ignored acknowledgement.
func (p *Prometheus) IncStaleAck(endpointID, reason string) {
	p.ensureRegistered()
	p.staleAcks.WithLabelValues(endpointID, reason).Inc()
}

// IncAckTimeout counts an abandoned probe.
func (p *Prometheus) IncAckTimeout(endpointID string) {
	p.ensureRegistered()
	p.ackTimeouts.WithLabelValues(endpointID).Inc()
}

// Forget deletes every series labelled with endpointID.
func (p *Prometheus) Forget(endpointID string) {
	p.ensureRegistered()
	labels := prometheus.Labels{"endpoint": endpointID}
	p.checkups.DeletePartialMatch(labels)
	p.rtt.DeletePartialMatch(labels)
	p.latency.DeletePartialMatch(labels)
	p.latencyChanges.DeletePartialMatch(labels)
	p.staleAcks.DeletePartialMatch(labels)
	p.ackTimeouts.DeletePartialMatch(labels)
}
