package heartbeat

import (
	"context"
	"strconv"
	"time"

	"github.com/vinayprograms/healthcheck/errors"
	"github.com/vinayprograms/healthcheck/telemetry"
)

// Stale ack reasons.
const (
	staleIdle       = "idle"
	staleNoProbe    = "no probe outstanding"
	staleSuperseded = "superseded"
	staleMismatch   = "timestamp mismatch"
	staleMalformed  = "malformed"
)

// RunCheckup sends one "health check" probe. It does not arm a timer; the
// next probe is scheduled once this one is acknowledged.
//
// Skipped while Idle or while a probe is already outstanding.
func (e *Endpoint) RunCheckup() {
	e.mu.Lock()
	if e.phase != Probing {
		e.mu.Unlock()
		e.log.Debug("checkup_skipped", map[string]interface{}{"reason": staleIdle})
		return
	}
	if e.inflight != nil {
		e.mu.Unlock()
		e.log.Debug("checkup_skipped", map[string]interface{}{"reason": "probe outstanding"})
		return
	}

	e.state.stopTimer()
	e.timerSeq++

	now := e.nowMillis()
	e.seq++
	p := &probe{seq: e.seq, sentAt: now}
	_, p.span = e.tracer.StartCheckupSpan(context.Background(), e.id, p.seq, now)
	if timeout := e.state.Config.AckTimeout; timeout > 0 {
		seq := p.seq
		p.timeout = e.clock.AfterFunc(timeout, func() { e.onAckTimeout(seq) })
	}
	e.inflight = p
	hc := HealthCheck{Latency: e.state.Latency, Timestamp: now}
	e.mu.Unlock()

	data, err := hc.Marshal()
	if err == nil {
		e.metrics.IncCheckup(e.id)
		e.log.CheckupSent(p.seq, now, hc.Latency)
		err = e.send(p, data)
	}
	if err != nil {
		e.publishFailed(p, err)
	}
}

// send publishes the probe, keeping the connection's cancel when it offers
// one so the reply slot can be freed if the probe is abandoned.
func (e *Endpoint) send(p *probe, data []byte) error {
	ack := func(resp []byte) { e.handleAck(p.seq, resp) }
	if c, ok := e.Conn.(AckCanceler); ok {
		cancel, err := c.PublishWithCancelableAck(EventHealthCheck, data, ack)
		if err != nil {
			return err
		}
		p.setCancel(cancel)
		return nil
	}
	return e.PublishWithAck(EventHealthCheck, data, ack)
}

// OnCheckupAck processes the echoed send time of the outstanding probe.
// Acks that do not match it are ignored.
//
// Only the timestamp identifies the probe here, so an ack from a previous
// connection that carries exactly the current probe's send time (a reconnect
// within the same millisecond) is accepted. Acks delivered through the
// connection's PublishWithAck callback are also matched by sequence number
// and are not affected.
func (e *Endpoint) OnCheckupAck(timestamp int64) {
	e.processAck(timestamp, 0, false)
}

func (e *Endpoint) handleAck(seq uint64, resp []byte) {
	ts, err := decodeAckTimestamp(resp)
	if err != nil {
		e.ignoreAck(0, staleMalformed)
		return
	}
	e.processAck(ts, seq, true)
}

func (e *Endpoint) processAck(ts int64, seq uint64, bySeq bool) {
	e.mu.Lock()
	if reason := e.staleReasonLocked(ts, seq, bySeq); reason != "" {
		e.mu.Unlock()
		e.ignoreAck(ts, reason)
		return
	}

	p := e.takeInflightLocked()
	e.backoff = 0
	previous := e.state.Latency
	delta := e.nowMillis() - ts
	e.state.ComputeRTT(delta).ComputeLatency()
	latency, rtt := e.state.Latency, e.state.RTT
	epoch := e.epoch
	e.mu.Unlock()

	p.release()
	if delta < 0 {
		e.log.Debug("clock_stepped_back", map[string]interface{}{
			"seq":      p.seq,
			"delta_ms": delta,
		})
	}

	e.metrics.ObserveRTT(e.id, time.Duration(rtt)*time.Millisecond)
	e.metrics.SetLatency(e.id, time.Duration(latency)*time.Millisecond)

	// Notify before arming so notifications follow ack order.
	changed := latency != previous
	if changed {
		e.metrics.IncLatencyChange(e.id)
		e.log.LatencyChanged(previous, latency)
		change := LatencyChange{Latency: latency}
		data, err := change.Marshal()
		if err == nil {
			err = e.Publish(EventLatencyChanged, data)
		}
		if err != nil {
			e.log.Warn("latency_change_publish_failed", map[string]interface{}{"error": err.Error()})
		}
	}

	// A subscriber may have reset, re-probed or disconnected meanwhile.
	var next time.Duration
	e.mu.Lock()
	if e.phase == Probing && e.epoch == epoch && e.inflight == nil && !e.state.TimerArmed() {
		next = e.state.Config.Interval
		e.armLocked(next)
	}
	e.mu.Unlock()

	e.tracer.EndCheckupSpan(p.span, telemetry.CheckupSpanOptions{
		Outcome: telemetry.OutcomeAcked,
		RTT:     rtt,
		Latency: latency,
		Changed: changed,
	}, nil)
	e.record(p.seq, telemetry.OutcomeAcked, rtt, latency, changed)
	e.log.CheckupAcked(p.seq, rtt, next)
}

// staleReasonLocked returns why an ack must be ignored, or "" to accept it.
// The peer echoes the send time unchanged, so the timestamp must equal that
// of the outstanding probe. Probes from earlier connections were abandoned
// on disconnect and never match.
func (e *Endpoint) staleReasonLocked(ts int64, seq uint64, bySeq bool) string {
	switch {
	case e.phase != Probing:
		return staleIdle
	case e.inflight == nil:
		return staleNoProbe
	case bySeq && e.inflight.seq != seq:
		return staleSuperseded
	case ts != e.inflight.sentAt:
		return staleMismatch
	}
	return ""
}

func (e *Endpoint) ignoreAck(ts int64, reason string) {
	err := errors.StaleAck(reason,
		errors.WithEndpointID(e.id),
		errors.WithMetadata("reason", reason),
		errors.WithMetadata("timestamp", strconv.FormatInt(ts, 10)))
	e.metrics.IncStaleAck(e.id, reason)
	e.log.StaleAck(ts, err)
}

func (e *Endpoint) onConnected() {
	e.mu.Lock()
	e.epoch++
	epoch := e.epoch
	e.phase = Probing
	e.backoff = 0
	e.state.stopTimer()
	e.timerSeq++
	stale := e.takeInflightLocked()
	e.mu.Unlock()

	e.abandon(stale)
	e.log.ConnState("connected", map[string]interface{}{"epoch": epoch})
	e.RunCheckup()
}

func (e *Endpoint) onDisconnected() {
	e.mu.Lock()
	wasProbing := e.phase == Probing
	e.phase = Idle
	e.backoff = 0
	e.state.stopTimer()
	e.timerSeq++
	p := e.takeInflightLocked()
	e.mu.Unlock()

	e.abandon(p)
	if wasProbing {
		e.log.ConnState("disconnected", nil)
	}
}

func (e *Endpoint) onTimer(epoch, token uint64) {
	e.mu.Lock()
	if e.phase != Probing || e.epoch != epoch || e.timerSeq != token {
		e.mu.Unlock()
		return
	}
	e.state.timer = nil
	e.mu.Unlock()

	e.RunCheckup()
}

func (e *Endpoint) onAckTimeout(seq uint64) {
	e.mu.Lock()
	p := e.inflight
	if e.phase != Probing || p == nil || p.seq != seq {
		e.mu.Unlock()
		return
	}
	e.inflight = nil
	waited := e.state.Config.AckTimeout
	delay := e.nextBackoffLocked()
	e.armLocked(delay)
	e.mu.Unlock()

	p.release()
	err := errors.AckTimeout("health check not acknowledged",
		errors.WithEndpointID(e.id),
		errors.WithMetadata("seq", strconv.FormatUint(seq, 10)),
		errors.WithMetadata("waited", waited.String()))
	e.tracer.EndCheckupSpan(p.span, telemetry.CheckupSpanOptions{Outcome: telemetry.OutcomeTimeout}, err)
	e.metrics.IncAckTimeout(e.id)
	e.record(seq, telemetry.OutcomeTimeout, 0, 0, false)
	e.log.AckTimeout(seq, waited, delay)
}

// publishFailed abandons p after the connection refused it. A retryable
// failure is retried after backoff when ack timeouts are enabled; otherwise
// the loop waits for the next "connected".
func (e *Endpoint) publishFailed(p *probe, cause error) {
	p.release()

	e.mu.Lock()
	if e.inflight != p {
		e.mu.Unlock()
		return
	}
	e.takeInflightLocked()
	var retryIn time.Duration
	if e.phase == Probing && e.state.Config.AckTimeout > 0 && errors.IsRetryable(cause) {
		retryIn = e.nextBackoffLocked()
		e.armLocked(retryIn)
	}
	e.mu.Unlock()

	err := errors.Wrap(cause, "sending health check", errors.WithEndpointID(e.id))
	e.tracer.EndCheckupSpan(p.span, telemetry.CheckupSpanOptions{Outcome: telemetry.OutcomeFailed}, err)
	e.record(p.seq, telemetry.OutcomeFailed, 0, 0, false)
	e.log.Warn("checkup_publish_failed", map[string]interface{}{
		"seq":      p.seq,
		"error":    err.Error(),
		"retry_in": retryIn.String(),
	})
}

// abandon ends the span of a probe whose connection went away.
func (e *Endpoint) abandon(p *probe) {
	if p == nil {
		return
	}
	p.release()
	e.tracer.EndCheckupSpan(p.span, telemetry.CheckupSpanOptions{Outcome: telemetry.OutcomeAbandoned}, nil)
	e.record(p.seq, telemetry.OutcomeAbandoned, 0, 0, false)
	e.log.Debug("checkup_abandoned", map[string]interface{}{"seq": p.seq})
}

func (e *Endpoint) record(seq uint64, outcome string, rtt, latency int64, changed bool) {
	e.exporter.Record(telemetry.Sample{
		EndpointID: e.id,
		Seq:        seq,
		Outcome:    outcome,
		RTT:        rtt,
		Latency:    latency,
		Changed:    changed,
		Timestamp:  e.clock.Now(),
	})
}

func (e *Endpoint) takeInflightLocked() *probe {
	p := e.inflight
	e.inflight = nil
	if p != nil && p.timeout != nil {
		p.timeout.Stop()
	}
	return p
}

// armLocked schedules RunCheckup after d, replacing any armed timer.
func (e *Endpoint) armLocked(d time.Duration) {
	e.timerSeq++
	epoch, token := e.epoch, e.timerSeq
	e.state.replaceTimer(e.clock.AfterFunc(d, func() { e.onTimer(epoch, token) }))
}

func (e *Endpoint) nextBackoffLocked() time.Duration {
	cfg := e.state.Config
	e.backoff = retryBackoff(e.backoff, cfg.BackoffBase, cfg.BackoffMax, e.rng)
	return e.backoff
}
