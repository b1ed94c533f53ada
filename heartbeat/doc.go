// Package heartbeat measures connection latency with acknowledged probes.
//
// # Overview
//
// Augment attaches a heartbeat loop to an event-addressable connection.
// While the connection is up the endpoint sends a "health check" probe,
// waits for the peer to acknowledge it, derives the round trip time and
// schedules the next probe one interval later. The reported latency is the
// last round trip time. Whenever it changes the endpoint publishes
// "latency changed" to its own local subscribers.
//
// # Protocol
//
//	┌─────────────┐  health check {latency, timestamp}  ┌─────────────┐
//	│  Endpoint   │ ──────────────────────────────────> │  Responder  │
//	│  (prober)   │ <────────────────────────────────── │   (peer)    │
//	└─────────────┘          ack(timestamp)             └─────────────┘
//
// The probe carries the prober's latency estimate so the peer learns it
// too, and the send time in milliseconds since the Unix epoch. The peer
// echoes the timestamp unchanged.
//
// # Usage
//
// Probing side:
//
//	ep, err := heartbeat.Augment(conn, heartbeat.WithInterval(2*time.Second))
//	if err != nil {
//	    return err
//	}
//	ep.OnLatencyChanged(func(ms int64) {
//	    log.Printf("latency now %dms", ms)
//	})
//
// Answering side:
//
//	heartbeat.NewResponder(nil).Serve(conn)
//
// # Lifecycle
//
// The loop starts on "connected" and stops on "disconnected". At most one
// probe is outstanding and at most one timer is armed. Acknowledgements
// that belong to an earlier connection or an abandoned probe are ignored.
//
// With WithAckTimeout set, a probe that is not acknowledged in time is
// abandoned and retried after a jittered, capped exponential backoff.
// Connections implementing AckCanceler get the reply slot of every
// abandoned probe back, so a silent peer does not pin resources.
package heartbeat
