// Package bus provides message bus clients and an event connection on top
// of them.
//
// # Overview
//
// The MessageBus interface enables pub/sub and request/reply patterns.
// All implementations use channel-based APIs for Go-idiomatic concurrent use.
//
// # Available Implementations
//
//   - NATSBus: Production-grade messaging using NATS
//   - MemoryBus: In-memory implementation for testing and single-process use
//
// # Patterns
//
// Pub/Sub - broadcast to all subscribers:
//
//	bus.Publish("probe.health-check", data)
//	sub, _ := bus.Subscribe("probe.health-check")
//	for msg := range sub.Messages() {
//	    // Handle message
//	}
//
// Request/Reply - synchronous RPC:
//
//	// Responder
//	sub, _ := bus.Subscribe("service")
//	for msg := range sub.Messages() {
//	    bus.Publish(msg.Reply, response)
//	}
//
//	// Requester
//	reply, _ := bus.Request("service", data, timeout)
//
// # Event connections
//
// Conn turns a bus into a connection a heartbeat endpoint can be attached
// to. Two sides use swapped Namespace and Peer:
//
//	monitor := bus.NewConn(b, bus.ConnConfig{Namespace: "monitor", Peer: "agent-1"})
//	agent := bus.NewConn(b, bus.ConnConfig{Namespace: "agent-1", Peer: "monitor"})
//
//	heartbeat.NewResponder(nil).Serve(agent)
//	ep, _ := heartbeat.Augment(monitor)
//	agent.Open()
//	monitor.Open() // fires "connected", probing starts
//
// Acknowledged events are sent with a reply inbox; the peer's ack is
// published to it. Wire NATSConfig.OnDisconnect and OnReconnect to
// Conn.Close and Conn.Open so server outages show up as lifecycle events.
package bus
