// Package transport carries named events with acknowledgements over WebSocket.
//
// # Frames
//
// Every WebSocket text message is one JSON frame:
//
//	{"type":"event","event":"health check","id":7,"data":{"latency":12,"timestamp":1700000000123}}
//	{"type":"ack","id":7,"data":1700000000123}
//	{"type":"error","error":{"code":"MALFORMED_FRAME","message":"..."}}
//
// An event frame with a non-zero id asks the receiver for an ack frame
// carrying the same id. Data is any JSON value.
//
// # Connections
//
// WebSocketConn wraps one established connection. Client redials after the
// connection drops and keeps its subscriptions across reconnects. Both fire
// events.Connected and events.Disconnected to local subscribers, which is
// what the heartbeat loop listens to.
//
//	conn, err := transport.Dial(ctx, "ws://localhost:8080/ws", transport.DefaultWebSocketConfig())
//	ep, err := heartbeat.Augment(conn)
//	go conn.Run(ctx)
package transport
