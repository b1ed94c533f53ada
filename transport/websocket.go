package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vinayprograms/healthcheck/errors"
	"github.com/vinayprograms/healthcheck/events"
	"github.com/vinayprograms/healthcheck/logging"
)

// WebSocketConn carries events over one WebSocket connection.
type WebSocketConn struct {
	id      string
	conn    *websocket.Conn
	config  WebSocketConfig
	emitter *events.Emitter
	log     *logging.Logger

	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	connected bool
	nextAck   uint64
	pending   map[uint64]events.AckFunc
}

// WebSocketConfig holds WebSocket transport configuration.
type WebSocketConfig struct {
	Config // Embed base config

	// WriteTimeout for write operations.
	WriteTimeout time.Duration

	// ReadTimeout for read operations (0 = no timeout). Pongs extend it.
	ReadTimeout time.Duration

	// MaxMessageSize limits incoming message size.
	MaxMessageSize int64

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration

	// ReconnectWait is the delay between Client dial attempts.
	ReconnectWait time.Duration

	// Logger defaults to a stdout logger.
	Logger *logging.Logger
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Config:         DefaultConfig(),
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    0,
		MaxMessageSize: 1024 * 1024, // 1MB
		PingInterval:   30 * time.Second,
		ReconnectWait:  time.Second,
	}
}

func (c *WebSocketConfig) applyDefaults() {
	def := DefaultWebSocketConfig()
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = def.SendBufferSize
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = def.ReconnectWait
	}
	if c.Logger == nil {
		c.Logger = logging.New()
	}
}

// NewWebSocketConn wraps an established connection. Call Run to start it.
func NewWebSocketConn(conn *websocket.Conn, cfg WebSocketConfig) *WebSocketConn {
	return newWebSocketConn(conn, cfg, events.NewEmitter())
}

func newWebSocketConn(conn *websocket.Conn, cfg WebSocketConfig, emitter *events.Emitter) *WebSocketConn {
	cfg.applyDefaults()
	conn.SetReadLimit(cfg.MaxMessageSize)

	id := uuid.NewString()
	return &WebSocketConn{
		id:      id,
		conn:    conn,
		config:  cfg,
		emitter: emitter,
		log:     cfg.Logger.WithComponent("transport").WithTraceID(id),
		send:    make(chan []byte, cfg.SendBufferSize),
		done:    make(chan struct{}),
		pending: make(map[uint64]events.AckFunc),
	}
}

// Dial connects to a WebSocket server.
func Dial(ctx context.Context, url string, cfg WebSocketConfig) (*WebSocketConn, error) {
	conn, err := dialConn(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewWebSocketConn(conn, cfg), nil
}

func dialConn(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "dialing "+url)
	}
	return conn, nil
}

// NewWebSocketUpgrader creates an upgrader for accepting WebSocket connections.
func NewWebSocketUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true }, // Override in production
	}
}

// Accept upgrades an HTTP request. A nil upgrader uses NewWebSocketUpgrader.
func Accept(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, cfg WebSocketConfig) (*WebSocketConn, error) {
	if upgrader == nil {
		upgrader = NewWebSocketUpgrader()
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "upgrading connection")
	}
	return NewWebSocketConn(conn, cfg), nil
}

// ID returns the connection id.
func (t *WebSocketConn) ID() string {
	return t.id
}

// Connected reports whether Run is active and the connection is open.
func (t *WebSocketConn) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && !t.closed
}

// Subscribe registers a handler for remote events and local publishes.
func (t *WebSocketConn) Subscribe(event string, h events.Handler) error {
	if h == nil {
		return errors.New(errors.ErrCodeInvalidInput, "nil handler")
	}
	t.emitter.On(event, h)
	return nil
}

// Publish delivers an event to local subscribers only.
func (t *WebSocketConn) Publish(event string, data []byte) error {
	t.emitter.Emit(event, data, nil)
	return nil
}

// Emit sends an event to the peer without requesting an ack.
func (t *WebSocketConn) Emit(event string, data []byte) error {
	if err := checkPayload(data); err != nil {
		return err
	}
	if !t.Connected() {
		return errors.Closed("websocket not connected")
	}
	return t.enqueue(&Frame{Type: FrameEvent, Event: event, Data: data})
}

// PublishWithAck sends an event to the peer. ack runs with the peer's reply
// unless the connection drops first.
func (t *WebSocketConn) PublishWithAck(event string, data []byte, ack events.AckFunc) error {
	_, err := t.PublishWithCancelableAck(event, data, ack)
	return err
}

// PublishWithCancelableAck is PublishWithAck returning a CancelFunc that
// frees the pending ack slot when the reply is no longer wanted.
func (t *WebSocketConn) PublishWithCancelableAck(event string, data []byte, ack events.AckFunc) (events.CancelFunc, error) {
	if ack == nil {
		return func() {}, t.Emit(event, data)
	}
	if err := checkPayload(data); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if !t.connected || t.closed {
		t.mu.Unlock()
		return nil, errors.Closed("websocket not connected")
	}
	t.nextAck++
	id := t.nextAck
	t.pending[id] = ack
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}
	if err := t.enqueue(&Frame{Type: FrameEvent, Event: event, ID: id, Data: data}); err != nil {
		cancel()
		return nil, err
	}
	return cancel, nil
}

// pendingAcks reports how many acks are awaited.
func (t *WebSocketConn) pendingAcks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Run starts the connection, blocking until ctx is cancelled or the peer
// goes away. It fires events.Connected once the loops are up and
// events.Disconnected on the way out; acks still pending are dropped.
func (t *WebSocketConn) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.Closed("websocket already closed")
	}
	t.connected = true
	t.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.writeLoop()
	}()

	t.log.ConnState("connected", map[string]interface{}{"remote": t.conn.RemoteAddr().String()})
	t.emitter.Emit(events.Connected, nil, nil)

	readErr := make(chan error, 1)
	go func() {
		readErr <- t.readLoop()
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
		t.Close()
		<-readErr
	case rerr := <-readErr:
		if rerr != nil {
			err = errors.WrapWithCode(rerr, errors.ErrCodeNetworkErr, "websocket read")
		}
		t.Close()
	}
	wg.Wait()

	t.mu.Lock()
	t.connected = false
	dropped := len(t.pending)
	t.pending = make(map[uint64]events.AckFunc)
	t.mu.Unlock()

	t.log.ConnState("disconnected", map[string]interface{}{"dropped_acks": dropped})
	t.emitter.Emit(events.Disconnected, nil, nil)

	return err
}

// Close initiates graceful shutdown.
func (t *WebSocketConn) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	// Send close message
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	return t.conn.Close()
}

// readLoop dispatches frames until the connection fails. A normal close
// returns nil.
func (t *WebSocketConn) readLoop() error {
	if t.config.ReadTimeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		t.conn.SetPongHandler(func(string) error {
			return t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		})
	}

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if t.config.ReadTimeout > 0 {
			t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		}

		frame, parseErr := ParseFrame(data)
		if parseErr != nil {
			t.sendError(parseErr)
			continue
		}
		t.dispatch(frame)
	}
}

func (t *WebSocketConn) dispatch(f *Frame) {
	switch f.Type {
	case FrameEvent:
		if f.Event == events.Connected || f.Event == events.Disconnected {
			t.sendError(errors.New(errors.ErrCodeInvalidInput, "lifecycle events cannot be sent by the peer",
				errors.WithMetadata("event", f.Event)))
			return
		}
		var ack events.AckFunc
		if f.ID != 0 {
			ack = t.replier(f.ID)
		}
		if n := t.emitter.Emit(f.Event, f.Data, ack); n == 0 {
			t.log.Debug("event_unhandled", map[string]interface{}{"event": f.Event})
		}

	case FrameAck:
		t.mu.Lock()
		cb, ok := t.pending[f.ID]
		delete(t.pending, f.ID)
		t.mu.Unlock()
		if !ok {
			t.log.Debug("ack_unknown", map[string]interface{}{"id": f.ID})
			return
		}
		cb(f.Data)

	case FrameError:
		t.log.Warn("peer_error", map[string]interface{}{
			"code":    string(f.Error.Code()),
			"message": f.Error.Error(),
		})
	}
}

// replier returns an ack func that answers frame id at most once.
func (t *WebSocketConn) replier(id uint64) events.AckFunc {
	var once sync.Once
	return func(resp []byte) {
		once.Do(func() {
			if err := checkPayload(resp); err != nil {
				t.log.Warn("ack_payload_invalid", map[string]interface{}{"id": id})
				return
			}
			if err := t.enqueue(&Frame{Type: FrameAck, ID: id, Data: resp}); err != nil {
				t.log.Debug("ack_not_sent", map[string]interface{}{"id": id, "error": err.Error()})
			}
		})
	}
}

func (t *WebSocketConn) sendError(err error) {
	code := errors.Code(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	coded := errors.New(code, err.Error(), errors.WithEndpointID(t.id))
	t.log.Debug("frame_rejected", map[string]interface{}{"error": err.Error()})
	t.enqueue(&Frame{Type: FrameError, Error: coded})
}

// enqueue hands a frame to the writer.
func (t *WebSocketConn) enqueue(f *Frame) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}

	var timeout <-chan time.Time
	if t.config.SendTimeout > 0 {
		timer := time.NewTimer(t.config.SendTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return errors.Closed("websocket closed")
	case <-timeout:
		return errors.FromCode(errors.ErrCodeQueueFull)
	}
}

// writeLoop writes queued frames and keepalive pings until Close.
func (t *WebSocketConn) writeLoop() {
	ticker := t.createPingTicker()
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writePing()
		case data := <-t.send:
			if err := t.writeMessage(data); err != nil {
				t.log.Warn("write_failed", map[string]interface{}{"error": err.Error()})
				t.Close()
				return
			}
		}
	}
}

// createPingTicker creates a ticker for keepalive pings.
func (t *WebSocketConn) createPingTicker() *time.Ticker {
	if t.config.PingInterval > 0 {
		return time.NewTicker(t.config.PingInterval)
	}
	// Return a ticker that never fires
	ticker := time.NewTicker(time.Hour)
	ticker.Stop()
	return ticker
}

// writePing sends a WebSocket ping frame.
func (t *WebSocketConn) writePing() {
	if t.isClosed() {
		return
	}
	t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
}

// writeMessage writes a single frame.
func (t *WebSocketConn) writeMessage(data []byte) error {
	if t.config.WriteTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocketConn) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
