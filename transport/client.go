package transport

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/healthcheck/errors"
	"github.com/vinayprograms/healthcheck/events"
	"github.com/vinayprograms/healthcheck/logging"
)

// Client keeps a WebSocket connection to url open, redialing after it
// drops. Subscriptions survive reconnects, so a heartbeat endpoint
// augmented once sees a "connected"/"disconnected" pair per connection.
type Client struct {
	url     string
	config  WebSocketConfig
	emitter *events.Emitter
	log     *logging.Logger

	mu      sync.Mutex
	current *WebSocketConn
	dials   int
}

// NewClient creates a client. Call Run to connect.
func NewClient(url string, cfg WebSocketConfig) *Client {
	cfg.applyDefaults()
	return &Client{
		url:     url,
		config:  cfg,
		emitter: events.NewEmitter(),
		log:     cfg.Logger.WithComponent("transport-client"),
	}
}

// Subscribe registers a handler on every current and future connection.
func (c *Client) Subscribe(event string, h events.Handler) error {
	if h == nil {
		return errors.New(errors.ErrCodeInvalidInput, "nil handler")
	}
	c.emitter.On(event, h)
	return nil
}

// Publish delivers an event to local subscribers only.
func (c *Client) Publish(event string, data []byte) error {
	c.emitter.Emit(event, data, nil)
	return nil
}

// Emit sends an event over the current connection.
func (c *Client) Emit(event string, data []byte) error {
	conn := c.conn()
	if conn == nil {
		return errors.Closed("client not connected")
	}
	return conn.Emit(event, data)
}

// PublishWithAck sends an event over the current connection.
func (c *Client) PublishWithAck(event string, data []byte, ack events.AckFunc) error {
	conn := c.conn()
	if conn == nil {
		return errors.Closed("client not connected")
	}
	return conn.PublishWithAck(event, data, ack)
}

// PublishWithCancelableAck sends an event over the current connection and
// returns a CancelFunc that frees its ack slot.
func (c *Client) PublishWithCancelableAck(event string, data []byte, ack events.AckFunc) (events.CancelFunc, error) {
	conn := c.conn()
	if conn == nil {
		return nil, errors.Closed("client not connected")
	}
	return conn.PublishWithCancelableAck(event, data, ack)
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	conn := c.conn()
	return conn != nil && conn.Connected()
}

// Dials returns how many connections have been established.
func (c *Client) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// Run dials and serves connections until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn("dial_failed", map[string]interface{}{
				"url":      c.url,
				"error":    err.Error(),
				"retry_in": c.config.ReconnectWait.String(),
			})
		} else {
			c.setConn(conn)
			if err := conn.Run(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("connection_lost", map[string]interface{}{"error": err.Error()})
			}
			c.setConn(nil)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.ReconnectWait):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*WebSocketConn, error) {
	ws, err := dialConn(ctx, c.url)
	if err != nil {
		return nil, err
	}
	return newWebSocketConn(ws, c.config, c.emitter), nil
}

func (c *Client) conn() *WebSocketConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Client) setConn(conn *WebSocketConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = conn
	if conn != nil {
		c.dials++
	}
}
