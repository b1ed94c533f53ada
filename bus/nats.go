package bus

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/healthcheck/errors"
	"github.com/vinayprograms/healthcheck/logging"
)

// NATSBus implements MessageBus using NATS.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config // Embed base config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration

	// OnDisconnect and OnReconnect run when the server link drops and
	// comes back. Conn.Close and Conn.Open fit here.
	OnDisconnect func()
	OnReconnect  func()

	// Logger defaults to a stdout logger.
	Logger *logging.Logger
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // Unlimited
		ConnectTimeout: 5 * time.Second,
	}
}

// NewNATSBus creates a new NATS message bus.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats connect",
			errors.WithMetadata("url", cfg.URL))
	}

	return &NATSBus{
		conn:   conn,
		config: cfg,
	}, nil
}

// NewNATSBusFromConn creates a NATSBus from an existing connection.
// Connection hooks in cfg are not installed.
func NewNATSBusFromConn(conn *nats.Conn, cfg NATSConfig) *NATSBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &NATSBus{
		conn:   conn,
		config: cfg,
	}
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	log := cfg.Logger.WithComponent("bus")

	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			fields := map[string]interface{}{"url": cfg.URL}
			if err != nil {
				fields["error"] = err.Error()
			}
			log.ConnState("disconnected", fields)
			if cfg.OnDisconnect != nil {
				cfg.OnDisconnect()
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.ConnState("reconnected", map[string]interface{}{"url": c.ConnectedUrl()})
			if cfg.OnReconnect != nil {
				cfg.OnReconnect()
			}
		}),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

// Publish sends a message to a subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.PublishRequest(subject, "", data)
}

// PublishRequest sends a message carrying a reply subject.
func (b *NATSBus) PublishRequest(subject, reply string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}

	if err := b.conn.PublishRequest(subject, reply, data); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats publish",
			errors.WithMetadata("subject", subject))
	}

	return nil
}

// Subscribe creates a subscription to a subject.
func (b *NATSBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	s := &natsSubscription{ch: make(chan *Message, b.config.BufferSize)}

	natsSub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		s.deliver(&Message{
			Subject: m.Subject,
			Data:    m.Data,
			Reply:   m.Reply,
		})
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats subscribe",
			errors.WithMetadata("subject", subject))
	}
	s.sub = natsSub

	return s, nil
}

// Request sends a request and waits for reply.
func (b *NATSBus) Request(subject string, data []byte, timeout time.Duration) (*Message, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	reply, err := b.conn.Request(subject, data, timeout)
	if err != nil {
		if err == nats.ErrTimeout {
			return nil, ErrTimeout
		}
		if err == nats.ErrNoResponders {
			return nil, ErrNoResponders
		}
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats request",
			errors.WithMetadata("subject", subject))
	}

	return &Message{
		Subject: reply.Subject,
		Data:    reply.Data,
		Reply:   reply.Reply,
	}, nil
}

// NewInbox returns a unique reply subject.
func (b *NATSBus) NewInbox() string {
	return nats.NewInbox()
}

// Close shuts down the NATS connection.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection for advanced use.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// natsSubscription wraps a NATS subscription. The NATS callback may still
// be running when Unsubscribe returns, so delivery and close share a lock.
type natsSubscription struct {
	sub *nats.Subscription

	mu     sync.Mutex
	closed bool
	ch     chan *Message
}

func (s *natsSubscription) deliver(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
		// Buffer full
	}
}

// Messages returns the message channel.
func (s *natsSubscription) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats unsubscribe")
	}
	return nil
}
