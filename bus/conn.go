package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vinayprograms/healthcheck/errors"
	"github.com/vinayprograms/healthcheck/events"
	"github.com/vinayprograms/healthcheck/logging"
)

// ConnConfig configures an event connection over a MessageBus.
type ConnConfig struct {
	// Namespace prefixes the subjects this side listens on.
	Namespace string

	// Peer prefixes the subjects events are sent to. Defaults to Namespace.
	Peer string

	// Logger defaults to a stdout logger.
	Logger *logging.Logger
}

// Conn is an event connection between two namespaces on a bus. Remote
// events arrive on "<Namespace>.<event>" and are sent to "<Peer>.<event>";
// acks travel over per-request inbox subjects.
//
// Open and Close fire events.Connected and events.Disconnected. Acks still
// pending at Close are dropped.
type Conn struct {
	id      string
	bus     MessageBus
	config  ConnConfig
	emitter *events.Emitter
	log     *logging.Logger

	mu      sync.Mutex
	open    bool
	events  map[string]struct{}
	subs    map[string]Subscription
	inboxes map[string]Subscription
}

// NewConn creates a closed connection. Call Open to start receiving.
func NewConn(b MessageBus, cfg ConnConfig) *Conn {
	if cfg.Peer == "" {
		cfg.Peer = cfg.Namespace
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	id := uuid.NewString()

	return &Conn{
		id:      id,
		bus:     b,
		config:  cfg,
		emitter: events.NewEmitter(),
		log:     cfg.Logger.WithComponent("bus").WithTraceID(id),
		events:  make(map[string]struct{}),
		subs:    make(map[string]Subscription),
		inboxes: make(map[string]Subscription),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Connected reports whether the connection is open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Subscribe registers a handler. Lifecycle events are local only; any
// other event is also received from the peer.
func (c *Conn) Subscribe(event string, h events.Handler) error {
	if h == nil {
		return errors.New(errors.ErrCodeInvalidInput, "nil handler")
	}
	if event == events.Connected || event == events.Disconnected {
		c.emitter.On(event, h)
		return nil
	}
	if err := ValidateSubject(EventSubject(c.config.Namespace, event)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.events[event] = struct{}{}
	if c.open {
		if _, ok := c.subs[event]; !ok {
			if err := c.listenLocked(event); err != nil {
				return err
			}
		}
	}
	c.emitter.On(event, h)
	return nil
}

// Publish delivers an event to local subscribers only.
func (c *Conn) Publish(event string, data []byte) error {
	c.emitter.Emit(event, data, nil)
	return nil
}

// Emit sends an event to the peer without requesting an ack.
func (c *Conn) Emit(event string, data []byte) error {
	if !c.Connected() {
		return errors.Closed("bus connection not open")
	}
	return c.bus.Publish(EventSubject(c.config.Peer, event), data)
}

// PublishWithAck sends an event to the peer. ack runs with the peer's reply
// unless the connection closes first.
func (c *Conn) PublishWithAck(event string, data []byte, ack events.AckFunc) error {
	_, err := c.PublishWithCancelableAck(event, data, ack)
	return err
}

// PublishWithCancelableAck is PublishWithAck returning a CancelFunc that
// drops the reply inbox when the reply is no longer wanted.
func (c *Conn) PublishWithCancelableAck(event string, data []byte, ack events.AckFunc) (events.CancelFunc, error) {
	if ack == nil {
		return func() {}, c.Emit(event, data)
	}

	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil, errors.Closed("bus connection not open")
	}
	inbox := c.bus.NewInbox()
	sub, err := c.bus.Subscribe(inbox)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.inboxes[inbox] = sub
	c.mu.Unlock()

	go c.awaitAck(inbox, sub, ack)

	cancel := func() { c.dropInbox(inbox) }
	if err := c.bus.PublishRequest(EventSubject(c.config.Peer, event), inbox, data); err != nil {
		cancel()
		return nil, err
	}
	return cancel, nil
}

// pendingAcks reports how many reply inboxes are open.
func (c *Conn) pendingAcks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inboxes)
}

// Open subscribes every registered event and fires events.Connected.
// Opening an open connection is a no-op.
func (c *Conn) Open() error {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return nil
	}
	for event := range c.events {
		if err := c.listenLocked(event); err != nil {
			subs := c.subs
			c.subs = make(map[string]Subscription)
			c.mu.Unlock()
			unsubscribeAll(subs)
			return err
		}
	}
	c.open = true
	c.mu.Unlock()

	c.log.ConnState("connected", map[string]interface{}{
		"namespace": c.config.Namespace,
		"peer":      c.config.Peer,
	})
	c.emitter.Emit(events.Connected, nil, nil)
	return nil
}

// Close stops receiving, drops pending acks and fires events.Disconnected.
// The bus stays open; the connection can be opened again.
func (c *Conn) Close() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	subs, inboxes := c.subs, c.inboxes
	c.subs = make(map[string]Subscription)
	c.inboxes = make(map[string]Subscription)
	c.mu.Unlock()

	unsubscribeAll(subs)
	unsubscribeAll(inboxes)

	c.log.ConnState("disconnected", map[string]interface{}{"dropped_acks": len(inboxes)})
	c.emitter.Emit(events.Disconnected, nil, nil)
	return nil
}

// listenLocked subscribes to one event's subject. Caller holds c.mu.
func (c *Conn) listenLocked(event string) error {
	sub, err := c.bus.Subscribe(EventSubject(c.config.Namespace, event))
	if err != nil {
		return err
	}
	c.subs[event] = sub
	go c.pump(event, sub)
	return nil
}

// pump dispatches messages from sub until it is unsubscribed. Messages
// still buffered after Close are discarded.
func (c *Conn) pump(event string, sub Subscription) {
	for msg := range sub.Messages() {
		if !c.listening(event, sub) {
			continue
		}
		var ack events.AckFunc
		if msg.Reply != "" {
			ack = c.replier(msg.Reply)
		}
		if n := c.emitter.Emit(event, msg.Data, ack); n == 0 {
			c.log.Debug("event_unhandled", map[string]interface{}{"event": event})
		}
	}
}

func (c *Conn) listening(event string, sub Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && c.subs[event] == sub
}

// replier returns an ack func that answers on reply at most once.
func (c *Conn) replier(reply string) events.AckFunc {
	var once sync.Once
	return func(resp []byte) {
		once.Do(func() {
			if err := c.bus.Publish(reply, resp); err != nil {
				c.log.Debug("ack_not_sent", map[string]interface{}{"reply": reply, "error": err.Error()})
			}
		})
	}
}

func (c *Conn) awaitAck(inbox string, sub Subscription, ack events.AckFunc) {
	msg, ok := <-sub.Messages()
	if !ok {
		return
	}

	c.mu.Lock()
	_, pending := c.inboxes[inbox]
	delete(c.inboxes, inbox)
	c.mu.Unlock()

	sub.Unsubscribe()
	if pending {
		ack(msg.Data)
	}
}

func (c *Conn) dropInbox(inbox string) {
	c.mu.Lock()
	sub, ok := c.inboxes[inbox]
	delete(c.inboxes, inbox)
	c.mu.Unlock()

	if ok {
		sub.Unsubscribe()
	}
}

func unsubscribeAll(subs map[string]Subscription) {
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
