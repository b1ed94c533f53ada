package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryBus implements MessageBus using in-memory channels.
// Useful for testing and single-process scenarios.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed atomic.Bool
}

type memorySub struct {
	subject string
	ch      chan *Message
	closed  atomic.Bool
	bus     *MemoryBus
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &MemoryBus{
		config: cfg,
		subs:   make(map[string][]*memorySub),
	}
}

// Publish sends a message to all subscribers.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	return b.PublishRequest(subject, "", data)
}

// PublishRequest sends a message carrying a reply subject.
func (b *MemoryBus) PublishRequest(subject, reply string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.deliver(subject, &Message{
		Subject: subject,
		Data:    data,
		Reply:   reply,
	})
	return nil
}

// deliver sends to all subscribers of subject.
func (b *MemoryBus) deliver(subject string, msg *Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[subject] {
		if !sub.closed.Load() {
			select {
			case sub.ch <- msg:
			default:
				// Buffer full, drop message
			}
		}
	}
}

// Subscribe creates a subscription to a subject.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		subject: subject,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}

	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.mu.Unlock()

	return sub, nil
}

// Request sends a request and waits for reply.
func (b *MemoryBus) Request(subject string, data []byte, timeout time.Duration) (*Message, error) {
	inbox := b.NewInbox()
	sub, err := b.Subscribe(inbox)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if !b.hasSubscribers(subject) {
		return nil, ErrNoResponders
	}
	if err := b.PublishRequest(subject, inbox, data); err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-sub.Messages():
		if !ok {
			return nil, ErrClosed
		}
		return reply, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// NewInbox generates a unique reply subject.
func (b *MemoryBus) NewInbox() string {
	return "_INBOX." + uuid.NewString()
}

func (b *MemoryBus) hasSubscribers(subject string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[subject]) > 0
}

// Close shuts down the bus.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Close all subscriptions
	for _, subs := range b.subs {
		for _, sub := range subs {
			if !sub.closed.Swap(true) {
				close(sub.ch)
			}
		}
	}
	b.subs = nil

	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}
	s.bus.removeSub(s.subject, s)
	close(s.ch)
	return nil
}

// removeSub removes a subscription. Caller holds b.mu.
func (b *MemoryBus) removeSub(subject string, target *memorySub) {
	subs := b.subs[subject]
	for i, sub := range subs {
		if sub == target {
			b.subs[subject] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[subject]) == 0 {
		delete(b.subs, subject)
	}
}
