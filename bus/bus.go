package bus

import (
	"strings"
	"time"

	"github.com/vinayprograms/healthcheck/errors"
)

// Common errors.
var (
	ErrClosed         = errors.Closed("bus closed")
	ErrTimeout        = errors.New(errors.ErrCodeTimeout, "request timeout")
	ErrNoResponders   = errors.New(errors.ErrCodeNetworkErr, "no responders")
	ErrInvalidSubject = errors.New(errors.ErrCodeInvalidInput, "invalid subject")
)

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte

	// Reply is the reply subject for request/reply pattern.
	// Empty for regular pub/sub messages.
	Reply string
}

// MessageBus provides pub/sub and request/reply messaging.
type MessageBus interface {
	// Publish sends a message to all subscribers of a subject.
	Publish(subject string, data []byte) error

	// PublishRequest sends a message that carries a reply subject.
	PublishRequest(subject, reply string, data []byte) error

	// Subscribe creates a subscription to a subject.
	// All subscribers receive all messages.
	Subscribe(subject string) (Subscription, error)

	// Request sends a request and waits for a single reply.
	// Returns ErrTimeout if no reply within timeout.
	Request(subject string, data []byte, timeout time.Duration) (*Message, error)

	// NewInbox returns a unique subject for replies.
	NewInbox() string

	// Close shuts down the bus connection.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks if a subject is valid.
func ValidateSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	return nil
}

// EventSubject maps an event name onto a subject under namespace.
// Spaces become dashes: ("probe", "health check") -> "probe.health-check".
func EventSubject(namespace, event string) string {
	event = strings.Join(strings.Fields(event), "-")
	if namespace == "" {
		return event
	}
	return namespace + "." + event
}
