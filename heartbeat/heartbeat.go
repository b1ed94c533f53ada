package heartbeat

import (
	"encoding/json"

	"github.com/vinayprograms/healthcheck/errors"
	"github.com/vinayprograms/healthcheck/events"
)

// Event names used on the wire and locally.
const (
	// EventHealthCheck is the probe sent to the peer.
	EventHealthCheck = "health check"

	// EventLatencyChanged is published locally when the latency estimate changes.
	EventLatencyChanged = "latency changed"
)

// HealthCheck is the probe payload.
type HealthCheck struct {
	// Latency is the sender's current estimate in milliseconds.
	Latency int64 `json:"latency"`

	// Timestamp is the send time in milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

// Marshal serializes a probe to JSON.
func (h *HealthCheck) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// UnmarshalHealthCheck deserializes a probe from JSON.
func UnmarshalHealthCheck(data []byte) (*HealthCheck, error) {
	var h HealthCheck
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "decoding health check")
	}
	return &h, nil
}

// LatencyChange is the payload of EventLatencyChanged.
type LatencyChange struct {
	Latency int64 `json:"latency"`
}

// Marshal serializes a latency change to JSON.
func (l *LatencyChange) Marshal() ([]byte, error) {
	return json.Marshal(l)
}

// UnmarshalLatencyChange deserializes a latency change from JSON.
func UnmarshalLatencyChange(data []byte) (*LatencyChange, error) {
	var l LatencyChange
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "decoding latency change")
	}
	return &l, nil
}

// decodeAckTimestamp accepts the echoed timestamp either bare or as the
// single element of an argument list.
func decodeAckTimestamp(data []byte) (int64, error) {
	var ts int64
	if err := json.Unmarshal(data, &ts); err == nil {
		return ts, nil
	}
	var args []int64
	if err := json.Unmarshal(data, &args); err == nil && len(args) > 0 {
		return args[0], nil
	}
	return 0, errors.New(errors.ErrCodeInvalidInput, "ack payload is not a timestamp",
		errors.WithMetadata("payload", string(data)))
}

// Subscriber registers handlers for named events. Lifecycle events
// (events.Connected, events.Disconnected) arrive through it too.
type Subscriber interface {
	Subscribe(event string, h events.Handler) error
}

// Publisher delivers a named event to local subscribers.
type Publisher interface {
	Publish(event string, data []byte) error
}

// AckPublisher sends a named event to the peer and arranges for ack to be
// invoked with the peer's reply.
type AckPublisher interface {
	PublishWithAck(event string, data []byte, ack events.AckFunc) error
}

// AckCanceler is implemented by connections that can release the reply slot
// of an unanswered PublishWithAck. Endpoints use it when a probe is abandoned
// so silent peers do not pin inboxes or pending ack entries.
type AckCanceler interface {
	PublishWithCancelableAck(event string, data []byte, ack events.AckFunc) (events.CancelFunc, error)
}

// Conn is the capability set Augment requires.
type Conn interface {
	Subscriber
	Publisher
	AckPublisher
}

// HealthCheckable is the surface an augmented endpoint adds.
type HealthCheckable interface {
	// ResetHeartbeatState zeroes latency and RTT, cancels the pending timer
	// and restores the configuration given at augmentation.
	ResetHeartbeatState()

	// RunCheckup sends one probe carrying the current latency and send time.
	RunCheckup()

	// OnCheckupAck processes the echoed send time of the outstanding probe.
	OnCheckupAck(timestamp int64)
}

// Phase is the heartbeat loop state.
type Phase int

const (
	// Idle means the connection is down and no timer is armed.
	Idle Phase = iota
	// Probing means the connection is up and the loop is running.
	Probing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Probing:
		return "probing"
	default:
		return "unknown"
	}
}
