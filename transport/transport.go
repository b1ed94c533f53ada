package transport

import (
	"encoding/json"
	"time"

	"github.com/vinayprograms/healthcheck/errors"
)

// FrameType distinguishes frames on the wire.
type FrameType string

const (
	FrameEvent FrameType = "event"
	FrameAck   FrameType = "ack"
	FrameError FrameType = "error"
)

// Frame is one message on the wire.
type Frame struct {
	Type  FrameType       `json:"type"`
	Event string          `json:"event,omitempty"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *errors.Error   `json:"error,omitempty"`
}

// ParseFrame decodes and validates a frame. Failures carry MALFORMED_FRAME.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeMalformedFrame, "frame is not valid JSON")
	}

	switch f.Type {
	case FrameEvent:
		if f.Event == "" {
			return nil, errors.MalformedFrame("event frame without event name")
		}
	case FrameAck:
		if f.ID == 0 {
			return nil, errors.MalformedFrame("ack frame without id")
		}
	case FrameError:
		if f.Error == nil {
			return nil, errors.MalformedFrame("error frame without error")
		}
	default:
		return nil, errors.MalformedFrame("unknown frame type",
			errors.WithMetadata("type", string(f.Type)))
	}

	return &f, nil
}

// Marshal serializes the frame to JSON.
func (f *Frame) Marshal() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "encoding frame")
	}
	return data, nil
}

// Config holds common transport configuration.
type Config struct {
	// SendBufferSize is the size of the outbound frame queue.
	// Default: 100
	SendBufferSize int

	// SendTimeout bounds how long a send waits for queue space
	// before failing with QUEUE_FULL (0 = wait until closed).
	// Default: 5s
	SendTimeout time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendBufferSize: 100,
		SendTimeout:    5 * time.Second,
	}
}

// checkPayload rejects data that cannot ride in a frame's data field.
func checkPayload(data []byte) error {
	if len(data) > 0 && !json.Valid(data) {
		return errors.New(errors.ErrCodeInvalidInput, "payload must be JSON")
	}
	return nil
}
