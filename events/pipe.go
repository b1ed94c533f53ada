package events

import (
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/healthcheck/errors"
)

// PipeConn is one end of an in-memory connection created by Pipe.
// Remote events are delivered synchronously on the sender's goroutine.
// Useful for tests and single-process setups.
type PipeConn struct {
	name    string
	emitter *Emitter
	peer    *PipeConn
	link    *pipeLink
}

type pipeLink struct {
	mu         sync.Mutex
	connected  bool
	generation uint64
}

// Pipe returns two connected ends. Neither end is connected until Connect is called.
func Pipe() (*PipeConn, *PipeConn) {
	link := &pipeLink{}
	a := &PipeConn{name: "a", emitter: NewEmitter(), link: link}
	b := &PipeConn{name: "b", emitter: NewEmitter(), link: link}
	a.peer, b.peer = b, a
	return a, b
}

// Subscribe registers a handler for remote events, local publishes and
// lifecycle events.
func (c *PipeConn) Subscribe(event string, h Handler) error {
	if h == nil {
		return errors.New(errors.ErrCodeInvalidInput, "nil handler")
	}
	c.emitter.On(event, h)
	return nil
}

// Publish delivers an event to local handlers only.
func (c *PipeConn) Publish(event string, data []byte) error {
	c.emitter.Emit(event, data, nil)
	return nil
}

// Emit sends an event to the peer without requesting an acknowledgement.
func (c *PipeConn) Emit(event string, data []byte) error {
	if _, ok := c.link.current(); !ok {
		return errors.Closed("pipe not connected")
	}
	c.peer.emitter.Emit(event, data, nil)
	return nil
}

// PublishWithAck sends an event to the peer. The peer's ack reaches ack only
// if the pipe has not been disconnected in between.
func (c *PipeConn) PublishWithAck(event string, data []byte, ack AckFunc) error {
	_, err := c.PublishWithCancelableAck(event, data, ack)
	return err
}

// PublishWithCancelableAck is PublishWithAck returning a CancelFunc that
// drops the peer's reply if it has not arrived yet.
func (c *PipeConn) PublishWithCancelableAck(event string, data []byte, ack AckFunc) (CancelFunc, error) {
	gen, ok := c.link.current()
	if !ok {
		return nil, errors.Closed("pipe not connected")
	}

	// done is set by the first reply or by cancel, whichever comes first.
	var done atomic.Bool
	reply := func(resp []byte) {
		if !done.CompareAndSwap(false, true) {
			return
		}
		if g, ok := c.link.current(); !ok || g != gen {
			return
		}
		if ack != nil {
			ack(resp)
		}
	}

	c.peer.emitter.Emit(event, data, reply)
	return func() { done.Store(true) }, nil
}

// Connect marks the pipe connected and fires Connected on both ends.
func (c *PipeConn) Connect() {
	c.link.mu.Lock()
	if c.link.connected {
		c.link.mu.Unlock()
		return
	}
	c.link.connected = true
	c.link.generation++
	c.link.mu.Unlock()

	c.emitter.Emit(Connected, nil, nil)
	c.peer.emitter.Emit(Connected, nil, nil)
}

// Disconnect marks the pipe disconnected and fires Disconnected on both ends.
func (c *PipeConn) Disconnect() {
	c.link.mu.Lock()
	if !c.link.connected {
		c.link.mu.Unlock()
		return
	}
	c.link.connected = false
	c.link.mu.Unlock()

	c.emitter.Emit(Disconnected, nil, nil)
	c.peer.emitter.Emit(Disconnected, nil, nil)
}

// Connected reports whether the pipe is currently connected.
func (c *PipeConn) Connected() bool {
	_, ok := c.link.current()
	return ok
}

func (l *pipeLink) current() (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation, l.connected
}
