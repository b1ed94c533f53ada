// Package events provides the event dispatch primitives shared by every
// connection type: handler signatures, lifecycle event names, a thread-safe
// Emitter and an in-memory connected Pipe.
//
// A handler receives the raw payload and, when the sender asked for an
// acknowledgement, a non-nil AckFunc to answer with:
//
//	conn.Subscribe("health check", func(data []byte, ack events.AckFunc) {
//	    if ack != nil {
//	        ack(echo)
//	    }
//	})
package events

import (
	"sync"
)

// Lifecycle events fired by connections.
const (
	Connected    = "connected"
	Disconnected = "disconnected"
)

// AckFunc answers an event that requested an acknowledgement.
type AckFunc func(data []byte)

// Handler processes one event. ack is nil when no acknowledgement was requested.
type Handler func(data []byte, ack AckFunc)

// CancelFunc gives up on an acknowledgement and releases what the connection
// holds for it. A late reply is dropped. Calling it again, or after the ack
// ran, does nothing.
type CancelFunc func()

// Emitter dispatches events to registered handlers.
// Handlers run synchronously on the emitting goroutine, in registration order.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]*registration
	nextID   uint64
}

type registration struct {
	id uint64
	h  Handler
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		handlers: make(map[string][]*registration),
	}
}

// On registers a handler and returns a function that removes it.
func (e *Emitter) On(event string, h Handler) (off func()) {
	e.mu.Lock()
	e.nextID++
	reg := &registration{id: e.nextID, h: h}
	e.handlers[event] = append(e.handlers[event], reg)
	e.mu.Unlock()

	return func() { e.off(event, reg.id) }
}

func (e *Emitter) off(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.handlers[event]
	for i, r := range regs {
		if r.id == id {
			e.handlers[event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(e.handlers[event]) == 0 {
		delete(e.handlers, event)
	}
}

// Emit calls every handler registered for event and reports how many ran.
func (e *Emitter) Emit(event string, data []byte, ack AckFunc) int {
	e.mu.RLock()
	regs := make([]*registration, len(e.handlers[event]))
	copy(regs, e.handlers[event])
	e.mu.RUnlock()

	for _, r := range regs {
		r.h(data, ack)
	}
	return len(regs)
}

// Has reports whether any handler is registered for event.
func (e *Emitter) Has(event string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[event]) > 0
}
