package realtime

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Wildcard subscribes a handler to every envelope regardless of type.
const Wildcard = "*"

// Handler consumes one dispatched envelope.
type Handler func(Envelope)

// Dispatcher fans inbound envelopes out to subscribers by event type. It is
// the only owner of the subscription map; handlers for the envelope's type and
// for the wildcard key each see every matching envelope exactly once per
// arrival.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]map[int]Handler),
	}
}

// Subscribe registers a handler for an event type and returns an unsubscribe
// function. Unsubscribing removes exactly that registration; removing the last
// handler for a type prunes the type key. Unsubscribing during a dispatch does
// not cancel the in-flight delivery but prevents future ones.
func (d *Dispatcher) Subscribe(eventType string, handler Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID

	set, exists := d.handlers[eventType]
	if !exists {
		set = make(map[int]Handler)
		d.handlers[eventType] = set
	}
	set[id] = handler

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		set, exists := d.handlers[eventType]
		if !exists {
			return
		}
		delete(set, id)
		if len(set) == 0 {
			delete(d.handlers, eventType)
		}
	}
}

// Dispatch delivers an envelope to all handlers registered for its type and to
// all wildcard handlers. A panicking handler is recovered and logged so one
// faulty subscriber cannot break delivery to the others or kill the
// transport's receive loop.
func (d *Dispatcher) Dispatch(env Envelope) {
	d.mu.Lock()
	snapshot := make([]Handler, 0, len(d.handlers[env.Type])+len(d.handlers[Wildcard]))
	for _, h := range d.handlers[env.Type] {
		snapshot = append(snapshot, h)
	}
	if env.Type != Wildcard {
		for _, h := range d.handlers[Wildcard] {
			snapshot = append(snapshot, h)
		}
	}
	d.mu.Unlock()

	for _, handler := range snapshot {
		d.invoke(env, handler)
	}
}

func (d *Dispatcher) invoke(env Envelope, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", env.Type).
				Msg("Subscriber handler panicked during dispatch")
		}
	}()
	handler(env)
}
