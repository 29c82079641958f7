package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Listener receives events from a Dispatcher.
type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(e Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// ListenerID identifies a registration so it can be removed later.
type ListenerID uint64

type registration struct {
	id       ListenerID
	listener Listener
}

// Dispatcher delivers events to its listeners in registration order.
//
// Events are delivered one at a time in the order Dispatch is called, so no
// listener ever sees two events concurrently. A Dispatch issued while another
// delivery is running, including one issued from inside a listener, is queued
// behind it and delivered by the goroutine already draining. With no
// listeners registered events are dropped.
type Dispatcher struct {
	mu        sync.Mutex
	listeners []registration
	nextID    ListenerID
	queue     []Event
	draining  bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) AddListener(l Listener) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.listeners = append(d.listeners, registration{id: d.nextID, listener: l})
	return d.nextID
}

// RemoveListener unregisters id and reports whether it was registered.
func (d *Dispatcher) RemoveListener(id ListenerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.listeners {
		if r.id == id {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

func (d *Dispatcher) Dispatch(e Event) {
	d.mu.Lock()
	d.queue = append(d.queue, e)
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	defer func() {
		// A panicking listener must not leave the dispatcher wedged.
		if r := recover(); r != nil {
			d.mu.Lock()
			d.queue = nil
			d.draining = false
			d.mu.Unlock()
			panic(r)
		}
	}()
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		listeners := make([]registration, len(d.listeners))
		copy(listeners, d.listeners)
		d.mu.Unlock()

		if len(listeners) == 0 {
			log.Debug().Str("eventType", next.EventType.String()).Msg("No listeners registered, dropping event")
		}
		for _, r := range listeners {
			r.listener.OnEvent(next)
		}

		d.mu.Lock()
	}
	d.queue = nil
	d.draining = false
	d.mu.Unlock()
}
