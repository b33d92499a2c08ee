package bridge

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

// Listener receives the data of a notified event. A returned error (or a
// panic) is recorded as a ListenerError and does not stop later listeners.
type Listener func(data any) error

// Subscription identifies one registration in a Registry. The zero value
// identifies nothing.
type Subscription struct {
	event protocol.Event
	id    uint64
}

// Event returns the event the subscription is registered for.
func (s Subscription) Event() protocol.Event { return s.event }

// ID returns the registry-unique subscription number.
func (s Subscription) ID() uint64 { return s.id }

// ListenerError records a listener that returned an error or panicked.
type ListenerError struct {
	Event        protocol.Event
	Subscription Subscription
	Err          error

	// Panic holds the recovered value when the listener panicked.
	Panic any
}

func (e *ListenerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("listener %d for %q panicked: %v", e.Subscription.id, e.Event, e.Panic)
	}
	return fmt.Sprintf("listener %d for %q: %v", e.Subscription.id, e.Event, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// Report summarizes one notification.
type Report struct {
	Event    protocol.Event
	Invoked  int
	Failures []*ListenerError
}

// OK reports whether every invoked listener succeeded.
func (r Report) OK() bool { return len(r.Failures) == 0 }

type registration struct {
	id uint64
	fn Listener
}

// Registry maps event names to ordered listener registrations. Registration
// order is invocation order and the same function may be registered more
// than once. It is safe for concurrent use; listeners are invoked without
// any lock held so they may subscribe or unsubscribe from inside a callback.
type Registry struct {
	mu        sync.RWMutex
	listeners map[protocol.Event][]registration
	nextID    uint64
	log       *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		listeners: make(map[protocol.Event][]registration),
		log:       logger.With("component", "registry"),
	}
}

// Subscribe appends fn to the listeners of event. A nil fn is not
// registered and the zero Subscription is returned.
func (r *Registry) Subscribe(event protocol.Event, fn Listener) Subscription {
	if fn == nil {
		return Subscription{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.listeners[event] = append(r.listeners[event], registration{id: r.nextID, fn: fn})
	return Subscription{event: event, id: r.nextID}
}

// Unsubscribe removes exactly the registration identified by sub. It reports
// whether anything was removed; unsubscribing twice is a no-op.
func (r *Registry) Unsubscribe(sub Subscription) bool {
	if sub.id == 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.listeners[sub.event]
	for i, reg := range regs {
		if reg.id != sub.id {
			continue
		}
		// Copy so snapshots held by in-flight notifications stay intact.
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(r.listeners, sub.event)
		} else {
			r.listeners[sub.event] = next
		}
		return true
	}
	return false
}

// Count returns the number of registrations for event.
func (r *Registry) Count(event protocol.Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[event])
}

// Len returns the total number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, regs := range r.listeners {
		n += len(regs)
	}
	return n
}

// Notify invokes every listener of event, in registration order, with data.
// Listeners registered during the notification are not invoked by it.
func (r *Registry) Notify(event protocol.Event, data any) Report {
	r.mu.RLock()
	regs := r.listeners[event]
	r.mu.RUnlock()

	report := Report{Event: event}
	for _, reg := range regs {
		report.Invoked++
		if lerr := r.invoke(event, reg, data); lerr != nil {
			r.log.Warn("listener failed", "event", event, "subscription", reg.id, "error", lerr)
			report.Failures = append(report.Failures, lerr)
		}
	}
	return report
}

func (r *Registry) invoke(event protocol.Event, reg registration, data any) (lerr *ListenerError) {
	defer func() {
		if p := recover(); p != nil {
			lerr = &ListenerError{
				Event:        event,
				Subscription: Subscription{event: event, id: reg.id},
				Err:          fmt.Errorf("panic: %v", p),
				Panic:        p,
			}
		}
	}()

	if err := reg.fn(data); err != nil {
		return &ListenerError{
			Event:        event,
			Subscription: Subscription{event: event, id: reg.id},
			Err:          err,
		}
	}
	return nil
}
