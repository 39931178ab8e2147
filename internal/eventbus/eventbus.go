// Package eventbus implements the address-change notification bus: named
// listeners and callbacks, optional named filters, and a pause/resume
// toggle that queues events while paused and drains them FIFO on resume.
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/nimbusdns/resolvcore/internal/core/domain"
)

// Listener receives address-change notifications. Enabled listeners that
// are currently disabled are skipped by Notify without being removed.
type Listener interface {
	OnAddressChanged(event domain.AddressChangeEvent)
	Enabled() bool
}

// Callback is a function-like recipient, always considered enabled.
type Callback func(event domain.AddressChangeEvent)

// Filter decides whether an event should be dispatched at all. An event is
// dispatched iff every registered filter accepts it.
type Filter func(event domain.AddressChangeEvent) bool

// Bus is the process-wide event bus. It is safe for concurrent use; Notify
// holds the bus lock for the duration of dispatch, so listeners must not
// re-enter the bus from inside a callback.
type Bus struct {
	mu        sync.Mutex
	listeners map[string]Listener
	callbacks map[string]Callback
	filters   map[string]Filter
	paused    bool
	queue     []domain.AddressChangeEvent
	logger    *slog.Logger
}

// New returns an empty, unpaused Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		listeners: make(map[string]Listener),
		callbacks: make(map[string]Callback),
		filters:   make(map[string]Filter),
		logger:    logger,
	}
}

// RegisterListener adds or replaces a named listener.
func (b *Bus) RegisterListener(name string, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = l
}

// UnregisterListener removes a named listener.
func (b *Bus) UnregisterListener(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, name)
}

// AddCallback adds or replaces a named callback.
func (b *Bus) AddCallback(name string, cb Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[name] = cb
}

// RemoveCallback removes a named callback.
func (b *Bus) RemoveCallback(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.callbacks, name)
}

// AddFilter adds or replaces a named filter.
func (b *Bus) AddFilter(name string, f Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters[name] = f
}

// RemoveFilter removes a named filter.
func (b *Bus) RemoveFilter(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.filters, name)
}

// Pause enqueues subsequent Notify calls instead of dispatching them.
func (b *Bus) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
}

// Resume un-pauses the bus, then dispatches the queued events in FIFO order.
func (b *Bus) Resume() {
	b.mu.Lock()
	queued := b.queue
	b.queue = nil
	b.paused = false
	b.mu.Unlock()

	for _, event := range queued {
		b.dispatch(event)
	}
}

// Notify dispatches event to every enabled listener and callback whose
// filters all accept it, unless the bus is paused, in which case the event
// is queued for the next Resume. A panic inside one recipient is logged and
// swallowed; it never prevents delivery to the others.
func (b *Bus) Notify(event domain.AddressChangeEvent) {
	b.mu.Lock()
	if b.paused {
		b.queue = append(b.queue, event)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.dispatch(event)
}

func (b *Bus) dispatch(event domain.AddressChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, f := range b.filters {
		if !f(event) {
			return
		}
	}

	for name, l := range b.listeners {
		if !l.Enabled() {
			continue
		}
		b.safeDispatch(name, func() { l.OnAddressChanged(event) })
	}
	for name, cb := range b.callbacks {
		b.safeDispatch(name, func() { cb(event) })
	}
}

func (b *Bus) safeDispatch(recipient string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event recipient panicked", "recipient", recipient, "panic", r)
		}
	}()
	fn()
}

// ListenerCount returns the number of listeners plus callbacks.
func (b *Bus) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners) + len(b.callbacks)
}
