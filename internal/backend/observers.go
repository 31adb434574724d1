package backend

import "sync"

// SessionObservers is a registry of session-change handlers shared by the
// identity implementations. The zero value is ready to use.
type SessionObservers struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(SessionEvent)
}

// Add registers handler and returns a function that removes it.
func (o *SessionObservers) Add(handler func(SessionEvent)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.handlers == nil {
		o.handlers = make(map[int]func(SessionEvent))
	}
	id := o.next
	o.next++
	o.handlers[id] = handler

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.handlers, id)
	}
}

// Emit calls every handler synchronously in registration order.
func (o *SessionObservers) Emit(ev SessionEvent) {
	o.mu.Lock()
	handlers := make([]func(SessionEvent), 0, len(o.handlers))
	for i := 0; i < o.next; i++ {
		if h, ok := o.handlers[i]; ok {
			handlers = append(handlers, h)
		}
	}
	o.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
