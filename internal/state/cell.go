// Package state provides owned, observable values for the client core.
//
// A Cell has exactly one writer (the manager that owns it); everyone else
// reads it or subscribes to changes. Writes are delivered to subscribers in
// the order they were applied, so a subscriber must not write to the cell it
// is subscribed to.
package state

import (
	"slices"
	"sync"
)

type subscription[T any] struct {
	id int
	fn func(T)
}

type Cell[T any] struct {
	// writeMu serialises a write together with its notification.
	writeMu sync.Mutex
	mu      sync.RWMutex
	value   T
	subs    []subscription[T]
	nextID  int
}

func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set replaces the value and notifies subscribers.
func (c *Cell[T]) Set(v T) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.value = v
	subs := slices.Clone(c.subs)
	c.mu.Unlock()

	notify(subs, v)
}

// Update applies fn to the current value under the write lock and notifies
// subscribers with the result.
func (c *Cell[T]) Update(fn func(T) T) T {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.value = fn(c.value)
	v := c.value
	subs := slices.Clone(c.subs)
	c.mu.Unlock()

	notify(subs, v)
	return v
}

// Subscribe registers fn to be called after every change. The returned
// function removes the subscription.
func (c *Cell[T]) Subscribe(fn func(T)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscription[T]{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subs = slices.DeleteFunc(c.subs, func(s subscription[T]) bool { return s.id == id })
	}
}

func notify[T any](subs []subscription[T], v T) {
	for _, s := range subs {
		s.fn(v)
	}
}
