// Package notify delivers change events to in-process listeners.
package notify

import (
	"sync"

	"github.com/yourusername/bulletin/internal/announcement"
)

// Event says that a collection changed.
type Event struct {
	Collection announcement.Kind
}

// Listener receives events synchronously on the publisher's goroutine.
type Listener func(Event)

// Bus is a subscribe/publish registry. The zero value is ready to use.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	listeners []entry
}

type entry struct {
	id int
	fn Listener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, entry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.listeners {
		if e.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Publish calls every current listener in subscription order. Listeners may
// subscribe or unsubscribe while being called; changes apply to the next Publish.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	snapshot := make([]Listener, len(b.listeners))
	for i, e := range b.listeners {
		snapshot[i] = e.fn
	}
	b.mu.Unlock()

	for _, fn := range snapshot {
		fn(ev)
	}
}

// Len reports how many listeners are registered.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
