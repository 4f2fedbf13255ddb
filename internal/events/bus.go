package events

import (
	"sync"
)

// Bus fans dispatched events out to observers by Kind. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]chan Event)}
}

// Subscribe registers a listener for kind and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(kind Kind, buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	b.subs[kind] = append(b.subs[kind], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[kind]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[kind] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// Publish hands ev to every subscriber of its kind.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[ev.Kind()] {
		select {
		case ch <- ev:
		default:
			// drop if subscriber is slow
		}
	}
}
