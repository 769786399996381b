package event

import (
	"sync"
)

type Handler[Event any] interface {
	OnEvent(e Event)
}

// HandlerFunc is an adapter to allow the use of ordinary
// functions as Handlers.
type HandlerFunc[Event any] func(Event)

// OnEvent calls f(e).
func (f HandlerFunc[Event]) OnEvent(e Event) {
	f(e)
}

// Subscription is the handle returned by Bus.Subscribe. The owner releases it
// with Remove to stop receiving events. Remove is idempotent and safe to call
// while an event is being delivered.
type Subscription struct {
	once   sync.Once
	remove func()
}

func (s *Subscription) Remove() {
	s.once.Do(s.remove)
}

type subscriber[Event any] struct {
	id      uint64
	handler Handler[Event]
}

// Bus fans events out to every subscribed handler. Delivery is synchronous and
// in subscription order; every handler sees every event published after its
// subscription. There is no buffering and no replay.
type Bus[Event any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[Event]
}

func NewBus[Event any]() *Bus[Event] {
	return &Bus[Event]{}
}

func (b *Bus[Event]) Subscribe(h Handler[Event]) *Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber[Event]{id: id, handler: h})
	b.mu.Unlock()

	return &Subscription{remove: func() { b.unsubscribe(id) }}
}

func (b *Bus[Event]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len reports the number of active subscribers.
func (b *Bus[Event]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

func (b *Bus[Event]) Publish(e Event) {
	b.mu.RLock()
	// Copy subscribers so handlers can unsubscribe during delivery
	subs := make([]subscriber[Event], len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	// Execute handlers outside the lock
	for _, s := range subs {
		s.handler.OnEvent(e)
	}
}
