package testutil

import (
	"sync"
)

// Recorder is an event handler that captures everything it receives, for
// asserting on listener delivery in tests.
type Recorder[Event any] struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder[Event any]() *Recorder[Event] {
	return &Recorder[Event]{}
}

func (r *Recorder[Event]) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

func (r *Recorder[Event]) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make([]Event, len(r.events))
	copy(copied, r.events)
	return copied
}

func (r *Recorder[Event]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.events)
}
