package auth

import "sync"

// Broadcaster fans auth state changes out to registered listeners. The
// providers handed to session gates subscribe here, filtered by session id.
type Broadcaster struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(Event, *Session)
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: map[int]func(Event, *Session){}}
}

// Subscribe registers a listener and returns its cancel function.
func (b *Broadcaster) Subscribe(fn func(Event, *Session)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Emit delivers an event to all listeners.
func (b *Broadcaster) Emit(event Event, sess *Session) {
	b.mu.Lock()
	fns := make([]func(Event, *Session), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(event, sess)
	}
}
