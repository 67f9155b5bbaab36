// Package bus is a minimal in-process event bus. The sync core publishes
// session and sync failures on it so the presentation layer can react without
// the core importing any UI code.
package bus

import "sync"

// Event identifies a published condition.
type Event string

// Events published by the sync core.
const (
	// SessionExpired fires when renewal fails terminally; both tokens have
	// been purged and the user must authenticate again.
	SessionExpired Event = "session_expired"

	// SyncUnavailable fires once per failure streak when the server is
	// unreachable; it does not repeat until after a success.
	SyncUnavailable Event = "sync_unavailable"

	// SyncCompleted fires after every successful flush.
	SyncCompleted Event = "sync_completed"
)

// Bus fan-outs events to subscribers. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]func()
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[Event][]func())}
}

// Subscribe registers fn for ev.
func (b *Bus) Subscribe(ev Event, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ev] = append(b.subs[ev], fn)
}

// Publish invokes all handlers registered for ev.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := b.subs[ev]
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}
