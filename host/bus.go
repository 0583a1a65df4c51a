package host

import (
	"log/slog"
	"sync"
)

// Bus fans tab events out to subscribers. A subscriber that stops reading
// only loses its own events; Publish never blocks on it past its buffer.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan TabEvent
	next   int
	buf    int
	logger *slog.Logger
}

// NewBus creates a Bus whose subscriber channels hold buf events.
func NewBus(buf int, logger *slog.Logger) *Bus {
	if buf <= 0 {
		buf = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[int]chan TabEvent), buf: buf, logger: logger}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() (<-chan TabEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan TabEvent, b.buf)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev TabEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("host: tab event dropped", "subscriber", id, "tab", ev.TabID, "status", ev.Status)
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
