package service

import (
	"log/slog"
	"sync"
	"time"

	"devicemirror/models"
)

// Publisher receives registry and session events.
type Publisher interface {
	Publish(ev models.Event)
}

// EventBus fans events out to subscribers over buffered channels. Each
// subscriber sees events in publish order; a subscriber whose buffer is
// full misses the event instead of stalling the publisher.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan models.Event
	nextID int
	logger *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EventBus{
		subs:   make(map[int]chan models.Event),
		logger: logger.With("component", "events"),
	}
}

// Subscribe returns a channel of events and a function that closes it.
func (b *EventBus) Subscribe(buffer int) (<-chan models.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan models.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish stamps ev and delivers it to every subscriber without blocking.
func (b *EventBus) Publish(ev models.Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("⚠️ Subscriber channel full, dropping event", "subscriber", id, "type", ev.Type, "device", ev.DeviceID)
		}
	}
}
