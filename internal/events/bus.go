package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/autarch-dev/autarch-sub002/internal/logging"
)

var (
	broadcastTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autarch_events_broadcast_total",
		Help: "Events broadcast on the bus, by type.",
	}, []string{"type"})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autarch_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full.",
	})
)

const defaultBuffer = 256

// Bus fans events out to subscribers. Broadcast never blocks: a subscriber
// whose buffer is full loses the event, which is acceptable because all
// state is also persisted.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	logger logging.Logger
}

// NewBus constructs an event bus.
func NewBus(logger logging.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logging.OrNop(logger),
	}
}

// Subscribe registers a subscriber and returns its channel plus a cancel
// function. The channel is closed on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, defaultBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Broadcast delivers the event to every subscriber without blocking.
func (b *Bus) Broadcast(event Event) {
	broadcastTotal.WithLabelValues(event.Type).Inc()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			droppedTotal.Inc()
			b.logger.Warn("event bus: dropped %s for slow subscriber", event.Type)
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
