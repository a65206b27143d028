// Package broadcaster fans typed events out to subscribers (SSE streams,
// in-process listeners) without letting a slow consumer block a producer.
package broadcaster

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is the unit broadcast to every subscriber.
type Event struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// DefaultBufferSize is the subscriber channel capacity used when Subscribe
// isn't given an explicit size. Mirrors the teacher's ChanSink contract:
// the channel must be buffered so Broadcast never blocks.
const DefaultBufferSize = 64

// Broadcaster is a thread-safe subscriber registry. Producers call
// Broadcast; each subscriber receives events on its own channel. A
// subscriber that isn't draining its channel fast enough silently misses
// events rather than backing up the producer — this is intentional (spec:
// "dropping slow consumers' events rather than backing up producers").
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	bufferSize  int
	now         func() time.Time
}

// New creates a Broadcaster. bufferSize <= 0 uses DefaultBufferSize.
func New(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Event),
		bufferSize:  bufferSize,
		now:         time.Now,
	}
}

// Subscribe registers a new subscriber and returns its id and receive-only
// event channel. Callers must eventually call Unsubscribe(id).
func (b *Broadcaster) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, b.bufferSize)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Broadcast sends event to every current subscriber. It never blocks: a
// subscriber whose channel is full simply misses this event.
func (b *Broadcaster) Broadcast(event string, data map[string]any) {
	ev := Event{Event: event, Data: data, Timestamp: b.now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the current number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
