package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event is one message on the live stream. An empty Audience means every subscriber receives it.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Audience   []string        `json:"audience,omitempty"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewEvent marshals data into an Event addressed to audience.
func NewEvent(eventType string, data interface{}, audience ...string) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Audience:   audience,
		Data:       raw,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// Visible reports whether userID may receive e.
func (e Event) Visible(userID string) bool {
	if len(e.Audience) == 0 {
		return true
	}
	for _, id := range e.Audience {
		if id == userID {
			return true
		}
	}
	return false
}

// Publisher delivers events to connected clients.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscription is a live feed for one connected user.
type Subscription struct {
	UserID string
	C      <-chan Event
	ch     chan Event
}

// Hub fans events out to in-process subscribers. Slow subscribers lose events rather than
// stall publishers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	dropped atomic.Int64
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers a subscriber for userID.
func (h *Hub) Subscribe(userID string) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{UserID: userID, C: ch, ch: ch}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

// Publish delivers event to every subscriber allowed to see it.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.Deliver(event)
	return nil
}

// Deliver fans event out without blocking.
func (h *Hub) Deliver(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !event.Visible(sub.UserID) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
