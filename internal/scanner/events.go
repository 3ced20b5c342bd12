package scanner

import (
	"log/slog"
	"sync"
)

// EventType names the state that changed
type EventType string

const (
	EventFavorites   EventType = "favorites"
	EventSafeFoods   EventType = "safe_foods"
	EventPreferences EventType = "preferences"
)

// Actions carried by events
const (
	ActionAdded    = "added"
	ActionRemoved  = "removed"
	ActionEnabled  = "enabled"
	ActionDisabled = "disabled"
)

// Event notifies subscribers that persisted state changed
type Event struct {
	Type     EventType `json:"type"`
	Action   string    `json:"action"`
	FoodID   string    `json:"food_id,omitempty"`
	Allergen string    `json:"allergen,omitempty"`
}

const subscriberBuffer = 16

// Hub fans events out to subscribers without ever blocking the publisher
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	log         *slog.Logger
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[chan Event]struct{}),
		log:         logger,
	}
}

// Subscribe registers a buffered channel. The returned cancel func unregisters
// and closes it; calling it more than once is safe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber with room in its buffer
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- e:
		default:
			h.log.Warn("Dropping event for slow subscriber", "type", e.Type, "action", e.Action)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
