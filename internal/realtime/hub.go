// Package realtime fans study session changes out to live report subscribers.
package realtime

import (
	"sync"
	"time"

	"example.com/studylog/internal/events"
)

// Change notifies subscribers that a learner's sessions changed.
type Change struct {
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ChangeFromEvent converts a change-feed payload into a hub notification.
func ChangeFromEvent(eventType string, event events.StudySessionChanged) Change {
	return Change{
		UserID:     event.UserID,
		SessionID:  event.SessionID,
		EventType:  eventType,
		OccurredAt: event.OccurredAt,
	}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.buffer = size
		}
	}
}

// Hub routes changes to the subscriptions of the affected learner. Publish never blocks:
// when a subscriber is behind, the change is dropped because the pending notification
// already triggers a full refresh.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewHub constructs an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: 1,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers interest in userID's changes. Callers must Close the subscription.
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		hub:    h,
		userID: userID,
		ch:     make(chan Change, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	subscribersGauge.Inc()
	return sub
}

// Publish delivers change to every subscription of change.UserID and returns how many
// subscriptions received it.
func (h *Hub) Publish(change Change) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	publishedCounter.Inc()
	delivered := 0
	for sub := range h.subs[change.UserID] {
		select {
		case sub.ch <- change:
			delivered++
		default:
			droppedCounter.Inc()
		}
	}
	return delivered
}

// Subscribers reports the number of open subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Close ends every subscription. Later subscriptions are returned already closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for userID, set := range h.subs {
		for sub := range set {
			sub.closed = true
			close(sub.ch)
			subscribersGauge.Dec()
		}
		delete(h.subs, userID)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	subscribersGauge.Dec()

	set := h.subs[sub.userID]
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.userID)
	}
}

// Subscription receives changes for one learner.
type Subscription struct {
	hub    *Hub
	userID string
	ch     chan Change
	// closed is guarded by hub.mu.
	closed bool
}

// C returns the change channel. It is closed when the subscription or hub closes.
func (s *Subscription) C() <-chan Change {
	return s.ch
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}
