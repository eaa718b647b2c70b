package consumer

import (
	"context"
	"errors"

	"example.com/studylog/internal/realtime"
)

// Publisher accepts changes for live subscribers.
type Publisher interface {
	Publish(realtime.Change) int
}

// ChangeFeedHandler turns study session events into realtime notifications.
type ChangeFeedHandler struct {
	publisher Publisher
}

// NewChangeFeedHandler constructs a handler that publishes to publisher.
func NewChangeFeedHandler(publisher Publisher) *ChangeFeedHandler {
	return &ChangeFeedHandler{publisher: publisher}
}

// Handle notifies the learner's subscribers. Having no subscribers is not an error.
func (h *ChangeFeedHandler) Handle(_ context.Context, msg Message) error {
	if msg.Change.UserID == "" {
		return errors.New("study session change without user id")
	}
	h.publisher.Publish(realtime.ChangeFromEvent(msg.EventType, msg.Change))
	return nil
}
