package consumer

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/studylog/internal/events"
)

// Message is a change event as written by the outbox dispatcher.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	UserID        string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
	Change        events.StudySessionChanged
}

const frameHeaderLen = 5

// decodeRecord unwraps the registry frame (magic byte 0, big-endian schema id) and the
// JSON change body. The user_id header wins over the body; the record time fills a
// missing occurred_at.
func decodeRecord(record kafka.Message) (Message, error) {
	if len(record.Value) < frameHeaderLen {
		return Message{}, fmt.Errorf("frame too short: %d bytes", len(record.Value))
	}
	if magic := record.Value[0]; magic != 0 {
		return Message{}, fmt.Errorf("unexpected magic byte %d", magic)
	}
	headers := recordHeaders(record)
	eventType, ok := headers["event_type"]
	if !ok {
		return Message{}, errors.New("missing event_type header")
	}

	payload := json.RawMessage(append([]byte(nil), record.Value[frameHeaderLen:]...))
	var change events.StudySessionChanged
	if err := json.Unmarshal(payload, &change); err != nil {
		return Message{}, fmt.Errorf("decode study session change: %w", err)
	}
	if userID := headers["user_id"]; userID != "" {
		change.UserID = userID
	}
	if change.OccurredAt.IsZero() {
		change.OccurredAt = record.Time
	}

	return Message{
		Topic:         record.Topic,
		Partition:     record.Partition,
		Offset:        record.Offset,
		Timestamp:     record.Time,
		EventType:     eventType,
		UserID:        change.UserID,
		SchemaSubject: headers["schema_subject"],
		SchemaID:      int(binary.BigEndian.Uint32(record.Value[1:frameHeaderLen])),
		Payload:       payload,
		Change:        change,
	}, nil
}

func recordHeaders(record kafka.Message) map[string]string {
	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		if _, seen := headers[h.Key]; !seen {
			headers[h.Key] = string(h.Value)
		}
	}
	return headers
}
