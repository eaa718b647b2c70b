package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogHandler writes consumed change events into study_session_event_log.
type AuditLogHandler struct {
	pool *pgxpool.Pool
}

// NewAuditLogHandler constructs a handler backed by the provided pool.
func NewAuditLogHandler(pool *pgxpool.Pool) *AuditLogHandler {
	return &AuditLogHandler{pool: pool}
}

// Handle stores the event once per topic/partition/offset, so redeliveries are no-ops.
func (h *AuditLogHandler) Handle(ctx context.Context, msg Message) error {
	occurred := msg.Change.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	_, err := h.pool.Exec(ctx,
		`INSERT INTO study_session_event_log (event_key, user_id, session_id, event_type, schema_id, schema_subject, payload, kafka_topic, kafka_partition, kafka_offset, occurred_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
         ON CONFLICT (event_key) DO NOTHING`,
		eventKey(msg),
		msg.UserID,
		msg.Change.SessionID,
		msg.EventType,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Payload,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		occurred,
	)
	return err
}

func eventKey(msg Message) string {
	return fmt.Sprintf("%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)
}
