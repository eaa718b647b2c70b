// Package outbox delivers study session change events from Postgres to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/studylog/internal/events"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message represents a row fetched from outbox.
type Message struct {
	EventID       int64
	UserID        string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
	// Attempts counts earlier deliveries of this event that ended in the DLQ.
	Attempts int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger overrides the logger used for delivery failures.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher claims unpublished outbox rows, frames them with their registry schema id and
// writes them to Kafka. Rows that cannot be delivered are parked in the DLQ; a failure only
// affects the rows of the topic or subject that failed.
type Dispatcher struct {
	pool         *pgxpool.Pool
	producer     messageWriter
	registry     schemaRegistrar
	dlq          *DLQWriter
	pollInterval time.Duration
	batchSize    int
	logger       *log.Logger

	schemaMu  sync.Mutex
	schemaIDs map[string]int

	done chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pool:         pool,
		producer:     producer,
		registry:     registry,
		dlq:          NewDLQWriter(pool),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       log.New(log.Writer(), "[outbox] ", log.LstdFlags),
		schemaIDs:    make(map[string]int),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start polls the outbox until ctx is cancelled. Run it in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.done)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("dispatch batch: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

// rejected is an outbox row that could not be delivered.
type rejected struct {
	msg    Message
	reason string
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.claim(ctx)
	if err != nil || len(messages) == 0 {
		return err
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	byTopic, rejects := d.prepare(ctx, messages)
	delivered := 0
	for topic, records := range byTopic {
		if err := d.producer.WriteMessages(ctx, topic, records.kafka...); err != nil {
			for _, msg := range records.rows {
				rejects = append(rejects, rejected{msg: msg, reason: err.Error()})
			}
			continue
		}
		delivered += len(records.rows)
	}
	deliveredCounter.Add(float64(delivered))

	if len(rejects) > 0 {
		d.logger.Printf("%d of %d change events parked in the DLQ", len(rejects), len(messages))
		failedCounter.Add(float64(len(rejects)))
		if err := d.park(ctx, rejects); err != nil {
			return err
		}
	}
	return d.markPublished(ctx, messages)
}

// claim locks the next batch of unpublished rows and stamps claimed_at so concurrent
// dispatchers skip them.
func (d *Dispatcher) claim(ctx context.Context) (messages []Message, err error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil || len(messages) == 0 {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `SELECT event_id, user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, attempts
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`, d.batchSize)
	if err != nil {
		return nil, err
	}
	messages, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var msg Message
		err := row.Scan(&msg.EventID, &msg.UserID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload, &msg.Attempts)
		return msg, err
	})
	if err != nil || len(messages) == 0 {
		return nil, err
	}

	if _, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages)); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

type topicRecords struct {
	rows  []Message
	kafka []kafka.Message
}

// prepare frames each row for Kafka, grouped by topic in claim order.
func (d *Dispatcher) prepare(ctx context.Context, messages []Message) (map[string]*topicRecords, []rejected) {
	byTopic := make(map[string]*topicRecords)
	var rejects []rejected

	for _, msg := range messages {
		schema, ok := schemaCatalog[msg.EventType]
		if !ok {
			rejects = append(rejects, rejected{msg: msg, reason: fmt.Sprintf("no schema metadata for event_type=%s", msg.EventType)})
			continue
		}
		schemaID, err := d.schemaID(ctx, msg.SchemaSubject, schema)
		if err != nil {
			rejects = append(rejects, rejected{msg: msg, reason: fmt.Sprintf("schema registry: %v", err)})
			continue
		}

		batch, ok := byTopic[msg.Topic]
		if !ok {
			batch = &topicRecords{}
			byTopic[msg.Topic] = batch
		}
		batch.rows = append(batch.rows, msg)
		batch.kafka = append(batch.kafka, record(msg, schemaID))
	}
	return byTopic, rejects
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	d.schemaMu.Lock()
	defer d.schemaMu.Unlock()

	if id, ok := d.schemaIDs[subject]; ok {
		return id, nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDs[subject] = id
	return id, nil
}

func record(msg Message, schemaID int) kafka.Message {
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "user_id", Value: []byte(msg.UserID)},
			{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
		},
	}
}

func (d *Dispatcher) park(ctx context.Context, rejects []rejected) error {
	for _, r := range rejects {
		if err := d.dlq.Write(ctx, r.msg, fmt.Sprintf("%s (topic=%s)", r.reason, r.msg.Topic)); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(r.msg.Topic).Inc()
	}
	return nil
}

func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages))
	return err
}

func eventIDs(messages []Message) []int64 {
	ids := make([]int64, len(messages))
	for i, msg := range messages {
		ids[i] = msg.EventID
	}
	return ids
}

// encodeWireFormat prefixes payload with the magic byte and big-endian schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}

// Every change event shares one schema; the event type travels in the header.
var schemaCatalog = map[string]string{
	events.StudySessionLogged:  studySessionChangedSchema,
	events.StudySessionUpdated: studySessionChangedSchema,
	events.StudySessionDeleted: studySessionChangedSchema,
}
