//go:build integration

package consumer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/studylog/internal/domain"
	"example.com/studylog/internal/events"
	"example.com/studylog/internal/outbox"
	"example.com/studylog/internal/persistence/postgres"
	"example.com/studylog/internal/realtime"
	"example.com/studylog/internal/testsupport/pgtest"
)

func TestLoggedSessionReachesLiveSubscribersThroughKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             postgres.ChangeFeedTopic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
	require.NoError(t, conn.Close())

	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":11}`))
	}))
	defer registry.Close()

	pool := pgtest.Start(t, ctx)
	service := domain.NewService(postgres.NewRepository(pool), nil)

	producer := outbox.NewKafkaProducer(brokers)
	defer producer.Close()
	dispatcher := outbox.NewDispatcher(pool, producer, outbox.NewSchemaRegistryClient(registry.URL), 100*time.Millisecond, 10)

	hub := realtime.NewHub()
	defer hub.Close()
	sub := hub.Subscribe("learner-1")
	defer sub.Close()

	cfg := ReaderConfig(brokers, "studylog-live-it", postgres.ChangeFeedTopic)
	cfg.StartOffset = kafka.FirstOffset
	reader := kafka.NewReader(cfg)
	defer reader.Close()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go dispatcher.Start(runCtx)
	go func() { _ = NewProcessor(reader, NewChangeFeedHandler(hub)).Run(runCtx) }()

	session, replay, err := service.LogSession(ctx, domain.LogSessionInput{
		UserID:          "learner-1",
		LanguageID:      "ja",
		ActivityID:      "listening",
		DurationSeconds: 1200,
		ActivityDate:    "2024-05-02",
		IdempotencyKey:  "kafka-it",
	})
	require.NoError(t, err)
	require.False(t, replay)

	select {
	case change := <-sub.C():
		require.Equal(t, "learner-1", change.UserID)
		require.Equal(t, session.ID, change.SessionID)
		require.Equal(t, events.StudySessionLogged, change.EventType)
	case <-time.After(90 * time.Second):
		t.Fatal("change never reached the hub")
	}

	stop()
	dispatcher.Wait()
}
