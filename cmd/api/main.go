// Command api serves the study log HTTP API and streams live progress reports.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/studylog/internal/api"
	"example.com/studylog/internal/auth"
	"example.com/studylog/internal/config"
	"example.com/studylog/internal/consumer"
	"example.com/studylog/internal/domain"
	"example.com/studylog/internal/events"
	"example.com/studylog/internal/outbox"
	"example.com/studylog/internal/persistence/memory"
	"example.com/studylog/internal/persistence/postgres"
	"example.com/studylog/internal/progress"
	"example.com/studylog/internal/realtime"
	httptransport "example.com/studylog/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog, err := progress.LoadCatalogFile(cfg.CatalogFile)
	if err != nil {
		log.Fatalf("failed to load activity catalog: %v", err)
	}

	hub := realtime.NewHub()

	var (
		store      domain.Store
		background sync.WaitGroup
	)

	switch cfg.Store {
	case config.StoreMemory:
		repo := memory.NewRepository()
		repo.OnChange(func(eventType string, change events.StudySessionChanged) {
			hub.Publish(realtime.ChangeFromEvent(eventType, change))
		})
		store = repo
		log.Printf("using in-memory store; sessions are lost on restart")
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		store = postgres.NewRepository(pool)

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
		defer dispatcher.Wait()

		// Every instance needs every change for its own subscribers, so each one joins a
		// private consumer group and starts from the tail.
		readerCfg := consumer.ReaderConfig(cfg.KafkaBrokers, cfg.ConsumerGroupID+"-live-"+uuid.NewString(), cfg.ChangeFeedTopic)
		readerCfg.StartOffset = kafka.LastOffset
		reader := kafka.NewReader(readerCfg)
		proc := consumer.NewProcessor(reader, consumer.NewChangeFeedHandler(hub),
			consumer.WithLogger(log.New(os.Stderr, "[live] ", log.LstdFlags)))

		background.Add(1)
		go func() {
			defer background.Done()
			defer reader.Close()
			if err := proc.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("change feed stopped: %v", err)
			}
		}()
	default:
		log.Fatalf("unknown STORE %q", cfg.Store)
	}

	service := domain.NewService(store, catalog, domain.WithDefaultLocation(cfg.Location()))

	handler := api.NewHandler(service, api.WithHub(hub), api.WithHeartbeat(cfg.StreamHeartbeat))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, auth.SkipPaths("/healthz", "/metrics"))
	authMiddleware.QueryToken = func(r *http.Request) bool {
		return r.URL.Path == "/v1/reports/stream"
	}

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), httptransport.Chain(mux,
		httptransport.RequestLogger(log.Default()),
		httptransport.CORS(cfg.CORSOrigin),
		authMiddleware.Wrap,
	))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("studylog api listening on %s (store=%s)", cfg.HTTPAddress, cfg.Store)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	background.Wait()
}
