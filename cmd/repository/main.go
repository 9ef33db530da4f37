// Package main provides the spantrail trace/event repository service: the
// unified HTTP ingress plus background job consumer for C3 (tracestore), C5
// (pipeline), C6 (ingest), C7 (broker) and C8 (queue).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spantrail/spantrail/internal/api"
	"github.com/spantrail/spantrail/internal/api/middleware"
	"github.com/spantrail/spantrail/internal/broker"
	"github.com/spantrail/spantrail/internal/config"
	"github.com/spantrail/spantrail/internal/eventrecord"
	"github.com/spantrail/spantrail/internal/ingest"
	"github.com/spantrail/spantrail/internal/pipeline"
	"github.com/spantrail/spantrail/internal/queue"
	"github.com/spantrail/spantrail/internal/storage"
	"github.com/spantrail/spantrail/internal/tracestore"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "repository"

	consumerGroupID     = "spantrail-repository"
	shutdownGracePeriod = 10 * time.Second
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := config.LoadServerConfig()
	if err := serverConfig.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting spantrail repository",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
	)

	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		logger.Error("invalid storage configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	redisOpts, err := redis.ParseURL(serverConfig.RedisURL)
	if err != nil {
		logger.Error("failed to parse REDIS_URL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	eventsStore := eventrecord.NewStore(conn)
	runStore := pipeline.NewPostgresRunStore()
	queueStore := ingest.NewPostgresQueueStore()

	jobQueue := queue.New(serverConfig.KafkaBrokers, conn, logger)
	defer jobQueue.Close()

	br := broker.New(rdb)

	tracestoreOpts := []tracestore.Option{
		tracestore.WithLogger(logger),
		tracestore.WithRetention(serverConfig.LogRetention),
	}

	store, err := tracestore.NewStore(
		conn,
		tracestore.SchedulerConfig{BatchSize: serverConfig.BatchSize, FlushInterval: serverConfig.BatchInterval},
		br,
		br,
		tracestoreOpts...,
	)
	if err != nil {
		logger.Error("failed to construct tracestore", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	engine := pipeline.NewEngine(conn, runStore, eventsStore, jobQueue, logger)
	ingestor := ingest.NewIngestor(conn, eventsStore, queueStore, runStore, jobQueue, logger)

	registerJobHandlers(jobQueue, engine, ingestor, logger)

	shipper := queue.NewOutboxShipper(conn, jobQueue, logger)
	go shipper.Run()
	defer shipper.Close()

	limiter := middleware.NewInMemoryRateLimiter(&middleware.Config{
		GlobalRPS: serverConfig.RateLimitPerSecond,
		ClientRPS: serverConfig.RateLimitPerSecond,
		UnAuthRPS: serverConfig.RateLimitPerSecond / 2,
	})

	server := api.NewServer(serverConfig, store, ingestor, limiter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := jobQueue.Consume(ctx, consumerGroupID); err != nil {
			logger.Error("job queue consumer stopped", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("repository service stopped")
}

// registerJobHandlers wires C8's four job names to the C5/C6 operations that
// implement them, per spec.md §6. deliverEvent and events.invokeDispatcher
// remain stubs: SDK/webhook delivery is out of scope.
func registerJobHandlers(q *queue.Queue, engine *pipeline.Engine, ingestor *ingest.Ingestor, logger *slog.Logger) {
	q.RegisterHandler(queue.JobRunPipeline, func(ctx context.Context, payload json.RawMessage) error {
		var body struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("runPipeline: malformed payload: %w", err)
		}

		return engine.RunStep(ctx, body.ID)
	})

	q.RegisterHandler(queue.JobCreatePipeline, func(ctx context.Context, payload json.RawMessage) error {
		var body struct {
			Type          string `json:"type"`
			QueueID       string `json:"queueId"`
			DispatcherID  string `json:"dispatcherId"`
			EventRecordID string `json:"eventRecordId"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("createPipeline: malformed payload: %w", err)
		}

		if body.Type == string(pipeline.OwnerDispatcher) {
			return ingestor.CreatePipeline(ctx, pipeline.OwnerDispatcher, body.EventRecordID, body.DispatcherID)
		}

		return ingestor.CreatePipeline(ctx, pipeline.OwnerQueue, body.EventRecordID, body.QueueID)
	})

	q.RegisterHandler(queue.JobDeliverEvent, func(_ context.Context, payload json.RawMessage) error {
		logger.Info("deliverEvent stub invoked", slog.String("payload", string(payload)))

		return nil
	})

	q.RegisterHandler(queue.JobInvokeDispatcher, func(_ context.Context, payload json.RawMessage) error {
		logger.Info("events.invokeDispatcher stub invoked", slog.String("payload", string(payload)))

		return nil
	})
}
