package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tbelova/jobpilot/internal/agent"
	appconfig "github.com/tbelova/jobpilot/internal/config"
	"github.com/tbelova/jobpilot/internal/database"
	"github.com/tbelova/jobpilot/internal/embedding"
	"github.com/tbelova/jobpilot/internal/job"
	"github.com/tbelova/jobpilot/internal/pubsub"
	"github.com/tbelova/jobpilot/internal/queue"
	"github.com/tbelova/jobpilot/internal/redis"
	"github.com/tbelova/jobpilot/internal/repository"
	"github.com/tbelova/jobpilot/internal/status"
	"github.com/tbelova/jobpilot/internal/storage"
	"github.com/tbelova/jobpilot/internal/workers"

	"github.com/sashabaranov/go-openai"
)

func main() {
	cfg := appconfig.Load()
	slog.Info("starting jobpilot worker", "workers", cfg.QueueWorkers, "stream", cfg.QueueStream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	storageService, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}

	redisService, err := redis.New(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to connect to Redis", "err", err)
		os.Exit(1)
	}
	defer redisService.Close()

	queueCfg := queue.DefaultConfig()
	queueCfg.Stream = cfg.QueueStream
	queueCfg.Group = cfg.QueueGroup
	queueCfg.MaxJobTime = cfg.JobMaxDuration

	q, err := queue.NewRedisQueue(redisService.Client(), queueCfg)
	if err != nil {
		slog.Error("failed to initialize queue", "err", err)
		os.Exit(1)
	}
	defer q.Close()

	repo := repository.New(db)

	openAIClient := openai.NewClient(cfg.OpenAIAPIKey)
	embedder := embedding.NewEmbedder(openAIClient, cfg.EmbeddingModel)
	vectorStore, err := embedding.NewStore(cfg.VectorStorePath, embedder.Embed)
	if err != nil {
		slog.Error("failed to open vector store", "err", err)
		os.Exit(1)
	}
	embeddingService := embedding.NewService(storageService, embedder, vectorStore)

	statusRepo := status.New(pubsub.NewRedisBroker(redisService.Client()))
	runner := agent.NewRunner(openAIClient, embeddingService, cfg.AgentModel)

	processingHandler := workers.NewProcessingHandler(repo, embeddingService, statusRepo)
	runHandler := workers.NewRunHandler(repo, runner, statusRepo)
	cleanupHandler := workers.NewCleanupHandler(embeddingService)

	q.StartConsumers(ctx, cfg.QueueWorkers, func(ctx context.Context, j *job.Job) error {
		switch j.Kind {
		case job.KindCreateAndProcess:
			return processingHandler.HandleProcessJob(ctx, j)
		case job.KindRun:
			return runHandler.HandleRunJob(ctx, j)
		case job.KindDeleteEmbeddings:
			return cleanupHandler.HandleCleanupJob(ctx, j)
		default:
			return fmt.Errorf("unknown job kind: %s", j.Kind)
		}
	})

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")
	cancel()
}
