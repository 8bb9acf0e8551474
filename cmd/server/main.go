package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appconfig "github.com/tbelova/jobpilot/internal/config"
	"github.com/tbelova/jobpilot/internal/database"
	"github.com/tbelova/jobpilot/internal/pubsub"
	"github.com/tbelova/jobpilot/internal/queue"
	"github.com/tbelova/jobpilot/internal/redis"
	"github.com/tbelova/jobpilot/internal/relay"
	"github.com/tbelova/jobpilot/internal/repository"
	"github.com/tbelova/jobpilot/internal/server"
	"github.com/tbelova/jobpilot/internal/storage"
	httpapi "github.com/tbelova/jobpilot/internal/transport/http"
)

func main() {
	cfg := appconfig.Load()
	slog.Info("starting jobpilot api", "addr", cfg.HTTPAddr)

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
	slog.Info("storage initialized", "type", storage.GetStorageType(cfg))

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

	broker := pubsub.NewRedisBroker(redisService.Client())

	handlers := &httpapi.Handlers{
		Q:       q,
		Repo:    repository.New(db),
		Storage: storageService,
		Redis:   redisService,
		Relay:   relay.New(broker, relay.NewRegistry(), cfg.RelayPollTimeout),
		Config:  cfg,
	}
	r := server.NewRouter(handlers)

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// no write timeout: websocket streams stay open indefinitely
		IdleTimeout: 90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	cancel()
}
