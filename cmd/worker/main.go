package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/FileGate/internal/bootstrap"
	"github.com/dharsanguruparan/FileGate/internal/config"
	"github.com/dharsanguruparan/FileGate/internal/database"
	"github.com/dharsanguruparan/FileGate/internal/metrics"
	"github.com/dharsanguruparan/FileGate/internal/policy"
	"github.com/dharsanguruparan/FileGate/internal/repository"
	"github.com/dharsanguruparan/FileGate/internal/s3storage"
	"github.com/dharsanguruparan/FileGate/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := bootstrap.Logger(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	pol, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		logger.WithError(err).Fatal("load policy")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("connect database")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.WithError(err).Fatal("ensure schema")
	}
	repo := repository.NewUploadRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("init storage")
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logger.WithError(err).Fatal("ensure bucket")
	}

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.ProcessingPool,
		Logger:      logger.WithField("component", "asynq"),
	})
	importer := worker.NewImporter(store, repo, pol, metrics.New(), logger)
	mux := worker.NewProcessor(importer).Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		logger.WithError(err).Error("worker stopped")
		os.Exit(1)
	}
}
