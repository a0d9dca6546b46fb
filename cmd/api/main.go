package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/FileGate/internal/api"
	"github.com/dharsanguruparan/FileGate/internal/bootstrap"
	"github.com/dharsanguruparan/FileGate/internal/config"
	"github.com/dharsanguruparan/FileGate/internal/database"
	"github.com/dharsanguruparan/FileGate/internal/queue"
	"github.com/dharsanguruparan/FileGate/internal/repository"
	"github.com/dharsanguruparan/FileGate/internal/s3storage"
	"github.com/dharsanguruparan/FileGate/internal/signing"
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
	v, err := bootstrap.NewValidation(cfg, logger, nil)
	if err != nil {
		logger.WithError(err).Fatal("init validation")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("connect database")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.WithError(err).Fatal("ensure schema")
	}

	store, err := s3storage.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("init storage")
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logger.WithError(err).Fatal("ensure bucket")
	}

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	srv := api.New(api.Deps{
		Config:   cfg,
		Policy:   v.Policy,
		Registry: v.Registry,
		Uploads:  repository.NewUploadRepository(pool),
		Blobs:    store,
		Jobs:     queue.NewClient(client),
		Signer:   signing.NewSigner(cfg.ReceiptSecret),
		Logger:   logger,
	})
	if err := srv.Run(ctx); err != nil {
		logger.WithError(err).Error("api stopped")
		os.Exit(1)
	}
}
