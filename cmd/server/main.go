// Command server runs FileGate as one process: the upload API, in-memory
// audit and blob stores, and an in-process import pool.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/FileGate/internal/api"
	"github.com/dharsanguruparan/FileGate/internal/bootstrap"
	"github.com/dharsanguruparan/FileGate/internal/config"
	"github.com/dharsanguruparan/FileGate/internal/processing"
	"github.com/dharsanguruparan/FileGate/internal/signing"
	"github.com/dharsanguruparan/FileGate/internal/storage"
	"github.com/dharsanguruparan/FileGate/internal/worker"
)

func main() {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uploads := storage.NewMemoryStore()
	blobs := storage.NewMemoryBlobs()
	importer := worker.NewImporter(blobs, uploads, v.Policy, v.Metrics, logger)
	pool := processing.New(importer, uploads, cfg.ProcessingPool, logger)
	pool.Start(ctx)

	srv := api.New(api.Deps{
		Config:   cfg,
		Policy:   v.Policy,
		Registry: v.Registry,
		Uploads:  uploads,
		Blobs:    blobs,
		Jobs:     pool,
		Signer:   signing.NewSigner(cfg.ReceiptSecret),
		Logger:   logger,
	})
	err = srv.Run(ctx)
	stop()
	pool.Wait()
	if err != nil {
		logger.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}
