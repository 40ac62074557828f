package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"voice-transform-service/internal/assetstore"
	"voice-transform-service/internal/config"
	"voice-transform-service/internal/invoker"
	"voice-transform-service/internal/lifecycle"
	"voice-transform-service/internal/queue"
	"voice-transform-service/internal/store"
	"voice-transform-service/internal/telemetry"
	"voice-transform-service/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	var objects assetstore.Store
	if cfg.S3Bucket != "" {
		s3Store, err := assetstore.NewS3(ctx, cfg)
		if err != nil {
			log.Fatalf("init object storage: %v", err)
		}
		objects = s3Store
	}
	local := assetstore.NewLocal(cfg.OutputDir)

	inv := invoker.NewHTTP(cfg.ModelBaseURL, cfg.ModelTimeout)
	lc := lifecycle.New(st)
	pipeline := worker.NewPipeline(lc, inv, objects, local)
	batchQueue := queue.NewBatchQueue(cfg)

	processor := worker.NewProcessor(cfg, batchQueue, st, pipeline)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started with visibility=%s poll=%s", cfg.VisibilityTimeout, cfg.WorkerPollInterval)
	if err := processor.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
