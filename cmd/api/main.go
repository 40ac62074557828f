package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"voice-transform-service/internal/api"
	"voice-transform-service/internal/assetstore"
	"voice-transform-service/internal/config"
	"voice-transform-service/internal/invoker"
	"voice-transform-service/internal/lifecycle"
	"voice-transform-service/internal/queue"
	"voice-transform-service/internal/ratelimit"
	"voice-transform-service/internal/retrieval"
	"voice-transform-service/internal/store"
	"voice-transform-service/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
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
	retrievalSvc := retrieval.New(objects, st, local)

	batchQueue := queue.NewBatchQueue(cfg)
	redisLimiter := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisLimiter, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, st, lc, pipeline, retrievalSvc, batchQueue, limiter, inv)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s (env=%s)", cfg.HTTPPort, cfg.Env)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
