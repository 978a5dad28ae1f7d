package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wqooops/report-card-comments/internal/config"
	"github.com/wqooops/report-card-comments/internal/credit"
	"github.com/wqooops/report-card-comments/internal/db"
	"github.com/wqooops/report-card-comments/internal/logger"
	"github.com/wqooops/report-card-comments/internal/queue"
	"github.com/wqooops/report-card-comments/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Get()

	log.Info().Str("version", cfg.App.Version).Msg("Starting batch worker")

	database, err := db.NewConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	repo := db.NewRepository(database)
	ledger := credit.NewLedger(database, cfg.Credits.ExpirationDays)

	redisClient, err := queue.NewRedisClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	batchWorker := worker.NewBatchWorker(cfg, repo, ledger, redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := batchWorker.Start(ctx); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("Batch worker failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down batch worker...")

	cancel()
	batchWorker.Stop()

	log.Info().Msg("Batch worker exited")
}
