package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/wqooops/report-card-comments/internal/config"
	"github.com/wqooops/report-card-comments/internal/credit"
	"github.com/wqooops/report-card-comments/internal/db"
	"github.com/wqooops/report-card-comments/internal/logger"
	"github.com/wqooops/report-card-comments/internal/storage"
)

// The expiry worker runs two maintenance sweeps on a schedule: zeroing
// credit transactions whose expiration has passed, and deleting export
// artifacts that outlived their cache window.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Get()

	log.Info().Str("version", cfg.App.Version).Msg("Starting expiry worker")

	database, err := db.NewConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	repo := db.NewRepository(database)
	ledger := credit.NewLedger(database, cfg.Credits.ExpirationDays)

	s3Storage, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize S3 storage")
	}

	schedule := cfg.Expiry.Schedule
	if schedule == "" {
		schedule = "0 2 * * *" // daily at 02:00
	}

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		now := time.Now().UTC()

		count, err := ledger.ExpireDue(ctx, now)
		if err != nil {
			log.Error().Err(err).Msg("Credit expiry sweep failed")
		} else {
			log.Info().Int("expired", count).Msg("Credit expiry sweep completed")
		}

		purgeExpiredExports(ctx, repo, s3Storage, now)
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, sweep); err != nil {
		log.Fatal().Err(err).Str("schedule", schedule).Msg("Invalid expiry schedule")
	}

	// Run once at startup so a crashed schedule never leaves stale state
	// longer than a restart.
	sweep()

	c.Start()
	log.Info().Str("schedule", schedule).Msg("Expiry schedule started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down expiry worker...")

	<-c.Stop().Done()

	log.Info().Msg("Expiry worker exited")
}

func purgeExpiredExports(ctx context.Context, repo db.Repository, store storage.Storage, now time.Time) {
	log := logger.Get()

	files, err := repo.GetExpiredBatchFiles(ctx, now, 100)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expired exports")
		return
	}

	purged := 0
	for _, file := range files {
		if err := store.Delete(ctx, file.StorageKey); err != nil {
			log.Error().Err(err).Str("storage_key", file.StorageKey).Msg("Failed to delete expired export object")
			continue
		}
		if err := repo.DeleteBatchFile(ctx, file.ID); err != nil {
			log.Error().Err(err).Str("id", file.ID).Msg("Failed to delete expired export record")
			continue
		}
		purged++
	}

	log.Info().Int("purged", purged).Msg("Export purge sweep completed")
}
